package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clawguard/clawguard/pkg/analyzer"
	"github.com/clawguard/clawguard/pkg/presenter"
	"github.com/clawguard/clawguard/pkg/scanner"
	"github.com/clawguard/clawguard/pkg/scoring"
)

// exitCodeError carries a process exit code through cobra's error
// return.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string { return "" }

func asExitError(err error, target **exitCodeError) bool {
	return errors.As(err, target)
}

func recommendationExitCode(rec scoring.Recommendation) int {
	switch rec {
	case scoring.RecommendationPass:
		return exitPass
	case scoring.RecommendationCaution:
		return exitCaution
	case scoring.RecommendationReview:
		return exitReview
	default:
		return exitBlock
	}
}

func newScanCmd() *cobra.Command {
	var (
		noLLM      bool
		jsonOutput bool
		outputFile string
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "scan <path>",
		Short: "Scan a skill package directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pres := presenter.New()
			pres.SetQuiet(quiet)

			apiKey := os.Getenv("ANTHROPIC_API_KEY")
			sc, err := scanner.New(scanner.Config{
				RulesDir:       viper.GetString("rules_dir"),
				EnableSemantic: !noLLM && apiKey != "",
				Semantic: analyzer.SemanticConfig{
					APIKey:  apiKey,
					Model:   viper.GetString("model"),
					Timeout: time.Duration(viper.GetInt("semantic_timeout_ms")) * time.Millisecond,
				},
				MaxWorkers: viper.GetInt("max_workers"),
			})
			if err != nil {
				pres.Error(err, "loading rules")
				return &exitCodeError{code: exitError}
			}

			rep, err := sc.Scan(ctx, args[0])
			if err != nil {
				pres.Error(err, "scanning "+args[0])
				return &exitCodeError{code: exitError}
			}

			if jsonOutput || outputFile != "" {
				data, err := json.MarshalIndent(rep, "", "  ")
				if err != nil {
					pres.Error(err, "encoding report")
					return &exitCodeError{code: exitError}
				}
				if outputFile != "" {
					if err := os.WriteFile(outputFile, append(data, '\n'), 0o644); err != nil {
						pres.Error(err, "writing "+outputFile)
						return &exitCodeError{code: exitError}
					}
				}
				if jsonOutput {
					cmd.OutOrStdout().Write(append(data, '\n'))
				}
			}
			if !jsonOutput {
				pres.Report(rep)
			}

			if code := recommendationExitCode(rep.Score.Recommendation); code != exitPass {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noLLM, "no-llm", false, "disable the semantic (LLM) analyzer")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the report as JSON on stdout")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the JSON report to a file")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print only the score and recommendation")
	return cmd
}
