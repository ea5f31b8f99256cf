package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clawguard/clawguard/pkg/logger"
	"github.com/clawguard/clawguard/pkg/telemetry"
	"github.com/clawguard/clawguard/pkg/version"
)

var tracerShutdown func(context.Context) error

// Exit codes map to the scan recommendation; 4 is reserved for parse
// and internal failures.
const (
	exitPass    = 0
	exitCaution = 1
	exitReview  = 2
	exitBlock   = 3
	exitError   = 4
)

func init() {
	viper.SetEnvPrefix("CLAWGUARD")
	viper.AutomaticEnv()

	viper.SetDefault("model", "claude-sonnet-4-5")
	viper.SetDefault("semantic_timeout_ms", 30000)
	viper.SetDefault("rules_dir", "")
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("max_workers", 0)
	viper.SetDefault("tracing", false)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.clawguard")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clawguard",
		Short: "Security scanner for AI-agent skill packages",
		Long: `ClawGuard analyzes a skill package (a directory with a SKILL.md
manifest plus optional scripts) for prompt injection, credential
harvesting, obfuscated payloads and other hostile patterns, and
produces a weighted trust score with a PASS/CAUTION/REVIEW/BLOCK
recommendation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.SetLogLevel(viper.GetString("log_level")); err != nil {
				return err
			}
			shutdown, err := telemetry.InitTracer(cmd.Context(), telemetry.Config{
				Enabled:        viper.GetBool("tracing"),
				ServiceName:    "clawguard",
				ServiceVersion: version.Get().Version,
			})
			if err != nil {
				return err
			}
			tracerShutdown = shutdown
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if tracerShutdown != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tracerShutdown(ctx)
			}
		},
	}

	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newRulesCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit *exitCodeError
		if ok := asExitError(err, &exit); ok {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
}
