package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clawguard/clawguard/pkg/presenter"
	"github.com/clawguard/clawguard/pkg/rules"
)

func newRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the loaded detection rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			library, err := rules.Load(viper.GetString("rules_dir"))
			if err != nil {
				return err
			}

			byCategory := make(map[string][]string)
			for _, r := range library.Rules() {
				key := string(r.Category)
				byCategory[key] = append(byCategory[key],
					fmt.Sprintf("%-30s %-8s %s", r.ID, r.Severity, r.Description))
			}
			presenter.New().Rules(byCategory)
			return nil
		},
	}
}
