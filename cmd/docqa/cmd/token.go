package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"docqa/internal/app"
)

var tokenCmd = &cobra.Command{
	Use:   "token <owner>",
	Short: "Issue a bearer token for an owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		v, err := app.NewValidator(cfg)
		if err != nil {
			return err
		}
		tok, err := v.Issue(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
