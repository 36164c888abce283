package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var askShowSources bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from an owner's documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Service.Ask(cmd.Context(), owner, strings.Join(args, " "))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, res.Answer)
		if askShowSources {
			for i, s := range res.Sources {
				fmt.Fprintf(out, "\n[%d] doc=%s chunk=%d score=%.3f\n%s\n", i+1, s.DocumentID, s.ChunkIndex, s.Score, s.Text)
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&owner, "owner", "", "Owner id whose documents are searched")
	askCmd.Flags().BoolVar(&askShowSources, "sources", false, "Print the retrieved chunks")
	rootCmd.AddCommand(askCmd)
}
