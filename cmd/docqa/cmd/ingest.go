package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"docqa/internal/service"
)

var ingestTitle string

var ingestCmd = &cobra.Command{
	Use:   "ingest <files...>",
	Short: "Upload and index files",
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

		out := cmd.OutOrStdout()
		var failed int
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			title := ingestTitle
			if title == "" {
				title = filepath.Base(path)
			}
			res, err := a.Service.Upload(cmd.Context(), service.UploadRequest{
				OwnerID:  owner,
				Title:    title,
				FileName: filepath.Base(path),
				Data:     data,
			})
			if err != nil {
				failed++
				var ie *service.IngestError
				if errors.As(err, &ie) {
					fmt.Fprintf(out, "%s: stopped at chunk %d, %d chunks kept (document %s): %v\n", path, ie.Index, res.Chunks, res.Document.ID, err)
				} else {
					fmt.Fprintf(out, "%s: %v\n", path, err)
				}
				continue
			}
			fmt.Fprintf(out, "%s: document %s, %d chunks\n", path, res.Document.ID, res.Chunks)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&owner, "owner", "", "Owner id of the documents")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "Document title (defaults to the file name)")
	rootCmd.AddCommand(ingestCmd)
}
