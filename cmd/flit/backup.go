package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flitapp/flit-sync/internal/backup"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the local store as JSONL",
	Long: `Writes every capture and derived entity as JSONL, one record per
line. With no file, writes to stdout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		out := os.Stdout
		if len(args) == 1 {
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create export file: %w", err)
			}
			defer f.Close()
			out = f
		}

		result, err := backup.Export(ctx, a.db, out)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported %d records (%d captures)\n",
			result.Total(), result.Captures)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a JSONL export",
	Long: `Reads records written by export and upserts them into the local
store. With no file, reads from stdin. Imported changes sync to your
account on the next push.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		in := os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open import file: %w", err)
			}
			defer f.Close()
			in = f
		}

		result, err := backup.Import(ctx, a.db, in)
		if err != nil {
			return err
		}
		fmt.Printf("Imported %d records (%d captures)\n",
			result.Total(), result.Captures)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd, importCmd)
}
