package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/tessellate/internal/core"
	"github.com/mistakeknot/tessellate/internal/importer"
	"github.com/mistakeknot/tessellate/internal/storage/sqlite"
)

func newImportCommand() *cobra.Command {
	var (
		dbPath    string
		sourceDir string
		project   string
		batchSize int
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replay legacy session logs into the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := sqlite.New(dbPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			store := sqlite.NewResilient(base)
			defer store.Close()

			imp, err := importer.New(store, importer.Options{
				ProjectKey: project,
				BatchSize:  batchSize,
				DryRun:     dryRun,
			})
			if err != nil {
				return err
			}
			report, err := imp.Run(cmd.Context(), sourceDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintln(out, "dry run, nothing written")
			}
			fmt.Fprintf(out, "candidates:        %d\n", report.Candidates)
			fmt.Fprintf(out, "inserted:          %d\n", report.Inserted)
			fmt.Fprintf(out, "skipped invalid:   %d\n", report.SkippedInvalid)
			fmt.Fprintf(out, "skipped duplicate: %d\n", report.SkippedDuplicate)

			types := make([]string, 0, len(report.ByType))
			for t := range report.ByType {
				types = append(types, string(t))
			}
			sort.Strings(types)
			for _, t := range types {
				fmt.Fprintf(out, "  %-20s %d\n", t, report.ByType[core.EventType(t)])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "tessellate.db", "path to the database file")
	cmd.Flags().StringVar(&sourceDir, "source-directory", "", "directory of .jsonl session logs (required)")
	cmd.Flags().StringVar(&project, "project", "", "project key to import into (required)")
	cmd.Flags().IntVar(&batchSize, "batch-size", importer.DefaultBatchSize, "events per insert batch")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and summarize without writing")
	_ = cmd.MarkFlagRequired("source-directory")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
