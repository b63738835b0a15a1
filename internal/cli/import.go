package cli

import (
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/lherron/fsmerge/internal/cli/appctx"
	"github.com/lherron/fsmerge/internal/importer"
	"github.com/lherron/fsmerge/internal/merge"
	"github.com/lherron/fsmerge/internal/progress"
	"github.com/lherron/fsmerge/internal/store"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import one source database as a batch of an existing target",
	Long: `Import reads one source database and writes it as a single batch of the
master database. The filesystem and batch must already be seeded (see
'fsmerge init'), and the batch must not hold any rows yet.

--prefix restricts the import to rows whose relative path starts with the
prefix. --trim removes that many characters from each path; it defaults to
the length of the prefix.`,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runImport),
}

var (
	importSource     string
	importLabel      string
	importFilesystem int64
	importBatch      int64
	importPrefix     string
	importTrim       int
	importDryRun     bool
	importOutput     string
	importChunkSize  int
)

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVar(&importSource, "source", "", "Source database path")
	importCmd.Flags().StringVar(&importLabel, "label", "", "Label used in logs and the summary")
	importCmd.Flags().Int64Var(&importFilesystem, "filesystem", 0, "Filesystem id")
	importCmd.Flags().Int64Var(&importBatch, "batch", 0, "Batch id")
	importCmd.Flags().StringVar(&importPrefix, "prefix", "", "Only import paths starting with this prefix")
	importCmd.Flags().IntVar(&importTrim, "trim", -1, "Characters to trim from each path (default: prefix length)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Import and roll back")
	importCmd.Flags().StringVarP(&importOutput, "output", "o", "", "Output format: table, json, yaml, tsv")
	importCmd.Flags().IntVar(&importChunkSize, "chunk-size", 0, "Rows per INSERT statement")
}

func runImport(app *appctx.App, cmd *cobra.Command, args []string) error {
	if importSource == "" {
		return fmt.Errorf("source database path not specified (use --source)")
	}
	if importFilesystem <= 0 || importBatch <= 0 {
		return fmt.Errorf("--filesystem and --batch are required")
	}
	format, err := outputFormat(app.Config, importOutput, false, false)
	if err != nil {
		return err
	}

	trim := importTrim
	if trim < 0 {
		trim = utf8.RuneCountInString(importPrefix)
	}

	lock, err := merge.Lock(app.Config.TargetPath)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	spec := importer.Spec{
		Label:        importLabel,
		SourcePath:   importSource,
		FilesystemID: importFilesystem,
		BatchID:      importBatch,
		Prefix:       importPrefix,
		TrimLength:   trim,
	}
	stats, importErr := importer.Import(app.Ctx, app.Store, spec, importer.Options{
		DryRun:    importDryRun,
		ChunkSize: importChunkSize,
		Progress:  progress.New(os.Stderr),
	})

	batch := merge.BatchReport{
		Label:        importLabel,
		Source:       importSource,
		FilesystemID: importFilesystem,
		BatchID:      importBatch,
		Prefix:       importPrefix,
		Status:       store.ImportCommitted,
	}
	if batch.Label == "" {
		batch.Label = importSource
	}
	if stats != nil {
		batch.Stats = *stats
	}
	if importDryRun {
		batch.Status = store.ImportDryRun
	}
	if importErr != nil {
		batch.Status = store.ImportRolledBack
		batch.Error = importErr.Error()
	}

	report := &merge.Report{
		Target:  app.Config.TargetPath,
		DryRun:  importDryRun,
		Batches: []merge.BatchReport{batch},
		Error:   batch.Error,
		Err:     importErr,
	}
	if err := writeSummary(cmd.OutOrStdout(), format, report); err != nil {
		return errors.Join(importErr, fmt.Errorf("failed to print summary: %w", err))
	}
	return importErr
}
