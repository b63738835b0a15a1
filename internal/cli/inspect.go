package cli

import (
	"fmt"
	"io"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"

	"github.com/lherron/fsmerge/internal/cli/appctx"
	"github.com/lherron/fsmerge/internal/render"
	"github.com/lherron/fsmerge/internal/store"
	"github.com/lherron/fsmerge/internal/transform"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show a file row with its provenance and issues",
	Long: `Inspect prints one or more file rows of the master database, selected by
corrected path (--path) or row id (--id). Each row is shown with its
original escaped path and hashes, the transform issues recorded for it,
and a diff between the original and the corrected path.`,
	RunE: appctx.WithApp(appctx.DefaultOptions(), runInspect),
}

var (
	inspectPath   string
	inspectID     int64
	inspectOutput string
)

type inspection struct {
	File           *store.File   `json:"file" yaml:"file"`
	MTime          string        `json:"mtime,omitempty" yaml:"mtime,omitempty"`
	ContentHash    string        `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`
	ContentHashHex string        `json:"content_hash_hex,omitempty" yaml:"content_hash_hex,omitempty"`
	Issues         []store.Issue `json:"issues" yaml:"issues"`
	PathDiff       string        `json:"path_diff,omitempty" yaml:"path_diff,omitempty"`
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVar(&inspectPath, "path", "", "Corrected path to look up")
	inspectCmd.Flags().Int64Var(&inspectID, "id", 0, "File row id")
	inspectCmd.Flags().StringVarP(&inspectOutput, "output", "o", "", "Output format: table, json, yaml")
}

func runInspect(app *appctx.App, cmd *cobra.Command, args []string) error {
	if (inspectPath == "") == (inspectID == 0) {
		return fmt.Errorf("exactly one of --path or --id is required")
	}
	format, err := outputFormat(app.Config, inspectOutput, false, false)
	if err != nil {
		return err
	}

	var files []*store.File
	if inspectID != 0 {
		f, err := app.Store.Files.Get(app.Ctx, inspectID)
		if err != nil {
			return err
		}
		files = []*store.File{f}
	} else {
		files, err = app.Store.Files.FindByPath(app.Ctx, inspectPath)
		if err != nil {
			return err
		}
	}

	results := make([]inspection, 0, len(files))
	for _, f := range files {
		issues, err := app.Store.Files.Issues(app.Ctx, f.ID)
		if err != nil {
			return err
		}
		res := inspection{File: f, Issues: issues, PathDiff: pathDiff(f)}
		if f.MTime.Valid {
			res.MTime = f.MTime.String + " " + f.MTimeTZ.String
		}
		if f.ContentHash.Valid {
			res.ContentHash = f.ContentHash.String
			res.ContentHashHex, _ = transform.DecodeHash(f.ContentHash.String)
		}
		results = append(results, res)
	}

	r := render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format})
	if r.Structured() {
		return r.Render(results, nil, nil)
	}
	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		printInspection(cmd.OutOrStdout(), res)
	}
	return nil
}

// pathDiff returns a unified diff from the original escaped path to the
// stored path, or "" when they are equal.
func pathDiff(f *store.File) string {
	if f.OrigPathEscaped == f.Path {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        []string{f.OrigPathEscaped + "\n"},
		B:        []string{f.Path + "\n"},
		FromFile: "orig_path_escaped",
		ToFile:   "path",
		Context:  0,
	})
	if err != nil {
		return ""
	}
	return diff
}

func printInspection(w io.Writer, res inspection) {
	f := res.File
	fmt.Fprintf(w, "File %d (filesystem %d, batch %d)\n", f.ID, f.FilesystemID, f.BatchID)
	fmt.Fprintf(w, "  path:          %s\n", f.Path)
	fmt.Fprintf(w, "  path_hash:     %s\n", f.PathHash)
	fmt.Fprintf(w, "  size:          %d\n", f.Size)
	if res.MTime != "" {
		fmt.Fprintf(w, "  mtime:         %s\n", res.MTime)
	}
	if res.ContentHash != "" {
		fmt.Fprintf(w, "  content_hash:  %s (%s)\n", res.ContentHash, res.ContentHashHex)
	} else {
		fmt.Fprintf(w, "  content_hash:  NULL (original %q)\n", f.OrigContentHashHex)
	}
	fmt.Fprintf(w, "  xattrs:        %s\n", f.XAttrs)
	fmt.Fprintf(w, "  orig path:     %s\n", f.OrigPathEscaped)
	fmt.Fprintf(w, "  orig path nl:  %s\n", f.OrigPathNLHashHex)

	if len(res.Issues) > 0 {
		fmt.Fprintln(w, "Issues:")
		for _, is := range res.Issues {
			fmt.Fprintf(w, "  %s %q: %s\n", is.Step, is.Input, is.Message)
		}
	}
	if res.PathDiff != "" {
		fmt.Fprintln(w, "Path diff:")
		fmt.Fprint(w, res.PathDiff)
	}
}
