// Package merge runs a merge plan: it creates the master database, seeds
// it, and imports every declared source in order.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/lherron/fsmerge/internal/config"
	"github.com/lherron/fsmerge/internal/db"
	"github.com/lherron/fsmerge/internal/importer"
	"github.com/lherron/fsmerge/internal/logging"
	"github.com/lherron/fsmerge/internal/store"
)

// Stages reported in RunError.Stage.
const (
	StagePlan    = "plan"
	StageLock    = "lock"
	StageCreate  = "create"
	StageMigrate = "migrate"
	StageSeed    = "seed"
	StageLog     = "log"
	StageImport  = "import"
)

// ErrLocked is returned when another run holds the target lock.
var ErrLocked = errors.New("target is locked by another run")

// RunError stops a merge. Batches committed before it stay in the target.
type RunError struct {
	Stage string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("merge %s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Options tunes a run.
type Options struct {
	// Target overrides the plan's target path.
	Target string
	// Existing allows merging into a target that is already present.
	Existing bool
	// DryRun rolls back every batch after importing it.
	DryRun    bool
	ChunkSize int
	Progress  importer.Progress
}

// BatchReport is the outcome of one source.
type BatchReport struct {
	Label          string `json:"label" yaml:"label"`
	Source         string `json:"source" yaml:"source"`
	FilesystemID   int64  `json:"filesystem_id" yaml:"filesystem_id"`
	BatchID        int64  `json:"batch_id" yaml:"batch_id"`
	Prefix         string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Status         string `json:"status" yaml:"status"`
	importer.Stats `yaml:",inline"`
	Error          string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report summarizes a run. Batches lists every attempted source; sources
// after a failure are not attempted.
type Report struct {
	RunID   string        `json:"run_id" yaml:"run_id"`
	Target  string        `json:"target" yaml:"target"`
	DryRun  bool          `json:"dry_run" yaml:"dry_run"`
	Batches []BatchReport `json:"batches" yaml:"batches"`
	Pending int           `json:"pending" yaml:"pending"`
	Error   string        `json:"error,omitempty" yaml:"error,omitempty"`
	Err     error         `json:"-" yaml:"-"`
}

// Succeeded reports whether every source was imported.
func (r *Report) Succeeded() bool {
	return r.Err == nil
}

func (r *Report) fail(stage string, err error) (*Report, error) {
	r.Err = &RunError{Stage: stage, Err: err}
	r.Error = r.Err.Error()
	return r, r.Err
}

// Run executes plan. The returned Report is never nil, and carries the
// same error that is returned.
func Run(ctx context.Context, plan *config.Plan, opts Options) (*Report, error) {
	log := logging.FromContext(ctx)

	target := opts.Target
	if target == "" {
		target = plan.Target
	}
	report := &Report{Target: target, DryRun: opts.DryRun, Pending: len(plan.Sources)}
	if target == "" {
		return report.fail(StagePlan, errors.New("no target database configured"))
	}

	lock, err := Lock(target)
	if err != nil {
		return report.fail(StageLock, err)
	}
	defer lock.Unlock()

	database, seeded, stage, err := prepare(ctx, plan, target, opts.Existing)
	if err != nil {
		return report.fail(stage, err)
	}
	defer database.Close()
	log.Info().Int("filesystems", seeded.Filesystems).Int("batches", seeded.Batches).Str("target", target).Msg("seeded target")

	st := store.New(database)
	report.RunID = uuid.NewString()
	if err := st.Runs.Start(ctx, report.RunID, plan.Path()); err != nil {
		return report.fail(StageLog, err)
	}
	log = log.With().Str("run_id", report.RunID).Logger()
	ctx = logging.WithLogger(ctx, log)

	for _, src := range plan.Sources {
		spec := importer.Spec{
			Label:        src.Label,
			SourcePath:   src.Path,
			FilesystemID: src.FilesystemID,
			BatchID:      src.BatchID,
			Prefix:       src.Prefix,
			TrimLength:   src.Trim(),
			RunID:        report.RunID,
		}
		stats, err := importer.Import(ctx, st, spec, importer.Options{
			DryRun:    opts.DryRun,
			ChunkSize: opts.ChunkSize,
			Progress:  opts.Progress,
		})
		report.Pending--

		batch := BatchReport{
			Label:        src.Label,
			Source:       src.Path,
			FilesystemID: src.FilesystemID,
			BatchID:      src.BatchID,
			Prefix:       src.Prefix,
			Status:       store.ImportCommitted,
		}
		if stats != nil {
			batch.Stats = *stats
		}
		if opts.DryRun {
			batch.Status = store.ImportDryRun
		}
		if err != nil {
			batch.Status = store.ImportRolledBack
			batch.Error = err.Error()
			report.Batches = append(report.Batches, batch)
			report.fail(StageImport, err)
			break
		}
		report.Batches = append(report.Batches, batch)
	}

	status := store.RunSucceeded
	if report.Err != nil {
		status = store.RunFailed
	}
	if err := st.Runs.Finish(context.WithoutCancel(ctx), report.RunID, status, report.Error); err != nil {
		log.Warn().Err(err).Msg("failed to finish merge run")
	}
	log.Info().Str("status", status).Int("batches", len(report.Batches)).Msg("merge finished")

	return report, report.Err
}

// Init creates, migrates and seeds the target of plan without importing
// anything.
func Init(ctx context.Context, plan *config.Plan, target string, existing bool) (*store.SeedResult, error) {
	if target == "" {
		target = plan.Target
	}
	if target == "" {
		return nil, &RunError{Stage: StagePlan, Err: errors.New("no target database configured")}
	}

	lock, err := Lock(target)
	if err != nil {
		return nil, &RunError{Stage: StageLock, Err: err}
	}
	defer lock.Unlock()

	database, seeded, stage, err := prepare(ctx, plan, target, existing)
	if err != nil {
		return nil, &RunError{Stage: stage, Err: err}
	}
	database.Close()
	return seeded, nil
}

// Lock takes the exclusive lock file next to target. It fails with
// ErrLocked instead of waiting.
func Lock(target string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}
	lock := flock.New(target + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock target: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}
	return lock, nil
}

// prepare opens the target, applies migrations and seeds it. The returned
// stage names the step that failed.
func prepare(ctx context.Context, plan *config.Plan, target string, existing bool) (*db.DB, *store.SeedResult, string, error) {
	log := logging.FromContext(ctx)

	open := db.Create
	if existing {
		open = db.Open
	}
	database, err := open(target)
	if err != nil {
		return nil, nil, StageCreate, err
	}

	applied, err := database.MigrateWithInfo()
	if err != nil {
		database.Close()
		return nil, nil, StageMigrate, err
	}
	if len(applied) > 0 {
		log.Debug().Strs("migrations", applied).Msg("applied migrations")
	}

	st := store.New(database)
	seeded, err := st.Seeds.Seed(ctx, filesystemSeeds(plan), batchSeeds(plan), existing)
	if err != nil {
		database.Close()
		return nil, nil, StageSeed, err
	}
	if existing {
		drifts, err := SeedDrift(ctx, st, plan)
		if err != nil {
			database.Close()
			return nil, nil, StageSeed, err
		}
		for _, d := range drifts {
			log.Warn().Str("table", d.Table).Int64("id", d.ID).Str("field", d.Field).
				Str("want", d.Want).Str("got", d.Got).Msg("existing seed row differs from plan")
		}
	}
	return database, seeded, "", nil
}

// SeedDrift compares the filesystems and batches of plan against the rows
// stored in st.
func SeedDrift(ctx context.Context, st *store.Store, plan *config.Plan) ([]store.SeedDrift, error) {
	return st.Seeds.Drift(ctx, filesystemSeeds(plan), batchSeeds(plan))
}

func filesystemSeeds(plan *config.Plan) []store.Filesystem {
	out := make([]store.Filesystem, len(plan.Filesystems))
	for i, fs := range plan.Filesystems {
		out[i] = store.Filesystem{
			ID:         fs.ID,
			Hostname:   fs.Hostname,
			PathPrefix: fs.PathPrefix,
			InsertedAt: fs.InsertedAt,
			Comment:    fs.Comment,
		}
	}
	return out
}

func batchSeeds(plan *config.Plan) []store.Batch {
	out := make([]store.Batch, len(plan.Batches))
	for i, b := range plan.Batches {
		out[i] = store.Batch{
			ID:           b.ID,
			FilesystemID: b.FilesystemID,
			ScanStart:    b.ScanStart,
			ScanFinish:   b.ScanFinish,
		}
	}
	return out
}
