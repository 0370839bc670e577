package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/filesyncer/internal/utils"
	"github.com/openmined/filesyncer/internal/vcs"
)

// Stages reported by StageError.
const (
	StageLock   = "lock"
	StageClone  = "clone"
	StageFetch  = "fetch"
	StageScan   = "scan"
	StageApply  = "apply"
	StageCommit = "commit"
	StagePush   = "push"
)

type State int

const (
	StateIdle State = iota
	StateScanned
	StateDiffed
	StateApplied
	StateCommitted
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanned:
		return "scanned"
	case StateDiffed:
		return "diffed"
	case StateApplied:
		return "applied"
	case StateCommitted:
		return "committed"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Report summarizes a finished run, successful or not.
type Report struct {
	RunID   string
	Mode    SyncMode
	State   State
	Changes *ChangeSet
	// Protected lists deletions dropped because the source file exists but could
	// not be read.
	Protected []string
	Message   CommitMessage
	Committed bool
	Pushed    bool
	Warnings  []error
	Elapsed   time.Duration
}

// Orchestrator runs a single push or pull between a local folder and a working
// copy. An Orchestrator is single use.
type Orchestrator struct {
	cfg      SyncConfig
	backend  vcs.Backend
	codec    Codec
	messages *CommitMessageGenerator
	state    State
	log      *slog.Logger
}

func New(cfg SyncConfig, backend vcs.Backend) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if cfg.Remote.Branch == "" {
		cfg.Remote.Branch = vcs.DefaultBranch
	}

	codec, err := NewCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:      cfg,
		backend:  backend,
		codec:    codec,
		messages: NewCommitMessageGenerator(cfg.MaxListedPaths),
		state:    StateIdle,
		log:      slog.Default(),
	}, nil
}

func (o *Orchestrator) State() State {
	return o.state
}

// Run performs the sync. Fatal errors are *StageError; per-file problems end up
// in Report.Warnings.
func (o *Orchestrator) Run(ctx context.Context) (report *Report, err error) {
	if o.state != StateIdle {
		return nil, fmt.Errorf("sync already ran, state %s", o.state)
	}

	tStart := time.Now()
	runID := uuid.NewString()
	o.log = slog.With("run", runID[:8], "mode", o.cfg.Mode)
	report = &Report{RunID: runID, Mode: o.cfg.Mode}

	defer func() {
		if err != nil {
			o.state = StateFailed
			o.log.Error("sync failed", "error", err)
		}
		report.State = o.state
		report.Elapsed = time.Since(tStart)
	}()

	o.log.Info("sync start",
		"local", o.cfg.LocalRoot,
		"repo", utils.RedactURL(o.cfg.Remote.URL),
		"branch", o.cfg.Remote.Branch,
		"workdir", o.cfg.WorkingCopyRoot,
		"compression", o.cfg.Compression.String(),
	)

	lock := NewWorkingCopyLock(o.cfg.WorkingCopyRoot)
	if err := lock.Acquire(); err != nil {
		return report, &StageError{Stage: StageLock, Err: err}
	}
	defer func() {
		if err := lock.Release(); err != nil {
			o.log.Warn("failed to release working copy lock", "path", lock.Path(), "error", err)
		}
	}()

	remote := o.cfg.Remote
	remote.CreateBranch = o.cfg.Mode == ModePush

	var wc *vcs.WorkingCopy
	err = o.callBackend(ctx, vcs.StageClone, func(ctx context.Context) error {
		var err error
		wc, err = o.backend.CloneOrOpen(ctx, remote, o.cfg.WorkingCopyRoot)
		return err
	})
	if err != nil {
		return report, &StageError{Stage: StageClone, Err: err}
	}

	err = o.callBackend(ctx, vcs.StageFetch, func(ctx context.Context) error {
		return o.backend.FetchLatest(ctx, wc)
	})
	if err != nil {
		return report, &StageError{Stage: StageFetch, Err: err}
	}

	source, destination, err := o.scan(ctx, wc.Root)
	if err != nil {
		return report, &StageError{Stage: StageScan, Err: err}
	}
	report.Warnings = append(report.Warnings, source.Warnings()...)
	report.Warnings = append(report.Warnings, destination.Warnings()...)
	o.state = StateScanned

	changes := Diff(source, destination)
	report.Protected = changes.Protect(source.Unreadable()...)
	report.Changes = changes
	o.state = StateDiffed

	for _, path := range report.Protected {
		o.log.Warn("keeping file that could not be read from source", "path", path)
	}
	o.log.Info("sync diff",
		"source", source.Len(),
		"destination", destination.Len(),
		"added", len(changes.Added),
		"modified", len(changes.Modified),
		"deleted", changes.Deleted.Cardinality(),
	)

	srcRoot, dstRoot := o.cfg.LocalRoot, wc.Root
	if o.cfg.Mode == ModePull {
		srcRoot, dstRoot = wc.Root, o.cfg.LocalRoot
	}
	warnings, err := o.apply(ctx, changes, source, srcRoot, dstRoot)
	report.Warnings = append(report.Warnings, warnings...)
	if err != nil {
		return report, &StageError{Stage: StageApply, Err: err}
	}
	o.state = StateApplied

	if o.cfg.Mode == ModePull {
		o.state = StateDone
		o.log.Info("sync done", "changes", changes.Len(), "warnings", len(report.Warnings), "elapsed", time.Since(tStart))
		return report, nil
	}

	report.Message = o.messages.Generate(changes)
	if changes.IsEmpty() {
		o.state = StateDone
		o.log.Info("No changes to push", "elapsed", time.Since(tStart))
		return report, nil
	}

	err = o.callBackend(ctx, vcs.StageCommit, func(ctx context.Context) error {
		return o.backend.Commit(ctx, wc, report.Message.String())
	})
	if errors.Is(err, vcs.ErrNothingToCommit) {
		// every write failed or produced identical bytes
		o.state = StateDone
		o.log.Warn("sync done, working copy unchanged", "warnings", len(report.Warnings))
		return report, nil
	} else if err != nil {
		return report, &StageError{Stage: StageCommit, Err: err}
	}
	report.Committed = true
	o.state = StateCommitted
	o.log.Info("sync commit", "subject", report.Message.Subject)

	err = o.callBackend(ctx, vcs.StagePush, func(ctx context.Context) error {
		return o.backend.Push(ctx, wc)
	})
	if err != nil {
		return report, &StageError{Stage: StagePush, Err: err}
	}
	report.Pushed = true
	o.state = StateDone

	o.log.Info("sync done", "changes", changes.Len(), "warnings", len(report.Warnings), "elapsed", time.Since(tStart))
	return report, nil
}

// scan returns the source and destination snapshots for the configured mode.
func (o *Orchestrator) scan(ctx context.Context, wcRoot string) (*Snapshot, *Snapshot, error) {
	ignore := LoadIgnoreList(o.cfg.LocalRoot, o.cfg.Ignore...)

	local := NewScanner(ScanOptions{Workers: o.cfg.Workers, Ignore: ignore})
	stored := NewScanner(ScanOptions{Workers: o.cfg.Workers, Ignore: ignore, Stored: true})

	if o.cfg.Mode == ModePull {
		if err := utils.EnsureDir(o.cfg.LocalRoot); err != nil {
			return nil, nil, fmt.Errorf("create local root: %w", err)
		}
	}

	localSnap, err := local.Scan(ctx, o.cfg.LocalRoot)
	if err != nil {
		return nil, nil, err
	}
	storedSnap, err := stored.Scan(ctx, wcRoot)
	if err != nil {
		return nil, nil, err
	}

	if o.cfg.Mode == ModePush {
		return localSnap, storedSnap, nil
	}
	return storedSnap, localSnap, nil
}

// callBackend bounds fn with the configured timeout. A call cut short by the
// timeout fails with a *vcs.BackendError wrapping context.DeadlineExceeded.
func (o *Orchestrator) callBackend(ctx context.Context, stage string, fn func(context.Context) error) error {
	if o.cfg.BackendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.BackendTimeout)
		defer cancel()
	}

	err := fn(ctx)
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		o.log.Debug("backend call timed out", "stage", stage, "error", err)
		return &vcs.BackendError{
			Stage: stage,
			Err:   fmt.Errorf("timed out after %s: %w", o.cfg.BackendTimeout, context.DeadlineExceeded),
		}
	}

	var be *vcs.BackendError
	if !errors.As(err, &be) {
		err = &vcs.BackendError{Stage: stage, Err: err}
	}
	return err
}
