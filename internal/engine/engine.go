// Package engine runs the patch pipeline over a host distribution:
// locate targets, skip patched files, transform, validate, then commit or
// revert each file on its own.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kokistudios/modelstamp/internal/alias"
	"github.com/kokistudios/modelstamp/internal/bundle"
	"github.com/kokistudios/modelstamp/internal/marker"
	"github.com/kokistudios/modelstamp/internal/patch"
	"github.com/kokistudios/modelstamp/internal/store"
	"github.com/kokistudios/modelstamp/internal/validate"
)

// Exit codes.
const (
	ExitOK            = 0
	ExitError         = 1
	ExitNoPackage     = 2
	ExitDrift         = 3
	ExitValidation    = 4
	ExitNotAppendMode = 5
)

// ErrNotAppendMode is returned by check-only runs when the host config does
// not select append mode.
var ErrNotAppendMode = errors.New("host config is not in append-stamp mode")

// DriftError means target files exist but none accepts or carries the
// append-mode rule.
type DriftError struct {
	Dist     string
	Patterns []string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("no bundle in %s accepts the append-mode patch; anchors have drifted", e.Dist)
}

// ValidationError lists files whose patched form failed the syntax check.
// Those files were left untouched.
type ValidationError struct {
	Files []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("syntax validation failed for %d file(s), originals kept: %s", len(e.Files), strings.Join(e.Files, ", "))
}

// ExitCode maps an error returned by this tool to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var (
		locErr *bundle.LocatorError
		noTgt  *bundle.NoTargetsError
		drift  *DriftError
		valErr *ValidationError
		synErr *validate.SyntaxError
	)
	switch {
	case errors.As(err, &locErr):
		return ExitNoPackage
	case errors.As(err, &noTgt), errors.As(err, &drift):
		return ExitDrift
	case errors.As(err, &valErr), errors.As(err, &synErr):
		return ExitValidation
	case errors.Is(err, ErrNotAppendMode):
		return ExitNotAppendMode
	default:
		return ExitError
	}
}

// Options configure one run.
type Options struct {
	Dist      string
	Config    alias.Config
	CheckOnly bool
	DryRun    bool
	Force     bool
	// Checker validates candidate files. Nil skips validation with a warning.
	Checker validate.Checker
	// BackupDir receives pre-patch copies. Empty disables backups.
	BackupDir string
	Logger    *log.Logger
	Now       func() time.Time
}

// Action is what happened to one file. Skipped files already carry every
// marker. Reverted files failed validation of their patched form; Invalid
// files failed validation as they are on disk (check-only).
type Action string

const (
	Skipped    Action = "skipped"
	Unchanged  Action = "unchanged"
	WouldWrite Action = "would-write"
	Written    Action = "written"
	Reverted   Action = "reverted"
	Invalid    Action = "invalid"
	Failed     Action = "failed"
)

// FileReport is the outcome for one target.
type FileReport struct {
	Target bundle.Target
	State  marker.State
	// Missing lists the markers absent from a partially patched file.
	Missing []string
	Rules   []patch.RuleResult
	Action  Action
	Backup  string
	Err     error
}

// Report is the outcome of a run.
type Report struct {
	Dist             string
	Files            []FileReport
	CheckerAvailable bool
}

// Count returns how many files ended with action a.
func (r *Report) Count(a Action) int {
	n := 0
	for _, f := range r.Files {
		if f.Action == a {
			n++
		}
	}
	return n
}

// Duplicated returns files that carry a marker more than once.
func (r *Report) Duplicated() []string {
	var out []string
	for _, f := range r.Files {
		if f.State == marker.Duplicated {
			out = append(out, f.Target.Path)
		}
	}
	return out
}

type runner struct {
	opts    Options
	log     *log.Logger
	report  *Report
	checker validate.Checker
}

// Run executes the pipeline. The returned report is non-nil whenever
// targets were located, even if err is set.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	set, err := bundle.Locate(opts.Dist)
	if err != nil {
		return nil, err
	}

	r := &runner{
		opts:    opts,
		log:     opts.Logger,
		report:  &Report{Dist: opts.Dist, CheckerAvailable: opts.Checker != nil},
		checker: opts.Checker,
	}
	if r.checker == nil {
		r.log.Warn("no syntax checker configured, patched files will not be validated")
	}

	carried := 0
	for _, t := range set.Targets {
		if err := ctx.Err(); err != nil {
			return r.report, err
		}
		t.RequiredMarkers = patch.RequiredMarkers(t.Family)
		fr := r.process(ctx, t)
		r.report.Files = append(r.report.Files, fr)
		if carriesAppendMode(fr) {
			carried++
		}
	}

	var reverted, failed []string
	for _, f := range r.report.Files {
		switch f.Action {
		case Reverted, Invalid:
			reverted = append(reverted, f.Target.Name())
		case Failed:
			failed = append(failed, f.Target.Name())
		}
	}
	switch {
	case len(reverted) > 0:
		return r.report, &ValidationError{Files: reverted}
	case len(failed) > 0:
		return r.report, fmt.Errorf("failed to patch %s", strings.Join(failed, ", "))
	case carried == 0:
		return r.report, &DriftError{Dist: opts.Dist, Patterns: bundle.Patterns()}
	}
	return r.report, nil
}

func carriesAppendMode(fr FileReport) bool {
	if fr.Action == Skipped {
		return true
	}
	if fr.Action == Reverted || fr.Action == Failed {
		return false
	}
	for _, rr := range fr.Rules {
		if rr.Rule == patch.RuleAppendMode {
			return rr.Status != patch.NoMatch
		}
	}
	return false
}

func (r *runner) process(ctx context.Context, t bundle.Target) FileReport {
	fr := FileReport{Target: t}
	logger := r.log.With("file", t.Name(), "family", t.Family)

	original, err := os.ReadFile(t.Path)
	if err != nil {
		fr.Action, fr.Err = Failed, fmt.Errorf("failed to read %s: %w", t.Path, err)
		logger.Error("read failed", "err", err)
		return fr
	}
	scan := marker.Scan(original, t.RequiredMarkers)
	fr.State = scan.State
	switch scan.State {
	case marker.Duplicated:
		logger.Warn("marker present more than once", "counts", scan.Counts)
	case marker.Partial:
		fr.Missing = scan.Missing(t.RequiredMarkers)
		logger.Debug("partially patched", "missing", fr.Missing)
	}

	if r.opts.CheckOnly {
		r.checkCurrent(ctx, &fr, logger)
	}

	if scan.State == marker.Patched && !r.opts.Force {
		if fr.Action == "" {
			fr.Action = Skipped
		}
		logger.Debug("already patched")
		return fr
	}

	res, err := patch.Apply(original, t.Family, r.opts.Config, r.opts.Force)
	if err != nil {
		fr.Action, fr.Err = Failed, err
		return fr
	}
	fr.Rules = res.Rules
	for _, rr := range res.Rules {
		switch {
		case rr.Status == patch.NoMatch:
			logger.Warn("rule did not match", "rule", rr.Rule, "detail", rr.Detail)
		case rr.Stale:
			logger.Warn("baked tables not refreshed", "rule", rr.Rule, "detail", rr.Detail)
		default:
			logger.Debug("rule", "rule", rr.Rule, "status", rr.Status)
		}
	}

	if fr.Action == Invalid {
		return fr
	}
	if !res.Changed {
		fr.Action = Unchanged
		return fr
	}
	if r.opts.CheckOnly || r.opts.DryRun {
		fr.Action = WouldWrite
		return fr
	}

	r.commit(ctx, &fr, original, res.Content, logger)
	return fr
}

// checkCurrent validates the file as it is on disk.
func (r *runner) checkCurrent(ctx context.Context, fr *FileReport, logger *log.Logger) {
	if r.checker == nil {
		return
	}
	err := r.checker.Check(ctx, fr.Target.Path)
	switch {
	case err == nil:
	case errors.Is(err, validate.ErrUnavailable):
		r.checkerUnavailable(logger)
	default:
		fr.Action, fr.Err = Invalid, err
		logger.Error("current file fails validation", "err", err)
	}
}

func (r *runner) checkerUnavailable(logger *log.Logger) {
	if r.checker == nil {
		return
	}
	logger.Warn("syntax checker not found, continuing without validation")
	r.checker = nil
	r.report.CheckerAvailable = false
}

// commit writes content next to the target, validates it there and renames
// it over the target. The target is never modified before validation passes.
func (r *runner) commit(ctx context.Context, fr *FileReport, original, content []byte, logger *log.Logger) {
	path := fr.Target.Path
	tmp, err := os.CreateTemp(filepath.Dir(path), store.TempPrefix+"*-"+filepath.Base(path))
	if err != nil {
		fr.Action, fr.Err = Failed, fmt.Errorf("failed to create temp file: %w", err)
		return
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		fr.Action, fr.Err = Failed, fmt.Errorf("failed to write temp file: %w", err)
		return
	}
	if err := tmp.Close(); err != nil {
		fr.Action, fr.Err = Failed, fmt.Errorf("failed to write temp file: %w", err)
		return
	}
	if err := os.Chmod(tmpPath, store.FileMode(path, 0644)); err != nil {
		fr.Action, fr.Err = Failed, fmt.Errorf("failed to set mode: %w", err)
		return
	}

	if r.checker != nil {
		err := r.checker.Check(ctx, tmpPath)
		switch {
		case err == nil:
		case errors.Is(err, validate.ErrUnavailable):
			r.checkerUnavailable(logger)
		default:
			fr.Action, fr.Err = Reverted, err
			logger.Error("patched file failed validation, original kept", "err", err)
			return
		}
	}

	if r.opts.BackupDir != "" {
		b, created, err := store.BackupBundle(r.opts.BackupDir, fr.Target.Name(), original, r.opts.Now())
		if err != nil {
			fr.Action, fr.Err = Failed, err
			logger.Error("backup failed, original kept", "err", err)
			return
		}
		fr.Backup = b.Path
		if created {
			logger.Debug("backup written", "path", b.Path)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		fr.Action, fr.Err = Failed, fmt.Errorf("failed to replace %s: %w", path, err)
		return
	}
	committed = true
	fr.Action = Written
	logger.Info("patched")
}
