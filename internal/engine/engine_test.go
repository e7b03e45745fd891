package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kokistudios/modelstamp/internal/alias"
	"github.com/kokistudios/modelstamp/internal/bundle"
	"github.com/kokistudios/modelstamp/internal/marker"
	"github.com/kokistudios/modelstamp/internal/patch"
	"github.com/kokistudios/modelstamp/internal/store"
	"github.com/kokistudios/modelstamp/internal/validate"
)

const replyBundle = "export function dispatchReply(cfg, agentId, text) {\n" +
	"\tconst prefixContext = { identityName: resolveIdentityName(cfg, agentId) };\n" +
	"\tconst onModelSelected = (ctx) => {\n" +
	"\t\tprefixContext.model = extractShortModelName(ctx.model);\n" +
	"\t};\n" +
	"\tconst opts = {\n" +
	"\t\tonModelSelected,\n" +
	"\t\tresponsePrefixContextProvider: () => prefixContext,\n" +
	"\t};\n" +
	"\tconst effectivePrefix = resolvePrefix(cfg, opts);\n" +
	"\tif (effectivePrefix && text && text.trim() !== HEARTBEAT_TOKEN && !text.startsWith(effectivePrefix)) text = `${effectivePrefix} ${text}`;\n" +
	"\treturn text;\n" +
	"}\n"

// checkerFunc adapts a function to validate.Checker.
type checkerFunc func(ctx context.Context, path string) error

func (f checkerFunc) Check(ctx context.Context, path string) error { return f(ctx, path) }

var okChecker = checkerFunc(func(context.Context, string) error { return nil })

func setupDist(t *testing.T, files map[string]string) string {
	t.Helper()
	dist := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dist, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dist
}

func defaultDist(t *testing.T) string {
	return setupDist(t, map[string]string{
		"reply-A1.js":             replyBundle,
		"pi-embedded-B2.js":       replyBundle,
		"subagent-registry-C3.js": replyBundle,
		"unrelated-D4.js":         "export const x = 1;\n",
	})
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), store.TempPrefix) {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestRun_SecondRunWritesNothing(t *testing.T) {
	dist := defaultDist(t)
	opts := Options{Dist: dist, Config: alias.DefaultConfig(), Checker: okChecker}

	first, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if n := first.Count(Written); n != 3 {
		t.Errorf("first run wrote %d files, want 3", n)
	}
	after := read(t, filepath.Join(dist, "reply-A1.js"))

	second, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n := second.Count(Written); n != 0 {
		t.Errorf("second run wrote %d files, want 0", n)
	}
	if n := second.Count(Skipped); n != 3 {
		t.Errorf("second run skipped %d files, want 3", n)
	}
	if read(t, filepath.Join(dist, "reply-A1.js")) != after {
		t.Error("second run changed a patched file")
	}
	scan := marker.Scan([]byte(after), patch.RequiredMarkers(bundle.ReplyPath))
	if scan.State != marker.Patched {
		t.Errorf("marker counts = %v", scan.Counts)
	}
	assertNoTempFiles(t, dist)
}

func TestRun_ValidationFailureKeepsOriginal(t *testing.T) {
	dist := defaultDist(t)
	failing := checkerFunc(func(_ context.Context, path string) error {
		if strings.Contains(filepath.Base(path), "pi-embedded") {
			return &validate.SyntaxError{Path: path, Output: "SyntaxError: Unexpected token"}
		}
		return nil
	})

	rep, err := Run(context.Background(), Options{Dist: dist, Config: alias.DefaultConfig(), Checker: failing})

	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if ExitCode(err) != ExitValidation {
		t.Errorf("exit code = %d, want %d", ExitCode(err), ExitValidation)
	}
	if len(valErr.Files) != 1 || valErr.Files[0] != "pi-embedded-B2.js" {
		t.Errorf("failed files = %v", valErr.Files)
	}
	if got := read(t, filepath.Join(dist, "pi-embedded-B2.js")); got != replyBundle {
		t.Error("reverted file is not byte-identical to the original")
	}
	if got := read(t, filepath.Join(dist, "reply-A1.js")); got == replyBundle {
		t.Error("a family that validated should still be patched")
	}
	if rep.Count(Reverted) != 1 || rep.Count(Written) != 2 {
		t.Errorf("reverted=%d written=%d", rep.Count(Reverted), rep.Count(Written))
	}
	assertNoTempFiles(t, dist)
}

func TestRun_CheckerUnavailable(t *testing.T) {
	dist := defaultDist(t)
	calls := 0
	unavailable := checkerFunc(func(context.Context, string) error {
		calls++
		return validate.ErrUnavailable
	})

	rep, err := Run(context.Background(), Options{Dist: dist, Config: alias.DefaultConfig(), Checker: unavailable})
	if err != nil {
		t.Fatalf("unavailable checker should not fail the run: %v", err)
	}
	if rep.CheckerAvailable {
		t.Error("report should record the missing checker")
	}
	if calls != 1 {
		t.Errorf("checker probed %d times, want 1", calls)
	}
	if rep.Count(Written) != 3 {
		t.Errorf("written = %d, want 3", rep.Count(Written))
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	dist := defaultDist(t)
	rep, err := Run(context.Background(), Options{Dist: dist, Config: alias.DefaultConfig(), DryRun: true, Checker: okChecker})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Count(WouldWrite) != 3 {
		t.Errorf("would-write = %d, want 3", rep.Count(WouldWrite))
	}
	if read(t, filepath.Join(dist, "reply-A1.js")) != replyBundle {
		t.Error("dry run modified a file")
	}
}

func TestRun_PartialFileListsMissingMarkers(t *testing.T) {
	dist := setupDist(t, map[string]string{
		"reply-A1.js": "// " + patch.MarkerAppendMode + "\n" + replyBundle,
	})
	rep, err := Run(context.Background(), Options{Dist: dist, Config: alias.DefaultConfig(), DryRun: true, Checker: okChecker})
	if err != nil {
		t.Fatal(err)
	}
	fr := rep.Files[0]
	if fr.State != marker.Partial {
		t.Fatalf("state = %s, want partial", fr.State)
	}
	want := strings.Join([]string{patch.MarkerIdentityShort, patch.MarkerModelCapture, patch.MarkerProviderContext}, ",")
	if got := strings.Join(fr.Missing, ","); got != want {
		t.Errorf("missing = %s, want %s", got, want)
	}
}

func TestRun_CheckOnlyValidatesCurrentFiles(t *testing.T) {
	dist := defaultDist(t)
	if _, err := Run(context.Background(), Options{Dist: dist, Config: alias.DefaultConfig(), Checker: okChecker}); err != nil {
		t.Fatal(err)
	}

	rep, err := Run(context.Background(), Options{Dist: dist, Config: alias.DefaultConfig(), CheckOnly: true, Checker: okChecker})
	if err != nil {
		t.Fatalf("healthy check failed: %v", err)
	}
	if rep.Count(Skipped) != 3 {
		t.Errorf("skipped = %d, want 3", rep.Count(Skipped))
	}

	broken := checkerFunc(func(_ context.Context, path string) error {
		return &validate.SyntaxError{Path: path}
	})
	_, err = Run(context.Background(), Options{Dist: dist, Config: alias.DefaultConfig(), CheckOnly: true, Checker: broken})
	if ExitCode(err) != ExitValidation {
		t.Errorf("exit code = %d, want %d (%v)", ExitCode(err), ExitValidation, err)
	}
}

func TestRun_Drift(t *testing.T) {
	dist := setupDist(t, map[string]string{"reply-A1.js": "export const reshaped = true;\n"})
	rep, err := Run(context.Background(), Options{Dist: dist, Config: alias.DefaultConfig(), Checker: okChecker})

	var drift *DriftError
	if !errors.As(err, &drift) {
		t.Fatalf("expected *DriftError, got %v", err)
	}
	if ExitCode(err) != ExitDrift {
		t.Errorf("exit code = %d", ExitCode(err))
	}
	if rep.Count(Unchanged) != 1 {
		t.Errorf("unchanged = %d", rep.Count(Unchanged))
	}
}

func TestRun_NoTargets(t *testing.T) {
	dist := setupDist(t, map[string]string{"chunk-A1.js": replyBundle})
	_, err := Run(context.Background(), Options{Dist: dist, Config: alias.DefaultConfig()})
	if ExitCode(err) != ExitDrift {
		t.Errorf("exit code = %d, want %d (%v)", ExitCode(err), ExitDrift, err)
	}
}

func TestRun_MissingDist(t *testing.T) {
	_, err := Run(context.Background(), Options{Dist: filepath.Join(t.TempDir(), "dist")})
	if ExitCode(err) != ExitNoPackage {
		t.Errorf("exit code = %d, want %d", ExitCode(err), ExitNoPackage)
	}
}

func TestRun_ForceRefreshesTables(t *testing.T) {
	dist := defaultDist(t)
	base := Options{Dist: dist, Config: alias.DefaultConfig(), Checker: okChecker}
	if _, err := Run(context.Background(), base); err != nil {
		t.Fatal(err)
	}

	forced := base
	forced.Force = true
	rep, err := Run(context.Background(), forced)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Count(Unchanged) != 3 {
		t.Errorf("force with unchanged tables: unchanged = %d, want 3", rep.Count(Unchanged))
	}

	forced.Config = alias.Merge(alias.DefaultConfig(), alias.Config{ModelAliases: map[string]string{"glm-6": "g6"}})
	rep, err = Run(context.Background(), forced)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Count(Written) != 3 {
		t.Errorf("force with new tables: written = %d, want 3", rep.Count(Written))
	}
	if !strings.Contains(read(t, filepath.Join(dist, "reply-A1.js")), `"glm-6":"g6"`) {
		t.Error("new alias not baked in")
	}
}

func TestRun_BackupsOnePerGeneration(t *testing.T) {
	dist := defaultDist(t)
	backups := t.TempDir()
	opts := Options{Dist: dist, Config: alias.DefaultConfig(), Checker: okChecker, BackupDir: backups}

	rep, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range rep.Files {
		if f.Action == Written && f.Backup == "" {
			t.Errorf("%s written without backup", f.Target.Name())
		}
	}
	all, _ := store.ListBackups(backups)
	if len(all) != 3 {
		t.Fatalf("backups = %d, want 3", len(all))
	}

	b, err := store.LatestBackup(backups, "reply-A1.js")
	if err != nil {
		t.Fatal(err)
	}
	data, err := store.ReadBackup(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != replyBundle {
		t.Error("backup does not hold the pre-patch bytes")
	}
}

func TestRun_ConcurrentRunsDoNotCorrupt(t *testing.T) {
	dist := defaultDist(t)
	opts := Options{Dist: dist, Config: alias.DefaultConfig(), Checker: okChecker}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Run(context.Background(), opts)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("run %d: %v", i, err)
		}
	}
	for _, name := range []string{"reply-A1.js", "pi-embedded-B2.js", "subagent-registry-C3.js"} {
		scan := marker.Scan([]byte(read(t, filepath.Join(dist, name))), patch.RequiredMarkers(bundle.ReplyPath))
		if scan.State != marker.Patched {
			t.Errorf("%s: marker counts %v", name, scan.Counts)
		}
	}
	assertNoTempFiles(t, dist)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{errors.New("boom"), ExitError},
		{&bundle.LocatorError{}, ExitNoPackage},
		{&bundle.NoTargetsError{}, ExitDrift},
		{fmt.Errorf("wrapped: %w", &DriftError{}), ExitDrift},
		{&ValidationError{Files: []string{"a"}}, ExitValidation},
		{fmt.Errorf("check: %w", ErrNotAppendMode), ExitNotAppendMode},
		{&store.ConfigError{Path: "x", Err: errors.New("bad")}, ExitError},
	}
	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
