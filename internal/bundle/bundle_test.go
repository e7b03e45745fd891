package bundle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("//"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLocate(t *testing.T) {
	dist := t.TempDir()
	for _, name := range []string{
		"reply-B2.js", "reply-A1.js", "pi-embedded-x9.js", "subagent-registry-q.js",
		"other-1.js", ".modelstamp-123-reply-A1.js", "reply-A1.js.map",
	} {
		touch(t, filepath.Join(dist, name))
	}

	set, err := Locate(dist)
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	var got []string
	for _, tg := range set.Targets {
		got = append(got, string(tg.Family)+":"+tg.Name())
	}
	want := []string{
		"reply-path:reply-A1.js",
		"reply-path:reply-B2.js",
		"embedded-runtime:pi-embedded-x9.js",
		"subagent-registry:subagent-registry-q.js",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
	if n := len(set.ByFamily(ReplyPath)); n != 2 {
		t.Errorf("expected 2 reply-path targets, got %d", n)
	}
}

func TestLocate_NoTargets(t *testing.T) {
	dist := t.TempDir()
	touch(t, filepath.Join(dist, "renamed-chunk-1.js"))

	_, err := Locate(dist)
	var nt *NoTargetsError
	if !errors.As(err, &nt) {
		t.Fatalf("expected *NoTargetsError, got %v", err)
	}
	if diff := cmp.Diff(Patterns(), nt.Patterns); diff != "" {
		t.Errorf("patterns mismatch (-want +got):\n%s", diff)
	}
	for _, p := range Patterns() {
		if !strings.Contains(err.Error(), p) {
			t.Errorf("error should list pattern %s: %v", p, err)
		}
	}
}

func TestLocate_MissingDist(t *testing.T) {
	_, err := Locate(filepath.Join(t.TempDir(), "dist"))
	var le *LocatorError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LocatorError, got %v", err)
	}
}

func noGlobalRoot(context.Context, string) (string, error) {
	return "", errors.New("command not found")
}

func TestResolvePackageDir_ExplicitDir(t *testing.T) {
	pkg := t.TempDir()
	if _, err := ResolvePackageDir(context.Background(), ResolveOptions{PkgDir: pkg}); err == nil {
		t.Error("expected error for a package without dist")
	}
	touch(t, filepath.Join(pkg, "dist", "reply-1.js"))
	got, err := ResolvePackageDir(context.Background(), ResolveOptions{PkgDir: pkg})
	if err != nil || got != pkg {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestResolvePackageDir_FollowsSymlinkedExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks")
	}
	root := t.TempDir()
	pkg := filepath.Join(root, "lib", "node_modules", "openclaw")
	touch(t, filepath.Join(pkg, "dist", "reply-abc.js"))
	touch(t, filepath.Join(pkg, "bin", "openclaw.mjs"))
	binDir := filepath.Join(root, "bin")
	os.MkdirAll(binDir, 0755)
	link := filepath.Join(binDir, "openclaw")
	if err := os.Symlink(filepath.Join(pkg, "bin", "openclaw.mjs"), link); err != nil {
		t.Fatal(err)
	}

	got, err := ResolvePackageDir(context.Background(), ResolveOptions{
		Executables: []string{link},
		GlobalRoot:  noGlobalRoot,
	})
	if err != nil {
		t.Fatalf("ResolvePackageDir failed: %v", err)
	}
	want, _ := filepath.EvalSymlinks(pkg)
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestResolvePackageDir_GlobalRoot(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "openclaw", "dist", "pi-embedded-1.js"))

	got, err := ResolvePackageDir(context.Background(), ResolveOptions{
		Executables: []string{},
		GlobalRoot: func(_ context.Context, manager string) (string, error) {
			if manager == "npm" {
				return "", errors.New("command not found")
			}
			return root, nil
		},
	})
	if err != nil {
		t.Fatalf("ResolvePackageDir failed: %v", err)
	}
	if got != filepath.Join(root, "openclaw") {
		t.Errorf("got %s", got)
	}
}

func TestResolvePackageDir_DriftedDistIsReturned(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "openclaw", "dist", "chunk-1.js"))

	got, err := ResolvePackageDir(context.Background(), ResolveOptions{
		Executables: []string{},
		GlobalRoot:  func(context.Context, string) (string, error) { return root, nil },
	})
	if err != nil {
		t.Fatalf("expected drifted package to be returned, got %v", err)
	}
	if _, err := Locate(DistDir(got)); err == nil {
		t.Error("expected the returned package to have no targets")
	}
}

func TestResolvePackageDir_NotFound(t *testing.T) {
	_, err := ResolvePackageDir(context.Background(), ResolveOptions{
		Executables: []string{filepath.Join(t.TempDir(), "missing")},
		GlobalRoot:  noGlobalRoot,
	})
	var le *LocatorError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LocatorError, got %v", err)
	}
	if len(le.Tried) != 3 {
		t.Errorf("expected one entry per attempt, got %v", le.Tried)
	}
}

func TestFamilyStem(t *testing.T) {
	tests := []struct{ in, want string }{
		{"reply-Ab12.js", "reply-*.js"},
		{"pi-embedded-x9.js", "pi-embedded-*.js"},
		{"index.js", "index.js"},
	}
	for _, tt := range tests {
		if got := FamilyStem(tt.in); got != tt.want {
			t.Errorf("FamilyStem(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDriftReport(t *testing.T) {
	pkg := t.TempDir()
	dist := DistDir(pkg)
	touch(t, filepath.Join(dist, "dispatch-a1.js"))
	touch(t, filepath.Join(dist, "dispatch-b2.js"))
	os.WriteFile(filepath.Join(pkg, "package.json"), []byte(`{"name":"openclaw","version":"2026.3.1"}`), 0644)

	report := DriftReport(pkg, dist, Patterns())
	for _, want := range []string{"2026.3.1", "`reply-*.js`", "`dispatch-*.js`: dispatch-a1.js, dispatch-b2.js"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestPackageVersion_Unknown(t *testing.T) {
	if got := PackageVersion(t.TempDir()); got != "unknown" {
		t.Errorf("got %q", got)
	}
}
