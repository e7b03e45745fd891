package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

const testDebounce = 150 * time.Millisecond

type recorder struct {
	events chan Event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan Event, 16)}
}

func (r *recorder) handle(_ context.Context, ev Event) error {
	r.events <- ev
	return nil
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a run")
		return Event{}
	}
}

func (r *recorder) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected run: %+v", ev)
	case <-time.After(wait):
	}
}

func setup(t *testing.T) (dist, cfgPath string) {
	t.Helper()
	root := t.TempDir()
	dist = filepath.Join(root, "dist")
	if err := os.MkdirAll(dist, 0755); err != nil {
		t.Fatal(err)
	}
	cfgDir := filepath.Join(root, "home")
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		t.Fatal(err)
	}
	return dist, filepath.Join(cfgDir, "modelstamp.json")
}

func startWatcher(t *testing.T, ctx context.Context, opts Options) *Watcher {
	t.Helper()
	w := New(opts)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return w
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_StartStopLeaksNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	dist, cfg := setup(t)
	rec := newRecorder()
	w := startWatcher(t, context.Background(), Options{Dist: dist, ConfigPath: cfg, Debounce: testDebounce, Handler: rec.handle})
	w.Stop()
	w.Stop()

	select {
	case <-w.Done():
	default:
		t.Error("Done should be closed after Stop")
	}
}

func TestWatcher_BundleWriteTriggersRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	dist, cfg := setup(t)
	rec := newRecorder()
	w := startWatcher(t, context.Background(), Options{Dist: dist, ConfigPath: cfg, Debounce: testDebounce, Handler: rec.handle})
	defer w.Stop()

	write(t, filepath.Join(dist, "reply-abc.js"), "x")
	write(t, filepath.Join(dist, "pi-embedded-abc.js"), "x")
	write(t, filepath.Join(dist, "notes.txt"), "x")
	write(t, filepath.Join(dist, ".modelstamp-1-reply-abc.js"), "x")

	ev := rec.next(t)
	want := Event{Bundles: []string{
		filepath.Join(dist, "pi-embedded-abc.js"),
		filepath.Join(dist, "reply-abc.js"),
	}}
	if diff := cmp.Diff(want, ev); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
	if ev.Force() {
		t.Error("bundle changes alone should not force")
	}
	rec.none(t, 2*testDebounce)

	if st := w.Stats(); st.Runs != 1 {
		t.Errorf("runs = %d, want 1", st.Runs)
	}
}

func TestWatcher_ConfigWriteForcesRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	dist, cfg := setup(t)
	rec := newRecorder()
	w := startWatcher(t, context.Background(), Options{Dist: dist, ConfigPath: cfg, Debounce: testDebounce, Handler: rec.handle})
	defer w.Stop()

	write(t, filepath.Join(filepath.Dir(cfg), "other.json"), "{}")
	write(t, cfg, "{}")

	ev := rec.next(t)
	if !ev.ConfigChanged || !ev.Force() {
		t.Errorf("event = %+v, want config change", ev)
	}
	if len(ev.Bundles) != 0 {
		t.Errorf("bundles = %v, want none", ev.Bundles)
	}
}

func TestWatcher_ContextCancelStopsLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	dist, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	w := startWatcher(t, ctx, Options{Dist: dist, Debounce: testDebounce, Handler: newRecorder().handle})

	cancel()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit on cancel")
	}
	w.Stop()
}

func TestWatcher_MissingDistFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := New(Options{Dist: filepath.Join(t.TempDir(), "nope"), Handler: newRecorder().handle})
	if err := w.Start(context.Background()); err == nil {
		w.Stop()
		t.Fatal("expected error for missing dist")
	}
}

func TestWatcher_RequiresHandler(t *testing.T) {
	if err := New(Options{Dist: t.TempDir()}).Start(context.Background()); err == nil {
		t.Fatal("expected error without handler")
	}
}

func TestSettled_WaitsForQuiet(t *testing.T) {
	w := New(Options{Dist: "/d", Debounce: time.Second})
	now := time.Now()
	w.pending["/d/reply-a.js"] = now

	if _, ok := w.settled(now.Add(500 * time.Millisecond)); ok {
		t.Error("settled inside the debounce window")
	}
	ev, ok := w.settled(now.Add(time.Second))
	if !ok || len(ev.Bundles) != 1 {
		t.Fatalf("settled = %+v, %v", ev, ok)
	}
	if _, ok := w.settled(now.Add(2 * time.Second)); ok {
		t.Error("pending set should be drained")
	}
}
