package diag

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type fakeProfileWriter struct {
	content string
}

func (f fakeProfileWriter) WriteTo(w io.Writer, debug int) error {
	_, err := io.WriteString(w, f.content)
	return err
}

func newTestWatchdog(t *testing.T, dir string, completed *int64, now time.Time) *Watchdog {
	t.Helper()
	w := NewWatchdog(Options{
		StallThreshold: 2 * time.Second,
		Dir:            dir,
		Total:          10,
		CompletedFn:    func() int64 { return *completed },
		DumpGoroutines: true,
		DumpFlightRecorder: func(path string) error {
			return os.WriteFile(path, []byte("flight"), 0600)
		},
		NowFn: func() time.Time { return now },
		ProfileLookupFn: func(name string) profileWriter {
			if name == "goroutine" {
				return fakeProfileWriter{content: "goroutine-profile"}
			}
			return nil
		},
	})
	w.lastCompleted = *completed
	w.lastChangeAt = now
	return w
}

func TestProbeDumpsOnStall(t *testing.T) {
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC)
	completed := int64(4)
	dir := t.TempDir()
	w := newTestWatchdog(t, dir, &completed, now)

	w.probe(now.Add(time.Second))
	if w.Dumps() != 0 {
		t.Fatal("should not dump before the threshold")
	}
	w.probe(now.Add(3 * time.Second))
	if w.Dumps() != 1 {
		t.Fatalf("expected one dump, got %d", w.Dumps())
	}
	w.probe(now.Add(4 * time.Second))
	if w.Dumps() != 1 {
		t.Fatal("dumps should be spaced by the threshold")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var foundStall, foundFlight, foundProfile bool
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasPrefix(name, "dupescan-stall-") && strings.HasSuffix(name, ".json"):
			foundStall = true
			data, _ := os.ReadFile(filepath.Join(dir, name))
			if !strings.Contains(string(data), `"completed": 4`) || !strings.Contains(string(data), `"total": 10`) {
				t.Fatalf("unexpected event %s", data)
			}
		case strings.HasPrefix(name, "dupescan-flight-"):
			foundFlight = true
		case strings.HasPrefix(name, "dupescan-goroutine-") && strings.HasSuffix(name, ".pprof"):
			foundProfile = true
		}
	}
	if !foundStall || !foundFlight || !foundProfile {
		t.Fatalf("missing artifacts stall=%v flight=%v profile=%v", foundStall, foundFlight, foundProfile)
	}
}

func TestProbeResetsOnProgress(t *testing.T) {
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC)
	completed := int64(1)
	w := newTestWatchdog(t, t.TempDir(), &completed, now)

	completed = 2
	w.probe(now.Add(3 * time.Second))
	w.probe(now.Add(4 * time.Second))
	if w.Dumps() != 0 {
		t.Fatalf("progress should reset the stall clock, got %d dumps", w.Dumps())
	}
}

func TestProbeIgnoresFinishedPass(t *testing.T) {
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.UTC)
	completed := int64(10)
	w := newTestWatchdog(t, t.TempDir(), &completed, now)
	w.probe(now.Add(time.Minute))
	if w.Dumps() != 0 {
		t.Fatal("a finished pass is not stalled")
	}
}

func TestWriteProfileUnavailable(t *testing.T) {
	completed := int64(0)
	w := newTestWatchdog(t, t.TempDir(), &completed, time.Now())
	if _, err := w.writeProfile("heap-missing", 0); err == nil {
		t.Fatal("expected unavailable profile to return error")
	}
}

func TestStartStopWithoutThresholdIsNoop(t *testing.T) {
	w := NewWatchdog(Options{CompletedFn: func() int64 { return 0 }})
	w.Start(t.Context())
	w.Stop()
	var nilWatchdog *Watchdog
	nilWatchdog.Start(t.Context())
	nilWatchdog.Stop()
}
