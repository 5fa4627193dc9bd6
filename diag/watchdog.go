// Package diag watches a running fingerprint pass and dumps diagnostics when
// it stops making progress.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"dupescan/logger"
)

type profileWriter interface {
	WriteTo(w io.Writer, debug int) error
}

type Options struct {
	// StallThreshold is how long the completed count may stay flat before a
	// dump is written. Zero disables the watchdog.
	StallThreshold time.Duration
	Dir            string
	// Total is the number of records in the pass, reported alongside the
	// completed count.
	Total int64
	// CompletedFn reports how many records have finished.
	CompletedFn        func() int64
	DumpGoroutines     bool
	DumpFlightRecorder func(path string) error
	NowFn              func() time.Time
	ProfileLookupFn    func(name string) profileWriter
}

// Watchdog samples progress on a ticker.
type Watchdog struct {
	threshold          time.Duration
	dir                string
	total              int64
	completedFn        func() int64
	dumpGoroutines     bool
	dumpFlightRecorder func(path string) error
	nowFn              func() time.Time
	profileLookupFn    func(name string) profileWriter

	mu            sync.Mutex
	lastChangeAt  time.Time
	lastCompleted int64
	lastDumpAt    time.Time
	dumps         int

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewWatchdog(opts Options) *Watchdog {
	nowFn := opts.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	profileLookup := opts.ProfileLookupFn
	if profileLookup == nil {
		profileLookup = func(name string) profileWriter {
			if p := pprof.Lookup(name); p != nil {
				return p
			}
			return nil
		}
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}
	return &Watchdog{
		threshold:          opts.StallThreshold,
		dir:                dir,
		total:              opts.Total,
		completedFn:        opts.CompletedFn,
		dumpGoroutines:     opts.DumpGoroutines,
		dumpFlightRecorder: opts.DumpFlightRecorder,
		nowFn:              nowFn,
		profileLookupFn:    profileLookup,
	}
}

// Start begins sampling until ctx ends or Stop is called.
func (w *Watchdog) Start(ctx context.Context) {
	if w == nil || w.threshold <= 0 || w.completedFn == nil || w.stopCh != nil {
		return
	}

	w.mu.Lock()
	w.lastCompleted = w.completedFn()
	w.lastChangeAt = w.nowFn()
	w.lastDumpAt = time.Time{}
	w.mu.Unlock()

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	interval := min(max(w.threshold/2, 250*time.Millisecond), 2*time.Second)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(w.doneCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.probe(w.nowFn())
			}
		}
	}()
}

func (w *Watchdog) Stop() {
	if w == nil || w.stopCh == nil {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.stopCh = nil
	w.doneCh = nil
}

// Dumps returns how many stall dumps were written.
func (w *Watchdog) Dumps() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dumps
}

func (w *Watchdog) probe(now time.Time) {
	if w == nil || w.completedFn == nil || w.threshold <= 0 {
		return
	}
	completed := w.completedFn()

	w.mu.Lock()
	if completed != w.lastCompleted || w.lastChangeAt.IsZero() {
		w.lastCompleted = completed
		w.lastChangeAt = now
		w.mu.Unlock()
		return
	}
	if w.total > 0 && completed >= w.total {
		w.mu.Unlock()
		return
	}
	stalledFor := now.Sub(w.lastChangeAt)
	shouldDump := stalledFor >= w.threshold &&
		(w.lastDumpAt.IsZero() || now.Sub(w.lastDumpAt) >= w.threshold)
	if shouldDump {
		w.lastDumpAt = now
		w.dumps++
	}
	w.mu.Unlock()

	if !shouldDump {
		return
	}
	logger.Warnf("Fingerprinting stalled for %s at %d/%d records", stalledFor.Round(time.Millisecond), completed, w.total)
	if err := w.dump(now, completed, stalledFor); err != nil {
		logger.Warnf("Stall diagnostics dump failed: %v", err)
	}
}

func (w *Watchdog) dump(now time.Time, completed int64, stalledFor time.Duration) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	ts := now.UTC().Format("20060102-150405.000")
	event := map[string]interface{}{
		"event":        "fingerprint_stalled",
		"timestamp":    now.UTC().Format(time.RFC3339Nano),
		"completed":    completed,
		"total":        w.total,
		"threshold_ms": w.threshold.Milliseconds(),
		"stalled_ms":   stalledFor.Milliseconds(),
	}
	b, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(w.dir, fmt.Sprintf("dupescan-stall-%s.json", ts)), b, 0600); err != nil {
		return err
	}

	if w.dumpGoroutines {
		if _, err := w.writeProfile("goroutine", 2); err != nil {
			logger.Warnf("Goroutine profile dump failed: %v", err)
		}
	}
	if w.dumpFlightRecorder != nil {
		if err := w.dumpFlightRecorder(filepath.Join(w.dir, fmt.Sprintf("dupescan-flight-%s.out", ts))); err != nil {
			logger.Warnf("Flight recorder dump failed: %v", err)
		}
	}
	return nil
}

func (w *Watchdog) writeProfile(name string, debug int) (string, error) {
	profile := w.profileLookupFn(name)
	if profile == nil {
		return "", fmt.Errorf("pprof profile %q unavailable", name)
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", err
	}
	ts := w.nowFn().UTC().Format("20060102-150405.000")
	path := filepath.Join(w.dir, fmt.Sprintf("dupescan-%s-%s.pprof", name, ts))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := profile.WriteTo(f, debug); err != nil {
		return "", err
	}
	return path, nil
}
