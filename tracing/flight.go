package tracing

import (
	"os"
	"runtime/trace"
	"sync"
	"time"
)

const (
	DefaultFlightMaxBytes = 16 << 20
	DefaultFlightMinAge   = 10 * time.Second
)

var (
	flightMu       sync.Mutex
	flightRecorder *trace.FlightRecorder
)

// StartFlightRecorder keeps a rolling in-memory trace window that stall
// diagnostics can dump on demand. Zero values pick the defaults.
func StartFlightRecorder(maxBytes uint64, minAge time.Duration) error {
	if maxBytes == 0 {
		maxBytes = DefaultFlightMaxBytes
	}
	if minAge <= 0 {
		minAge = DefaultFlightMinAge
	}
	flightMu.Lock()
	defer flightMu.Unlock()
	if flightRecorder != nil {
		return nil
	}
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{MaxBytes: maxBytes, MinAge: minAge})
	if err := fr.Start(); err != nil {
		return err
	}
	flightRecorder = fr
	return nil
}

func StopFlightRecorder() {
	flightMu.Lock()
	defer flightMu.Unlock()
	if flightRecorder != nil {
		flightRecorder.Stop()
		flightRecorder = nil
	}
}

// WriteFlightRecorder writes the current window to path. It does nothing
// when the recorder is off.
func WriteFlightRecorder(path string) error {
	flightMu.Lock()
	defer flightMu.Unlock()
	if flightRecorder == nil || !flightRecorder.Enabled() {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = flightRecorder.WriteTo(f)
	return err
}
