//go:build trace

// Package tracing wraps runtime/trace. Task and region helpers compile to
// no-ops unless the binary is built with -tags trace.
package tracing

import (
	"context"
	"os"
	"runtime/trace"
)

const DefaultTraceFile = "dupescan.trace"

var traceFile *os.File

// Start writes an execution trace to path until Stop is called.
func Start(path string) error {
	if path == "" {
		path = DefaultTraceFile
	}
	var err error
	traceFile, err = os.Create(path)
	if err != nil {
		return err
	}
	return trace.Start(traceFile)
}

func Stop() {
	trace.Stop()
	if traceFile != nil {
		traceFile.Close()
		traceFile = nil
	}
}

func StartTask(ctx context.Context, name string) (context.Context, func()) {
	ctx, task := trace.NewTask(ctx, name)
	return ctx, task.End
}

func StartRegion(ctx context.Context, name string) func() {
	return trace.StartRegion(ctx, name).End
}

func Log(ctx context.Context, category, message string) {
	trace.Log(ctx, category, message)
}
