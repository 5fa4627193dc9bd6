//go:build !trace

// Package tracing wraps runtime/trace. Task and region helpers compile to
// no-ops unless the binary is built with -tags trace.
package tracing

import "context"

const DefaultTraceFile = "dupescan.trace"

func Start(path string) error { return nil }

func Stop() {}

func StartTask(ctx context.Context, name string) (context.Context, func()) {
	return ctx, func() {}
}

func StartRegion(ctx context.Context, name string) func() {
	return func() {}
}

func Log(ctx context.Context, category, message string) {}
