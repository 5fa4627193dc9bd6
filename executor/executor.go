// Package executor fingerprints candidates on a fixed worker pool.
//
// Every record handed to Run produces exactly one Outcome. Per-record
// failures are retried according to their kind and then recorded; they never
// cancel sibling work.
package executor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"dupescan/catalog"
	"dupescan/fault"
	"dupescan/fingerprint"
	"dupescan/logger"
	"dupescan/tracing"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Outcome is the terminal result for one record. Attempts is zero only for
// a record that was never evaluated because the context ended before it
// started; its Err is then of kind canceled.
type Outcome struct {
	Record      catalog.Record
	Status      Status
	Fingerprint fingerprint.Fingerprint
	Err         *fault.Error
	Attempts    int
	Duration    time.Duration
}

func (o Outcome) Key() string { return o.Record.Key }

// ProgressSink receives completion deltas. *progressbar.ProgressBar
// satisfies it.
type ProgressSink interface {
	Add(n int) error
	Finish() error
}

const (
	DefaultWorkers        = 5
	DefaultMaxRetries     = 2
	DefaultRetryBackoff   = time.Second
	DefaultInterReadDelay = 100 * time.Millisecond
)

type Options struct {
	Workers int
	// MaxRetries is the number of attempts after the first one.
	MaxRetries     int
	RetryBackoff   time.Duration
	InterReadDelay time.Duration
	// MaxReadsPerSecond caps attempts across all workers; 0 disables it.
	MaxReadsPerSecond int
	Progress          ProgressSink
}

// DefaultOptions mirrors the command-line defaults.
func DefaultOptions() Options {
	return Options{
		Workers:        DefaultWorkers,
		MaxRetries:     DefaultMaxRetries,
		RetryBackoff:   DefaultRetryBackoff,
		InterReadDelay: DefaultInterReadDelay,
	}
}

type Executor struct {
	strategy fingerprint.Strategy
	opts     Options
	limiter  *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error

	progress progressCounter
}

func New(strategy fingerprint.Strategy, opts Options) *Executor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	e := &Executor{strategy: strategy, opts: opts, sleep: sleepCtx}
	if opts.MaxReadsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.MaxReadsPerSecond), opts.MaxReadsPerSecond)
	}
	return e
}

// Completed returns how many records have reached a terminal outcome. It
// only grows and is safe to call while Run is in progress.
func (e *Executor) Completed() int64 { return e.progress.completed.Load() }

type indexedOutcome struct {
	idx     int
	outcome Outcome
}

// Run fingerprints records and returns their outcomes in input order.
// Records never started because ctx ended get a canceled outcome with zero
// attempts.
func (e *Executor) Run(ctx context.Context, records []catalog.Record) []Outcome {
	outcomes := make([]Outcome, len(records))
	if len(records) == 0 {
		return outcomes
	}
	filled := make([]bool, len(records))

	stopProgress := e.progress.start(e.opts.Progress, e.opts.Workers)

	tasks := make(chan int, e.opts.Workers)
	results := make(chan indexedOutcome, e.opts.Workers)

	var g errgroup.Group
	g.Go(func() error {
		defer close(tasks)
		for i := range records {
			select {
			case <-ctx.Done():
				return nil
			case tasks <- i:
			}
		}
		return nil
	})
	for range e.opts.Workers {
		g.Go(func() error {
			for i := range tasks {
				results <- indexedOutcome{idx: i, outcome: e.process(ctx, records[i])}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	for r := range results {
		outcomes[r.idx] = r.outcome
		filled[r.idx] = true
		e.progress.done()
	}

	cause := ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	for i, ok := range filled {
		if ok {
			continue
		}
		rec := records[i]
		outcomes[i] = Outcome{
			Record: rec,
			Status: StatusFailed,
			Err:    fault.Classify(rec.Bucket, rec.Key, cause),
		}
		e.progress.done()
	}

	stopProgress(int64(len(records)))
	return outcomes
}

func (e *Executor) process(ctx context.Context, rec catalog.Record) Outcome {
	ctx, endTask := tracing.StartTask(ctx, "fingerprint_object")
	defer endTask()

	start := time.Now()
	out := Outcome{Record: rec}
	maxAttempts := e.opts.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.wait(ctx); err != nil {
			lastErr = err
			break
		}
		out.Attempts = attempt
		fp, err := e.strategy.Compute(ctx, rec)
		if err == nil {
			out.Status = StatusSuccess
			out.Fingerprint = fp
			out.Duration = time.Since(start)
			return out
		}
		lastErr = err
		kind := fault.KindOf(err)
		if !fault.Retryable(kind) || attempt == maxAttempts {
			break
		}
		tracing.Log(ctx, "retry", fmt.Sprintf("%s attempt %d: %s", rec.Key, attempt, kind))
		logger.WithFields(map[string]interface{}{
			"key":     rec.Key,
			"attempt": attempt,
			"kind":    string(kind),
		}).Warnf("Fingerprint failed, retrying: %v", err)
		if kind == fault.KindRead && e.opts.RetryBackoff > 0 {
			if err := e.sleep(ctx, e.opts.RetryBackoff); err != nil {
				lastErr = err
				break
			}
		}
	}

	out.Status = StatusFailed
	out.Err = fault.Classify(rec.Bucket, rec.Key, lastErr)
	out.Duration = time.Since(start)
	logger.WithFields(map[string]interface{}{
		"key":      rec.Key,
		"attempts": out.Attempts,
		"kind":     string(out.Err.Kind),
	}).Errorf("Fingerprint failed: %v", out.Err.Err)
	return out
}

// wait blocks for the inter-read delay and the shared rate limit before an
// attempt.
func (e *Executor) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.opts.InterReadDelay > 0 {
		if err := e.sleep(ctx, e.opts.InterReadDelay); err != nil {
			return err
		}
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
