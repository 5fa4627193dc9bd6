package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dupescan/catalog"
	"dupescan/fault"
	"dupescan/fingerprint"
	"dupescan/objstore"
)

type funcStrategy func(ctx context.Context, rec catalog.Record) (fingerprint.Fingerprint, error)

func (f funcStrategy) Name() string { return "func" }

func (f funcStrategy) Compute(ctx context.Context, rec catalog.Record) (fingerprint.Fingerprint, error) {
	return f(ctx, rec)
}

type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) count(d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == d {
			n++
		}
	}
	return n
}

func newTestExecutor(strategy fingerprint.Strategy, opts Options) (*Executor, *sleepRecorder) {
	e := New(strategy, opts)
	rec := &sleepRecorder{}
	e.sleep = rec.sleep
	return e, rec
}

func makeRecords(n int) []catalog.Record {
	recs := make([]catalog.Record, n)
	for i := range recs {
		recs[i] = catalog.Record{Bucket: "b", Key: fmt.Sprintf("k%03d", i), Size: int64(i + 1)}
	}
	return recs
}

func TestRunProducesOneOutcomePerRecord(t *testing.T) {
	var calls atomic.Int64
	strategy := funcStrategy(func(_ context.Context, rec catalog.Record) (fingerprint.Fingerprint, error) {
		calls.Add(1)
		if rec.Size%2 == 0 {
			return fingerprint.Fingerprint{}, fault.Decode(rec.Bucket, rec.Key, errors.New("bad header"))
		}
		return fingerprint.Fingerprint{Kind: fingerprint.KindSampled, Value: rec.Key, Size: rec.Size}, nil
	})
	records := makeRecords(50)
	e, _ := newTestExecutor(strategy, Options{Workers: 4, MaxRetries: 1})
	outcomes := e.Run(context.Background(), records)

	if len(outcomes) != len(records) {
		t.Fatalf("expected %d outcomes, got %d", len(records), len(outcomes))
	}
	for i, out := range outcomes {
		if out.Key() != records[i].Key {
			t.Fatalf("outcome %d is for %s, want %s", i, out.Key(), records[i].Key)
		}
		if records[i].Size%2 == 0 {
			if out.Status != StatusFailed || out.Err == nil || out.Err.Kind != fault.KindDecode || out.Attempts != 2 {
				t.Fatalf("unexpected failed outcome %+v", out)
			}
			if !out.Fingerprint.IsZero() {
				t.Fatal("failed outcome must not carry a fingerprint")
			}
			continue
		}
		if out.Status != StatusSuccess || out.Err != nil || out.Attempts != 1 || out.Fingerprint.Value != records[i].Key {
			t.Fatalf("unexpected success outcome %+v", out)
		}
	}
	if got := e.Completed(); got != 50 {
		t.Fatalf("expected 50 completed, got %d", got)
	}
	if got := calls.Load(); got != 75 {
		t.Fatalf("expected 75 compute calls, got %d", got)
	}
}

func TestReadFailureExhaustsRetriesWithBackoff(t *testing.T) {
	store := objstore.NewMemory()
	store.Put("b", "flaky.bin", []byte("0123456789"))
	store.SetReadHook(func(string, string, int) error { return errors.New("SlowDown") })
	strategy, err := fingerprint.NewExact(store, fingerprint.ExactOptions{})
	if err != nil {
		t.Fatal(err)
	}
	e, sleeps := newTestExecutor(strategy, Options{Workers: 2, MaxRetries: 2, RetryBackoff: time.Second, InterReadDelay: 5 * time.Millisecond})
	outcomes := e.Run(context.Background(), []catalog.Record{{Bucket: "b", Key: "flaky.bin", Size: 10}})

	out := outcomes[0]
	if out.Status != StatusFailed || out.Attempts != 3 || out.Err.Kind != fault.KindRead {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := store.Reads("b", "flaky.bin"); got != 3 {
		t.Fatalf("expected 3 reads, got %d", got)
	}
	if got := sleeps.count(time.Second); got != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", got)
	}
	if got := sleeps.count(5 * time.Millisecond); got != 3 {
		t.Fatalf("expected an inter-read delay per attempt, got %d", got)
	}
}

func TestDecodeFailureRetriesWithoutBackoff(t *testing.T) {
	strategy := funcStrategy(func(_ context.Context, rec catalog.Record) (fingerprint.Fingerprint, error) {
		return fingerprint.Fingerprint{}, fault.Decode(rec.Bucket, rec.Key, fault.ErrNotAnImage)
	})
	e, sleeps := newTestExecutor(strategy, Options{MaxRetries: 2, RetryBackoff: time.Second})
	out := e.Run(context.Background(), makeRecords(1))[0]
	if out.Attempts != 3 || out.Err.Kind != fault.KindDecode {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := sleeps.count(time.Second); got != 0 {
		t.Fatalf("decode retries should not back off, got %d sleeps", got)
	}
}

func TestEmptyObjectIsTerminal(t *testing.T) {
	store := objstore.NewMemory()
	store.Put("b", "empty.bin", nil)
	strategy, _ := fingerprint.NewExact(store, fingerprint.ExactOptions{})
	e, sleeps := newTestExecutor(strategy, Options{MaxRetries: 5, RetryBackoff: time.Second})
	out := e.Run(context.Background(), []catalog.Record{{Bucket: "b", Key: "empty.bin"}})[0]
	if out.Status != StatusFailed || out.Attempts != 1 || out.Err.Kind != fault.KindEmptyObject {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !errors.Is(out.Err, fault.ErrEmptyObject) {
		t.Fatalf("expected ErrEmptyObject, got %v", out.Err)
	}
	if store.Reads("b", "empty.bin") != 0 || len(sleeps.calls) != 0 {
		t.Fatal("empty object should not be fetched or retried")
	}
}

func TestTransientFailureRecovers(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	strategy := funcStrategy(func(_ context.Context, rec catalog.Record) (fingerprint.Fingerprint, error) {
		mu.Lock()
		seen[rec.Key]++
		n := seen[rec.Key]
		mu.Unlock()
		if n < 3 {
			return fingerprint.Fingerprint{}, errors.New("connection reset")
		}
		return fingerprint.Fingerprint{Kind: fingerprint.KindFull, Value: "ok", Size: rec.Size}, nil
	})
	e, _ := newTestExecutor(strategy, Options{Workers: 3, MaxRetries: 2})
	for _, out := range e.Run(context.Background(), makeRecords(6)) {
		if out.Status != StatusSuccess || out.Attempts != 3 {
			t.Fatalf("unexpected outcome %+v", out)
		}
	}
}

func TestCanceledBeforeStart(t *testing.T) {
	strategy := funcStrategy(func(context.Context, catalog.Record) (fingerprint.Fingerprint, error) {
		t.Error("compute should not run after cancellation")
		return fingerprint.Fingerprint{}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e, _ := newTestExecutor(strategy, Options{Workers: 2})
	outcomes := e.Run(ctx, makeRecords(10))
	if len(outcomes) != 10 {
		t.Fatalf("expected 10 outcomes, got %d", len(outcomes))
	}
	for _, out := range outcomes {
		if out.Status != StatusFailed || out.Attempts != 0 || out.Err.Kind != fault.KindCanceled {
			t.Fatalf("unexpected outcome %+v", out)
		}
	}
	if e.Completed() != 10 {
		t.Fatalf("expected completed 10, got %d", e.Completed())
	}
}

func TestCancelMidRunKeepsCompleteness(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var started atomic.Int64
	strategy := funcStrategy(func(ctx context.Context, rec catalog.Record) (fingerprint.Fingerprint, error) {
		if started.Add(1) == 3 {
			cancel()
		}
		if rec.Size > 2 {
			<-ctx.Done()
			return fingerprint.Fingerprint{}, fault.Read(rec.Bucket, rec.Key, ctx.Err())
		}
		return fingerprint.Fingerprint{Kind: fingerprint.KindSampled, Value: "v", Size: rec.Size}, nil
	})
	e, _ := newTestExecutor(strategy, Options{Workers: 2, MaxRetries: 3})
	outcomes := e.Run(ctx, makeRecords(40))
	if len(outcomes) != 40 {
		t.Fatalf("expected 40 outcomes, got %d", len(outcomes))
	}
	canceled := 0
	for i, out := range outcomes {
		if out.Key() != fmt.Sprintf("k%03d", i) {
			t.Fatalf("outcome %d out of place: %s", i, out.Key())
		}
		switch out.Status {
		case StatusSuccess:
		case StatusFailed:
			if out.Err.Kind != fault.KindCanceled {
				t.Fatalf("expected canceled failure, got %+v", out.Err)
			}
			if out.Attempts > 1 {
				t.Fatalf("canceled work should not be retried: %+v", out)
			}
			canceled++
		default:
			t.Fatalf("outcome %d has no status", i)
		}
	}
	if canceled == 0 {
		t.Fatal("expected some canceled outcomes")
	}
	if e.Completed() != 40 {
		t.Fatalf("expected completed 40, got %d", e.Completed())
	}
}

type countingSink struct {
	mu       sync.Mutex
	total    int
	finished int
}

func (s *countingSink) Add(n int) error {
	s.mu.Lock()
	s.total += n
	s.mu.Unlock()
	return nil
}

func (s *countingSink) Finish() error {
	s.mu.Lock()
	s.finished++
	s.mu.Unlock()
	return nil
}

func TestProgressSinkReachesTotal(t *testing.T) {
	strategy := funcStrategy(func(_ context.Context, rec catalog.Record) (fingerprint.Fingerprint, error) {
		return fingerprint.Fingerprint{Kind: fingerprint.KindSampled, Value: rec.Key}, nil
	})
	sink := &countingSink{}
	e, _ := newTestExecutor(strategy, Options{Workers: 8, Progress: sink})
	e.Run(context.Background(), makeRecords(500))
	if sink.total != 500 || sink.finished != 1 {
		t.Fatalf("unexpected sink state total=%d finished=%d", sink.total, sink.finished)
	}
}

func TestRunEmptyInput(t *testing.T) {
	e := New(funcStrategy(nil), Options{})
	if got := e.Run(context.Background(), nil); len(got) != 0 {
		t.Fatalf("expected no outcomes, got %d", len(got))
	}
}

func TestNewClampsOptions(t *testing.T) {
	e := New(funcStrategy(nil), Options{Workers: 0, MaxRetries: -1, MaxReadsPerSecond: 10})
	if e.opts.Workers != 1 || e.opts.MaxRetries != 0 || e.limiter == nil {
		t.Fatalf("unexpected options %+v", e.opts)
	}
}

func TestProgressVisible(t *testing.T) {
	t.Setenv("DUPESCAN_DISABLE_PROGRESS", "")
	if !progressVisible() {
		t.Fatal("progress should be visible by default")
	}
	t.Setenv("DUPESCAN_DISABLE_PROGRESS", "1")
	if progressVisible() {
		t.Fatal("progress should be hidden when disabled")
	}
}
