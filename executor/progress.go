package executor

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
)

// progressCounter owns the completed count and forwards deltas to a sink
// without ever blocking the caller.
type progressCounter struct {
	completed atomic.Int64
	ch        chan int
}

// start launches the sink consumer. The returned func closes the channel,
// tops the sink up to total and finishes it.
func (p *progressCounter) start(sink ProgressSink, workers int) func(total int64) {
	if sink == nil {
		p.ch = nil
		return func(int64) {}
	}
	ch := make(chan int, max(workers*4, 64))
	p.ch = ch
	var reported int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for delta := range ch {
			_ = sink.Add(delta)
			reported += int64(delta)
		}
	}()
	return func(total int64) {
		close(ch)
		wg.Wait()
		if gap := total - reported; gap > 0 {
			_ = sink.Add(int(gap))
		}
		_ = sink.Finish()
	}
}

func (p *progressCounter) done() {
	p.completed.Add(1)
	if p.ch == nil {
		return
	}
	select {
	case p.ch <- 1:
	default:
	}
}

// NewProgressBar returns the terminal progress sink for n records. It is
// hidden when DUPESCAN_DISABLE_PROGRESS is set.
func NewProgressBar(n int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetVisibility(progressVisible()),
		progressbar.OptionFullWidth(),
	)
}

func progressVisible() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DUPESCAN_DISABLE_PROGRESS")))
	return v == "" || v == "0" || v == "false"
}
