package streaming

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/blueberrycongee/dinescout/internal/stream"
)

// Pump drains events into sink and sends a ping every keepAlive until a terminal event
// has been written or the sequence ends. A failed write stops the sequence, which the
// orchestrator treats as a disconnect. Pump returns the first write error.
func Pump(ctx context.Context, events iter.Seq[stream.Event], sink Sink, keepAlive time.Duration) error {
	var (
		mu       sync.Mutex
		finished bool
		sendErr  error
	)

	send := func(ev stream.Event) bool {
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return false
		}
		if err := sink.Send(ev); err != nil {
			sendErr = err
			finished = true
			return false
		}
		if ev.Terminal() {
			finished = true
		}
		return true
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	if keepAlive > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(keepAlive)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ctx.Done():
					return
				case <-ticker.C:
					if !send(stream.Ping()) {
						return
					}
				}
			}
		}()
	}

	for ev := range events {
		if !send(ev) {
			break
		}
	}

	close(stop)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return sendErr
}
