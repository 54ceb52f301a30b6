package usecase

import (
	"context"
	"errors"
	"sync"

	"AmberPull/internal/domain/models"
	drepo "AmberPull/internal/domain/repository"
	applogger "AmberPull/pkg/logger"
	"AmberPull/pkg/metrics"
)

// StreamCollector feeds pushed prices into the merger. Stream updates never
// drive the poll schedule.
type StreamCollector struct {
	stream  drepo.PriceStream
	merger  *PriceMerger
	metrics drepo.Metrics
	l       *applogger.Logger

	waitForConfirmed bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

type CollectorOption func(*StreamCollector)

func WithCollectorLogger(l *applogger.Logger) CollectorOption {
	return func(c *StreamCollector) { c.l = l }
}

// WithCollectorWaitForConfirmed drops estimate channels from pushed updates.
func WithCollectorWaitForConfirmed(wait bool) CollectorOption {
	return func(c *StreamCollector) { c.waitForConfirmed = wait }
}

// NewStreamCollector creates a collector. metrics may be nil.
func NewStreamCollector(stream drepo.PriceStream, merger *PriceMerger, m drepo.Metrics, opts ...CollectorOption) *StreamCollector {
	if m == nil {
		m = metrics.Nop{}
	}
	c := &StreamCollector{stream: stream, merger: merger, metrics: m}
	for _, opt := range opts {
		opt(c)
	}
	c.l = applogger.OrNop(c.l).With("stream_collector")
	return c
}

// IsConnected returns true if the price stream is connected.
func (c *StreamCollector) IsConnected() bool {
	return c.stream != nil && c.stream.IsConnected()
}

// Start runs the stream in the background. It returns immediately.
func (c *StreamCollector) Start(ctx context.Context) error {
	if c.stream == nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(runCtx)
	return nil
}

func (c *StreamCollector) run(ctx context.Context) {
	defer c.wg.Done()
	err := c.stream.Run(ctx, c.handle)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.metrics.RecordError("stream")
	c.l.Warn("price stream stopped", applogger.Error(err))
}

func (c *StreamCollector) handle(snap models.PriceSnapshot) {
	if c.waitForConfirmed {
		kept := make(map[string]models.ChannelPrice, len(snap.Current))
		for ch, p := range snap.Current {
			if !p.Estimate {
				kept[ch] = p
			}
		}
		if len(kept) == 0 {
			return
		}
		snap.Current = kept
	}
	c.merger.UpdateStream(snap)
	for ch, p := range snap.Current {
		if p.PerKWh != nil {
			c.metrics.RecordLastPrice(ch, *p.PerKWh)
		}
	}
}

// Err returns the error that ended the stream, if any.
func (c *StreamCollector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Shutdown cancels the stream and waits for it to return.
func (c *StreamCollector) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
