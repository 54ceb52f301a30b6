package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"AmberPull/internal/domain/models"
	domrepo "AmberPull/internal/domain/repository"
	applogger "AmberPull/pkg/logger"
	"AmberPull/pkg/metrics"
)

// SinkPipeline sits between the poller and a PriceSink. It validates,
// drops intervals already delivered, and buffers batches while the
// downstream is unavailable.
type SinkPipeline struct {
	sink       domrepo.PriceSink
	metrics    domrepo.Metrics
	l          *applogger.Logger
	bufSize    int
	bufCh      chan []models.ConfirmedPrice
	backoffMin time.Duration
	backoffMax time.Duration

	mu        sync.Mutex
	started   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	delivered map[string]time.Time // site:channel -> last delivered interval start
}

var _ domrepo.PriceSink = (*SinkPipeline)(nil)

type PipelineOption func(*SinkPipeline)

// WithBufferSize sets how many failed batches are kept for retry.
func WithBufferSize(n int) PipelineOption {
	return func(p *SinkPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithRetryBackoff sets the flush retry backoff range.
func WithRetryBackoff(minDelay, maxDelay time.Duration) PipelineOption {
	return func(p *SinkPipeline) {
		if minDelay > 0 {
			p.backoffMin = minDelay
		}
		if maxDelay >= p.backoffMin {
			p.backoffMax = maxDelay
		}
	}
}

func WithPipelineLogger(l *applogger.Logger) PipelineOption {
	return func(p *SinkPipeline) { p.l = l }
}

// NewSinkPipeline creates a new pipeline. A nil metrics discards measurements.
func NewSinkPipeline(sink domrepo.PriceSink, m domrepo.Metrics, opts ...PipelineOption) *SinkPipeline {
	if m == nil {
		m = metrics.Nop{}
	}
	p := &SinkPipeline{
		sink:       sink,
		metrics:    m,
		bufSize:    256,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
		stopCh:     make(chan struct{}),
		delivered:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan []models.ConfirmedPrice, p.bufSize)
	p.l = applogger.OrNop(p.l).With("sink_pipeline")
	return p
}

func (p *SinkPipeline) Init(ctx context.Context) error {
	return p.sink.Init(ctx)
}

// Start launches background flushing of buffered batches.
func (p *SinkPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		backoff := p.backoffMin
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case batch := <-p.bufCh:
				if err := p.sink.Write(ctx, batch); err != nil {
					p.metrics.RecordError("pipeline_flush")
					p.l.Warn("buffered sink write failed", applogger.Error(err), applogger.Duration("retry_in_ms", backoff))
					select {
					case <-p.stopCh:
						return
					case <-ctx.Done():
						return
					case <-time.After(backoff):
					}
					backoff = min(2*backoff, p.backoffMax)
					p.enqueue(batch)
					continue
				}
				backoff = p.backoffMin
				p.markDelivered(batch)
			}
		}
	}()
}

// Stop stops background flushing and waits for it to exit.
func (p *SinkPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	p.wg.Wait()
}

// Close stops the pipeline and closes the downstream sink.
func (p *SinkPipeline) Close() error {
	p.Stop()
	if n := len(p.bufCh); n > 0 {
		p.l.Warn("dropping buffered batches on close", applogger.Int("batches", n))
	}
	return p.sink.Close()
}

// Pending is the number of batches waiting for retry.
func (p *SinkPipeline) Pending() int { return len(p.bufCh) }

// Write validates and forwards prices, buffering the batch when the sink fails.
func (p *SinkPipeline) Write(ctx context.Context, prices []models.ConfirmedPrice) error {
	start := time.Now()
	batch := make([]models.ConfirmedPrice, 0, len(prices))
	for _, cp := range prices {
		if err := validateConfirmed(cp); err != nil {
			p.metrics.RecordError("pipeline_validate")
			p.l.Debug("rejected confirmed price", applogger.Error(err))
			continue
		}
		if p.isDelivered(cp) {
			continue
		}
		batch = append(batch, cp)
	}
	if len(batch) == 0 {
		return nil
	}

	if err := p.sink.Write(ctx, batch); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.enqueue(batch)
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.markDelivered(batch)
	p.metrics.RecordLatency("pipeline_write", time.Since(start).Seconds())
	return nil
}

func (p *SinkPipeline) enqueue(batch []models.ConfirmedPrice) {
	select {
	case p.bufCh <- batch:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		p.l.Warn("sink buffer full, dropping batch", applogger.Int("rows", len(batch)))
	}
}

func deliveryKey(cp models.ConfirmedPrice) string { return cp.SiteID + ":" + cp.Channel }

func (p *SinkPipeline) isDelivered(cp models.ConfirmedPrice) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.delivered[deliveryKey(cp)]
	return ok && !cp.IntervalStart.After(last)
}

func (p *SinkPipeline) markDelivered(batch []models.ConfirmedPrice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cp := range batch {
		k := deliveryKey(cp)
		if cp.IntervalStart.After(p.delivered[k]) {
			p.delivered[k] = cp.IntervalStart
		}
	}
}

func validateConfirmed(cp models.ConfirmedPrice) error {
	if cp.SiteID == "" {
		return fmt.Errorf("site id empty")
	}
	if cp.Channel == "" {
		return fmt.Errorf("channel empty")
	}
	if cp.IntervalStart.IsZero() {
		return fmt.Errorf("interval start missing")
	}
	if math.IsNaN(cp.PerKWh) || math.IsInf(cp.PerKWh, 0) {
		return fmt.Errorf("price not finite")
	}
	return nil
}
