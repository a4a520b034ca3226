package reachability

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"rentsync/internal/config"
	"rentsync/internal/events"

	"github.com/rs/zerolog"
)

// Prober decides connectivity by polling a health URL. Any response below 500
// counts as reachable. Only transitions are published.
type Prober struct {
	url      string
	client   *http.Client
	interval time.Duration
	backoff  Backoff

	connected atomic.Bool
	failures  int
	mu        sync.Mutex
	changes   *events.Fanout[bool]
	logger    *zerolog.Logger
	wg        sync.WaitGroup
}

func NewProber(cfg config.ReachabilityConfig, logger *zerolog.Logger) *Prober {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	interval := cfg.ProbeInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	p := &Prober{
		url:      cfg.ProbeURL,
		client:   &http.Client{Timeout: cfg.ProbeTimeout},
		interval: interval,
		backoff: Backoff{
			InitialDelay:  time.Second,
			MaxDelay:      interval,
			BackoffFactor: 2,
		},
		changes: events.NewFanout[bool](logger),
		logger:  logger,
	}
	p.connected.Store(cfg.InitialOnline)
	return p
}

func (p *Prober) IsConnected() bool {
	return p.connected.Load()
}

func (p *Prober) OnChange(listener func(connected bool)) (unsubscribe func()) {
	return p.changes.Subscribe(listener)
}

// Probe performs one health check and returns the resulting state.
func (p *Prober) Probe(ctx context.Context) bool {
	ok := p.check(ctx)
	if ctx.Err() != nil {
		return p.IsConnected()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if ok {
		p.failures = 0
	} else {
		p.failures++
	}
	if p.connected.Swap(ok) != ok {
		p.logger.Info().Bool("online", ok).Str("url", p.url).Msg("connectivity changed")
		p.changes.Publish(ok)
	}
	return ok
}

func (p *Prober) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		p.logger.Error().Err(err).Str("url", p.url).Msg("build probe request")
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug().Err(err).Msg("probe failed")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func (p *Prober) nextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures == 0 {
		return p.interval
	}
	return p.backoff.NextDelay(p.failures)
}

// Start probes immediately and then keeps probing until ctx is cancelled.
func (p *Prober) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			p.Probe(ctx)

			timer := time.NewTimer(p.nextDelay())
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// Wait blocks until the loop started by Start has exited.
func (p *Prober) Wait() {
	p.wg.Wait()
}
