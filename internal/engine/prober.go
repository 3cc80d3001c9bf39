package engine

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Prober polls a health endpoint and feeds reachability transitions into
// the engine. Field devices flap between coverage constantly, so the
// probe is cheap and the interval short.
type Prober struct {
	client   *resty.Client
	url      string
	interval time.Duration
	engine   *Engine
	logger   *zap.Logger
}

func NewProber(url string, interval time.Duration, eng *Engine, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(0)
	return &Prober{
		client:   client,
		url:      url,
		interval: interval,
		engine:   eng,
		logger:   logger,
	}
}

// Run blocks, probing until ctx ends.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	last := p.engine.Reachable()
	for {
		select {
		case <-ticker.C:
			reachable := p.probe(ctx)
			if reachable != last {
				p.logger.Info("reachability changed", zap.Bool("reachable", reachable))
				p.engine.SetReachable(ctx, reachable)
				last = reachable
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Prober) probe(ctx context.Context) bool {
	resp, err := p.client.R().SetContext(ctx).Get(p.url)
	if err != nil {
		return false
	}
	return resp.StatusCode() < 500
}
