package focus

import (
	"context"
	"log/slog"
	"time"
)

// Poller periodically queries the focus source and reports each
// observation to the observe callback. Gate evaluation happens on every
// tick so tracking-config changes take effect within one interval even
// when the focused application has not changed.
type Poller struct {
	source   Source
	interval time.Duration
	observe  func(app string)

	last string
}

// NewPoller creates a poller. A zero interval defaults to one second.
func NewPoller(source Source, interval time.Duration, observe func(app string)) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{source: source, interval: interval, observe: observe}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	name, err := p.source.CurrentApplicationName()
	if err != nil {
		slog.Debug("focus query failed", "error", err)
		name = DisplaySentinel
	}
	if name != p.last {
		slog.Debug("focus changed", "from", p.last, "to", name)
		p.last = name
	}
	p.observe(name)
}
