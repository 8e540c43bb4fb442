package cqlcore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/cqlcore/policy"
	"github.com/arloliu/cqlcore/topology"
	"github.com/arloliu/cqlcore/types"
)

var errRecycled = errors.New("connection recycled")

// poolConfig is the per-host subset of ClusterConfig.
type poolConfig struct {
	core         int
	max          int
	threshold    int
	conn         connConfig
	reconnection policy.ReconnectionPolicy
}

// hostPool owns the connections to one host.
//
// It grows from core to max connections under load, replaces closed
// connections and, once every connection is gone, reports the host down and
// reconnects on the schedule of the reconnection policy.
type hostPool struct {
	host   *topology.Host
	cfg    poolConfig
	onUp   func(h *topology.Host)
	onDown func(h *topology.Host, err error)

	mu         sync.RWMutex
	conns      []*Conn
	connecting int
	closed     bool

	// ready is closed once the first connection joins the pool.
	ready     chan struct{}
	readyOnce sync.Once

	reconnectNow chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func newHostPool(host *topology.Host, cfg poolConfig, onUp func(*topology.Host), onDown func(*topology.Host, error)) *hostPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &hostPool{
		host:         host,
		cfg:          cfg,
		onUp:         onUp,
		onDown:       onDown,
		ready:        make(chan struct{}),
		reconnectNow: make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (p *hostPool) dial(ctx context.Context) (*Conn, error) {
	return dialConn(ctx, p.host.Endpoint(), p.cfg.conn, connHandlers{onClose: p.onConnClosed})
}

// warmUp opens the core connections concurrently.
//
// Returns:
//   - error: The last dial error when no connection could be opened
func (p *hostPool) warmUp(ctx context.Context) error {
	if p.cfg.core == 0 {
		return nil
	}

	var g errgroup.Group
	for range p.cfg.core {
		g.Go(func() error {
			c, err := p.dial(ctx)
			if err != nil {
				return err
			}
			if !p.add(c) {
				c.Close()
			}

			return nil
		})
	}
	err := g.Wait()

	if p.size() == 0 {
		if err == nil {
			err = types.ErrNoConnection
		}
		p.hostDown(err)

		return err
	}

	if err != nil {
		p.cfg.conn.logger.Warn("pool warm-up opened fewer connections than configured",
			"host", p.host.Endpoint(), "error", err)
		p.spawn(p.cfg.core)
	}

	return nil
}

func (p *hostPool) add(c *Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || c.IsClosed() {
		return false
	}
	p.conns = append(p.conns, c)
	p.readyOnce.Do(func() { close(p.ready) })

	return true
}

func (p *hostPool) size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.conns)
}

// stats returns the total and accepting connection counts.
func (p *hostPool) stats() (total, available int) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, c := range p.conns {
		if c.IsAccepting() {
			available++
		}
	}

	return len(p.conns), available
}

// connections returns a copy of the open connections.
func (p *hostPool) connections() []*Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return slices.Clone(p.conns)
}

// acquire returns the least busy connection that accepts requests.
//
// It never blocks: an empty pool starts opening its core connections and
// reports ErrNoConnection right away, and a pool whose connections are all
// above their high water mark reports ErrConnectionOverloaded.
func (p *hostPool) acquire() (*Conn, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, types.ErrNoConnection
	}

	var best *Conn
	for _, c := range p.conns {
		if !c.IsAccepting() {
			continue
		}
		if best == nil || c.InFlight() < best.InFlight() {
			best = c
		}
	}
	total := len(p.conns)
	p.mu.RUnlock()

	switch {
	case total == 0:
		p.spawn(p.cfg.core)
		return nil, types.ErrNoConnection
	case best == nil:
		p.spawn(total + 1)
		return nil, types.ErrConnectionOverloaded
	case best.InFlight() >= p.cfg.threshold:
		p.spawn(total + 1)
	}

	return best, nil
}

// spawn opens connections in the background until target is reached.
func (p *hostPool) spawn(target int) {
	target = min(target, p.cfg.max)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.host.IsReconnecting() {
		return
	}

	for len(p.conns)+p.connecting < target {
		p.connecting++
		p.wg.Add(1)
		go p.connectOne()
	}
}

func (p *hostPool) connectOne() {
	defer p.wg.Done()

	c, err := p.dial(p.ctx)

	p.mu.Lock()
	p.connecting--
	added := false
	if err == nil && !p.closed && !c.IsClosed() {
		p.conns = append(p.conns, c)
		p.readyOnce.Do(func() { close(p.ready) })
		added = true
	}
	empty := len(p.conns) == 0 && p.connecting == 0
	closed := p.closed
	p.mu.Unlock()

	if err != nil {
		if closed {
			return
		}
		p.cfg.conn.logger.Warn("failed to open connection", "host", p.host.Endpoint(), "error", err)
		if empty {
			p.hostDown(err)
		}

		return
	}

	if !added {
		c.Close()
		return
	}

	if !p.host.IsUp() {
		p.onUp(p.host)
	}
}

func (p *hostPool) onConnClosed(c *Conn, err error) {
	p.mu.Lock()
	p.conns = slices.DeleteFunc(p.conns, func(x *Conn) bool { return x == c })
	empty := len(p.conns) == 0 && p.connecting == 0
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return
	}

	if empty && !errors.Is(err, errRecycled) {
		p.hostDown(err)
		return
	}

	p.spawn(max(p.cfg.core, 1))
}

// hostDown reports the host down and starts the reconnection loop.
func (p *hostPool) hostDown(err error) {
	p.mu.Lock()
	if p.closed || !p.host.SetReconnecting(true) {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.cfg.conn.logger.Warn("host unreachable, scheduling reconnection", "host", p.host.Endpoint(), "error", err)
	p.onDown(p.host, err)

	go p.reconnectLoop()
}

func (p *hostPool) reconnectLoop() {
	defer p.wg.Done()
	defer p.host.SetReconnecting(false)

	schedule := p.cfg.reconnection.NewSchedule()
	for attempt := 1; ; attempt++ {
		t := time.NewTimer(schedule.NextDelay())
		select {
		case <-p.ctx.Done():
			t.Stop()
			return
		case <-p.reconnectNow:
			t.Stop()
		case <-t.C:
		}

		c, err := p.dial(p.ctx)
		if err != nil {
			p.cfg.conn.logger.Debug("reconnection attempt failed",
				"host", p.host.Endpoint(), "attempt", attempt, "error", err)

			continue
		}

		if !p.add(c) {
			c.Close()
			return
		}

		p.host.SetReconnecting(false)
		p.cfg.conn.logger.Info("host reconnected", "host", p.host.Endpoint(), "attempts", attempt)
		p.onUp(p.host)
		p.spawn(p.cfg.core)

		return
	}
}

// triggerReconnect cuts the current reconnection delay short.
func (p *hostPool) triggerReconnect() {
	select {
	case p.reconnectNow <- struct{}{}:
	default:
	}
}

// recycle closes c so the pool replaces it.
func (p *hostPool) recycle(c *Conn, reason error) {
	c.closeWithError(&types.ConnectionError{
		Host:  c.Endpoint(),
		Op:    "recycle",
		Cause: fmt.Errorf("%w: %w", errRecycled, reason),
	})
}

// close closes every connection and stops background goroutines.
func (p *hostPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	p.cancel()
	for _, c := range conns {
		c.Close()
	}
	p.wg.Wait()
	for _, c := range conns {
		c.wait()
	}
}
