// Package realtime keeps observers in sync with server-originated territory
// and world-state change events. The Channel owns the subscription lifecycle:
// it reconnects with exponential backoff and jitter after transport failure
// so callers never manage reconnect logic themselves.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"territorywar.gg/internal/protocol"
)

// SubscriptionStatus of the logical channel.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Transport establishes one subscription attempt. Implementations: the
// websocket transport in this package, fakes in tests.
type Transport interface {
	Subscribe(ctx context.Context) (Conn, error)
}

// Conn is one live subscription. Next blocks for the next raw event frame
// and returns an error when the connection dies.
type Conn interface {
	Next() ([]byte, error)
	Close() error
}

type Config struct {
	Backoff     Backoff
	MaxAttempts int

	// Event-rate estimator settings.
	RateWindow time.Duration
	RateTick   time.Duration
}

// Subscription deregisters one observer. Closing it never affects other
// observers of the same category.
type Subscription struct {
	once  sync.Once
	close func()
}

func (s *Subscription) Close() { s.once.Do(s.close) }

type Channel struct {
	transport Transport
	cfg       Config
	log       *log.Logger

	mu       sync.Mutex
	status   Status
	attempts int
	timer    *time.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	conn     Conn

	nextObsID    uint64
	territoryObs map[uint64]func(protocol.TerritoryChangeMsg)
	worldObs     map[uint64]func(protocol.WorldStateMsg)
	presenceObs  map[uint64]func(protocol.PresenceMsg)
	statusObs    map[uint64]func(Status)
	rateObs      map[uint64]func(int)

	rate *EventRateEstimator
}

func NewChannel(t Transport, cfg Config, logger *log.Logger) *Channel {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = time.Second
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = 30 * time.Second
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.RateTick <= 0 {
		cfg.RateTick = 2 * time.Second
	}
	c := &Channel{
		transport:    t,
		cfg:          cfg,
		log:          logger,
		status:       StatusDisconnected,
		territoryObs: map[uint64]func(protocol.TerritoryChangeMsg){},
		worldObs:     map[uint64]func(protocol.WorldStateMsg){},
		presenceObs:  map[uint64]func(protocol.PresenceMsg){},
		statusObs:    map[uint64]func(Status){},
		rateObs:      map[uint64]func(int){},
	}
	c.rate = NewEventRateEstimator(cfg.RateWindow, time.Now, c.dispatchRate)
	return c
}

// Subscribe starts (or restarts, after a permanent disconnect) the logical
// subscription. Safe to call once; concurrent double-subscribes are a caller
// bug and the second call is ignored while the first is live.
func (c *Channel) Subscribe() {
	c.mu.Lock()
	if c.ctx != nil && c.ctx.Err() == nil {
		c.mu.Unlock()
		return
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.attempts = 0
	ctx := c.ctx
	c.mu.Unlock()

	c.setStatus(StatusConnecting)
	go c.rate.Run(ctx, c.cfg.RateTick)
	go c.connect(ctx)
}

// Unsubscribe tears the subscription down: the pending reconnect timer (if
// any) is cancelled deterministically and the status drops to disconnected.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.setStatus(StatusDisconnected)
}

// Status returns the current subscription status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Channel) connect(ctx context.Context) {
	conn, err := c.transport.Subscribe(ctx)
	if ctx.Err() != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.scheduleReconnect(ctx)
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()
	c.setStatus(StatusConnected)

	c.readLoop(ctx, conn)
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) {
	for {
		b, err := conn.Next()
		if err != nil {
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			c.setStatus(StatusConnecting)
			c.scheduleReconnect(ctx)
			return
		}
		c.dispatchRaw(b)
	}
}

// scheduleReconnect arms the single reconnect timer. A previously pending
// timer is stopped first; there is never more than one in flight.
func (c *Channel) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxAttempts {
		// Permanent: an explicit Subscribe call is required to resume.
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
		if c.log != nil {
			c.log.Printf("realtime: max reconnect attempts (%d) reached", c.cfg.MaxAttempts)
		}
		c.setStatus(StatusDisconnected)
		return
	}
	delay := c.cfg.Backoff.Delay(c.attempts)
	c.attempts++
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		c.connect(ctx)
	})
	c.mu.Unlock()
	c.setStatus(StatusConnecting)
}

func (c *Channel) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	obs := make([]func(Status), 0, len(c.statusObs))
	for _, fn := range c.statusObs {
		obs = append(obs, fn)
	}
	c.mu.Unlock()
	for _, fn := range obs {
		c.safeInvoke(func() { fn(s) })
	}
}

func (c *Channel) dispatchRaw(b []byte) {
	base, err := protocol.DecodeBase(b)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeTerritoryChange:
		var msg protocol.TerritoryChangeMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			return
		}
		if msg.Current.TotalActions > msg.Previous.TotalActions {
			c.rate.Observe(int64(msg.Current.TotalActions - msg.Previous.TotalActions))
		}
		c.mu.Lock()
		obs := make([]func(protocol.TerritoryChangeMsg), 0, len(c.territoryObs))
		for _, fn := range c.territoryObs {
			obs = append(obs, fn)
		}
		c.mu.Unlock()
		for _, fn := range obs {
			fn := fn
			c.safeInvoke(func() { fn(msg) })
		}

	case protocol.TypeWorldState:
		var msg protocol.WorldStateMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			return
		}
		c.mu.Lock()
		obs := make([]func(protocol.WorldStateMsg), 0, len(c.worldObs))
		for _, fn := range c.worldObs {
			obs = append(obs, fn)
		}
		c.mu.Unlock()
		for _, fn := range obs {
			fn := fn
			c.safeInvoke(func() { fn(msg) })
		}

	case protocol.TypePresence:
		var msg protocol.PresenceMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			return
		}
		c.mu.Lock()
		obs := make([]func(protocol.PresenceMsg), 0, len(c.presenceObs))
		for _, fn := range c.presenceObs {
			obs = append(obs, fn)
		}
		c.mu.Unlock()
		for _, fn := range obs {
			fn := fn
			c.safeInvoke(func() { fn(msg) })
		}
	}
}

func (c *Channel) dispatchRate(rate int) {
	c.mu.Lock()
	obs := make([]func(int), 0, len(c.rateObs))
	for _, fn := range c.rateObs {
		obs = append(obs, fn)
	}
	c.mu.Unlock()
	for _, fn := range obs {
		fn := fn
		c.safeInvoke(func() { fn(rate) })
	}
}

// safeInvoke isolates observer failures: one panicking observer must not
// prevent delivery to the rest.
func (c *Channel) safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil && c.log != nil {
			c.log.Printf("realtime: observer panic: %v", r)
		}
	}()
	fn()
}

// OnTerritoryChange registers an observer for territory change events.
func (c *Channel) OnTerritoryChange(fn func(protocol.TerritoryChangeMsg)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObsID
	c.nextObsID++
	c.territoryObs[id] = fn
	return c.handle(func() { delete(c.territoryObs, id) })
}

// OnWorldStateChange registers an observer for world-state snapshots.
func (c *Channel) OnWorldStateChange(fn func(protocol.WorldStateMsg)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObsID
	c.nextObsID++
	c.worldObs[id] = fn
	return c.handle(func() { delete(c.worldObs, id) })
}

// OnPresence registers an observer for presence join/leave/sync events.
func (c *Channel) OnPresence(fn func(protocol.PresenceMsg)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObsID
	c.nextObsID++
	c.presenceObs[id] = fn
	return c.handle(func() { delete(c.presenceObs, id) })
}

// OnConnectionStatus registers an observer for status transitions.
func (c *Channel) OnConnectionStatus(fn func(Status)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObsID
	c.nextObsID++
	c.statusObs[id] = fn
	return c.handle(func() { delete(c.statusObs, id) })
}

// OnEventRate registers an observer for the smoothed events-per-minute rate.
func (c *Channel) OnEventRate(fn func(int)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObsID
	c.nextObsID++
	c.rateObs[id] = fn
	return c.handle(func() { delete(c.rateObs, id) })
}

func (c *Channel) handle(remove func()) *Subscription {
	return &Subscription{close: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		remove()
	}}
}
