package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hasl-sensors/hasl/pkg/types"
)

// DefaultTimeout bounds a single refresh.
const DefaultTimeout = 10 * time.Second

// StateAuthFailed marks an entry whose credentials were rejected.
const StateAuthFailed = "AuthFailed"

// stateOn is the gating sensor state that allows refreshes.
const stateOn = "on"

// Gate reads the state of the gating binary_sensor.
type Gate interface {
	GetState(ctx context.Context, entityID string) (string, error)
}

// ErrNoData is returned by Data before the first successful refresh.
var ErrNoData = errors.New("coordinator: no data yet")

// Settings configures a Coordinator.
type Settings struct {
	EntryID  string
	Name     string
	Interval time.Duration
	Timeout  time.Duration

	// Sensor is the optional gating binary_sensor entity id.
	Sensor string
	Gate   Gate

	// IsAuthError classifies fetch errors that need new credentials.
	IsAuthError func(error) bool
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	EntryID     string    `json:"entry_id"`
	Name        string    `json:"name"`
	State       string    `json:"state"`
	LastError   string    `json:"last_error,omitempty"`
	LastUpdate  time.Time `json:"last_update"`
	LastAttempt time.Time `json:"last_attempt"`
	Failures    int       `json:"consecutive_failures"`
	Skipped     int       `json:"skipped"`
	Interval    string    `json:"interval"`
}

// Runner is the type-erased view of a Coordinator used by the platform.
type Runner interface {
	Refresh(ctx context.Context) error
	Run(ctx context.Context)
	Status() Status
	OnUpdate(fn func()) (unsubscribe func())
}

// Coordinator polls one upstream for a config entry and keeps the last
// successful result.
type Coordinator[T any] struct {
	settings Settings
	fetch    func(ctx context.Context) (T, error)
	now      func() time.Time
	observer func(entryID string, err error)

	mu          sync.RWMutex
	data        T
	hasData     bool
	state       string
	lastErr     error
	lastUpdate  time.Time
	lastAttempt time.Time
	failures    int
	skipped     int

	subMu     sync.Mutex
	listeners map[int]func()
	nextSub   int
}

// New returns a coordinator that calls fetch on every refresh.
func New[T any](s Settings, fetch func(ctx context.Context) (T, error)) *Coordinator[T] {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	return &Coordinator[T]{
		settings:  s,
		fetch:     fetch,
		now:       time.Now,
		state:     types.ResultPending,
		listeners: make(map[int]func()),
	}
}

// SetObserver installs fn, called after every attempted fetch.
func (c *Coordinator[T]) SetObserver(fn func(entryID string, err error)) { c.observer = fn }

// Data returns the last successfully fetched value.
func (c *Coordinator[T]) Data() (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasData {
		var zero T
		return zero, ErrNoData
	}
	return c.data, nil
}

// Status returns the current coordinator status.
func (c *Coordinator[T]) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{
		EntryID:     c.settings.EntryID,
		Name:        c.settings.Name,
		State:       c.state,
		LastUpdate:  c.lastUpdate,
		LastAttempt: c.lastAttempt,
		Failures:    c.failures,
		Skipped:     c.skipped,
		Interval:    c.settings.Interval.String(),
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// OnUpdate registers fn to run after every completed fetch and after every
// skipped refresh that keeps earlier data.
func (c *Coordinator[T]) OnUpdate(fn func()) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.listeners[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.listeners, id)
		c.subMu.Unlock()
	}
}

// Refresh fetches once unless the gating sensor is off. A fetch error is
// recorded on the coordinator and returned; previous data is kept.
//
// A skipped refresh leaves state and data untouched but still notifies
// listeners once data exists, so the kept entities are republished.
func (c *Coordinator[T]) Refresh(ctx context.Context) error {
	if !c.gateOpen(ctx) {
		c.mu.Lock()
		c.skipped++
		kept := c.hasData
		c.mu.Unlock()
		slog.Debug(fmt.Sprintf("Not updating %s. Sensor %q is off", c.settings.EntryID, c.settings.Sensor))
		if kept {
			c.notify()
		}
		return nil
	}

	fctx, cancel := context.WithTimeout(ctx, c.settings.Timeout)
	defer cancel()
	data, err := c.fetch(fctx)
	now := c.now()

	c.mu.Lock()
	c.lastAttempt = now
	if err != nil {
		c.failures++
		c.lastErr = err
		c.state = types.ResultError
		if c.settings.IsAuthError != nil && c.settings.IsAuthError(err) {
			c.state = StateAuthFailed
		}
	} else {
		c.data = data
		c.hasData = true
		c.failures = 0
		c.lastErr = nil
		c.lastUpdate = now
		c.state = types.ResultSuccess
	}
	c.mu.Unlock()

	if c.observer != nil {
		c.observer(c.settings.EntryID, err)
	}
	c.notify()

	if err != nil {
		return fmt.Errorf("coordinator %s: %w", c.settings.Name, err)
	}
	return nil
}

// gateOpen reports whether a refresh may run. A gate that cannot be read
// allows the refresh.
func (c *Coordinator[T]) gateOpen(ctx context.Context) bool {
	if c.settings.Sensor == "" || c.settings.Gate == nil {
		return true
	}
	state, err := c.settings.Gate.GetState(ctx, c.settings.Sensor)
	if err != nil {
		slog.Debug("coordinator: gate sensor unreadable, refreshing anyway",
			"entry", c.settings.EntryID, "sensor", c.settings.Sensor, "err", err)
		return true
	}
	return state == stateOn
}

func (c *Coordinator[T]) notify() {
	c.subMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Run refreshes every interval until ctx is cancelled. The first refresh is
// expected to have happened during setup. Consecutive failures stretch the
// delay with exponential backoff; a success resets it.
func (c *Coordinator[T]) Run(ctx context.Context) {
	b := newBackoff(c.settings.Interval)
	delay := c.settings.Interval
	if c.Status().Failures > 0 {
		delay = b.next()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := c.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			delay = b.next()
			slog.Warn("coordinator: refresh failed",
				"entry", c.settings.Name, "err", err, "retry_in", delay.Round(time.Second))
		} else {
			b.reset()
			delay = c.settings.Interval
		}
		timer.Reset(delay)
	}
}
