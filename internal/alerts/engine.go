package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/hasl-sensors/hasl/internal/apiclient"
	"github.com/hasl-sensors/hasl/internal/config"
	"github.com/hasl-sensors/hasl/pkg/types"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	EntityID   string     `json:"entity_id"`
	EntryID    string     `json:"entry_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// Engine evaluates alert rules against published entities and delivers
// webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time

	// deliverFn sends notifications; replaced in tests to run synchronously.
	deliverFn func(*Alert)

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:uniqueID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts
}

// New creates an Engine from the alert configuration.
// An Engine with no rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		client:   apiclient.NewHTTPClient(apiclient.DefaultTimeout),
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	e.deliverFn = func(a *Alert) { go e.deliver(a) }
	return e
}

// Evaluate tests every rule whose entity glob matches ent.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Evaluate(ent *types.Entity) {
	if len(e.rules) == 0 {
		return
	}

	now := e.now()
	for _, rule := range e.rules {
		if !matches(rule.Entity, ent.UniqueID) {
			continue
		}
		key := rule.Name + ":" + ent.UniqueID
		fires, value := evalCondition(rule.Condition, ent)

		e.mu.Lock()
		if fires {
			e.fire(rule, key, ent, value, now)
		} else {
			e.resolve(rule, key, now)
		}
	}
}

// fire and resolve are called with e.mu held and release it.
func (e *Engine) fire(rule config.AlertRule, key string, ent *types.Entity, value float64, now time.Time) {
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if _, firing := e.active[key]; firing || now.Sub(e.lastFire[key]) <= cooldown {
		e.mu.Unlock()
		return
	}

	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:       fmt.Sprintf("%s:%s:%d", rule.Name, ent.UniqueID, now.UnixNano()),
		RuleName: rule.Name,
		EntityID: ent.UniqueID,
		EntryID:  ent.EntryID,
		Severity: sev,
		Value:    value,
		Message: fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f, state %s)",
			sev, rule.Name, ent.UniqueID, rule.Condition, value, ent.StateString()),
		FiredAt: now,
		State:   StateFiring,
	}
	e.active[key] = a
	e.lastFire[key] = now
	alertCopy := *a
	e.mu.Unlock()

	slog.Warn("alerts: alert fired",
		"rule", rule.Name,
		"entity", ent.UniqueID,
		"value", value,
		"severity", sev,
	)
	e.deliverFn(&alertCopy)
}

func (e *Engine) resolve(rule config.AlertRule, key string, now time.Time) {
	a, ok := e.active[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, key)
	e.remember(a)
	alertCopy := *a
	e.mu.Unlock()

	slog.Info("alerts: alert resolved", "rule", rule.Name, "entity", a.EntityID)
	e.deliverFn(&alertCopy)
}

func (e *Engine) remember(a *Alert) {
	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
}

// DeleteEntry resolves the active alerts of a removed config entry without
// notifying webhooks.
func (e *Engine) DeleteEntry(entryID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for key, a := range e.active {
		if a.EntryID != entryID {
			continue
		}
		resolved := now
		a.State = StateResolved
		a.ResolvedAt = &resolved
		delete(e.active, key)
		e.remember(a)
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))
	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// FiringCount returns the number of alerts currently firing.
func (e *Engine) FiringCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func matches(pattern, uniqueID string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, uniqueID)
	return err == nil && ok
}
