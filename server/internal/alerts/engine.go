package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/infradash/infradash/pkg/types"
	"github.com/infradash/infradash/server/internal/config"
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
	APIID      string     `json:"api_id"`
	APIName    string     `json:"api_name"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// Engine evaluates alert rules against API statuses and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	now func() time.Time

	mu       sync.Mutex
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: "ruleName:apiID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts
	client   *http.Client
	inflight sync.WaitGroup
}

// New creates an Engine from the server alert configuration. Rules with a
// condition that cannot be parsed are skipped with a warning. An Engine with
// no rules is valid; Observe becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	return &Engine{
		rules:    validRules(cfg.Rules),
		webhooks: cfg.Webhooks,
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Observe tests all configured rules against st.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
func (e *Engine) Observe(st types.APIStatus) {
	e.mu.Lock()
	rules := e.rules
	e.mu.Unlock()
	if len(rules) == 0 {
		return
	}

	now := e.now()
	for _, rule := range rules {
		if !appliesTo(rule, st.APIDescriptor) {
			continue
		}
		key := rule.Name + ":" + st.ID
		fires, value := evalCondition(rule.Condition, st)

		if fires {
			e.fire(key, rule, st, value, now)
		} else {
			e.resolve(key, rule, st, now)
		}
	}
}

func (e *Engine) fire(key string, rule config.AlertRule, st types.APIStatus, value float64, now time.Time) {
	e.mu.Lock()
	if _, firing := e.active[key]; firing {
		e.mu.Unlock()
		return
	}
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if last, ok := e.lastFire[key]; ok && now.Sub(last) <= cooldown {
		e.mu.Unlock()
		return
	}

	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:       fmt.Sprintf("%s:%s:%d", rule.Name, st.ID, now.UnixNano()),
		RuleName: rule.Name,
		APIID:    st.ID,
		APIName:  st.Name,
		Severity: sev,
		Value:    value,
		Message:  fmt.Sprintf("[%s] %s fired on %s: %s (value %.2f)", sev, rule.Name, st.Name, rule.Condition, value),
		FiredAt:  now,
		State:    StateFiring,
	}
	e.active[key] = a
	e.lastFire[key] = now
	alertCopy := *a
	e.mu.Unlock()

	slog.Warn("alert fired",
		"rule", rule.Name,
		"api", st.ID,
		"value", value,
		"severity", sev,
	)
	e.dispatch(&alertCopy)
}

func (e *Engine) resolve(key string, rule config.AlertRule, st types.APIStatus, now time.Time) {
	e.mu.Lock()
	a := e.resolveLocked(key, now)
	e.mu.Unlock()
	if a == nil {
		return
	}

	slog.Info("alert resolved",
		"rule", rule.Name,
		"api", st.ID,
	)
	e.dispatch(a)
}

// resolveLocked moves the active alert for key into history and returns a
// copy of it, or nil when nothing is firing. e.mu must be held.
func (e *Engine) resolveLocked(key string, now time.Time) *Alert {
	a, ok := e.active[key]
	if !ok {
		return nil
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	alertCopy := *a
	return &alertCopy
}

// Forget resolves every firing alert whose API is not in keep. It is called
// after a registry reload, since removed APIs are never observed again.
func (e *Engine) Forget(keep map[string]bool) {
	e.resolveWhere(func(a *Alert) bool { return !keep[a.APIID] }, "api removed")
}

// Reload swaps in new rules and webhooks. Firing alerts of rules that no
// longer exist are resolved; cooldowns of surviving rules are kept.
func (e *Engine) Reload(cfg config.AlertsConfig) {
	rules := validRules(cfg.Rules)
	names := make(map[string]bool, len(rules))
	for _, r := range rules {
		names[r.Name] = true
	}

	e.mu.Lock()
	e.rules = rules
	e.webhooks = cfg.Webhooks
	for key := range e.lastFire {
		if !names[ruleOf(key)] {
			delete(e.lastFire, key)
		}
	}
	e.mu.Unlock()

	e.resolveWhere(func(a *Alert) bool { return !names[a.RuleName] }, "rule removed")
	slog.Info("alerts: rules reloaded", "rules", len(rules), "webhooks", len(cfg.Webhooks))
}

func (e *Engine) resolveWhere(match func(*Alert) bool, reason string) {
	now := e.now()
	var resolved []*Alert

	e.mu.Lock()
	for key, a := range e.active {
		if match(a) {
			resolved = append(resolved, e.resolveLocked(key, now))
		}
	}
	e.mu.Unlock()

	for _, a := range resolved {
		slog.Info("alert resolved", "rule", a.RuleName, "api", a.APIID, "reason", reason)
		e.dispatch(a)
	}
}

func (e *Engine) dispatch(a *Alert) {
	e.mu.Lock()
	hooks := e.webhooks
	e.mu.Unlock()
	if len(hooks) == 0 {
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		e.deliver(hooks, a)
	}()
}

// Wait blocks until all pending webhook deliveries have finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first.
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

func validRules(in []config.AlertRule) []config.AlertRule {
	rules := make([]config.AlertRule, 0, len(in))
	for _, r := range in {
		if !validCondition(r.Condition) {
			slog.Warn("alerts: unsupported condition, rule skipped", "rule", r.Name, "condition", r.Condition)
			continue
		}
		rules = append(rules, r)
	}
	return rules
}

// ruleOf returns the rule name part of a "ruleName:apiID" key.
func ruleOf(key string) string {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[:i]
	}
	return key
}

// appliesTo reports whether rule covers d. An empty APIs list covers all.
func appliesTo(rule config.AlertRule, d types.APIDescriptor) bool {
	if len(rule.APIs) == 0 {
		return true
	}
	for _, v := range rule.APIs {
		if v == d.ID || v == d.Name {
			return true
		}
	}
	return false
}
