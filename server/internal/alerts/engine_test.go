package alerts

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/infradash/infradash/pkg/types"
	"github.com/infradash/infradash/server/internal/config"
)

// --- helpers ----------------------------------------------------------------

func apiStatus(id string, s types.Status, live, ready string, ms int64) types.APIStatus {
	return types.APIStatus{
		APIDescriptor: types.APIDescriptor{ID: id, Name: "svc-" + id, BaseURL: "http://" + id},
		Status:        s,
		Health: &types.HealthRecord{
			Liveness:       types.ProbeResult{Status: live},
			Readiness:      types.ProbeResult{Status: ready},
			ResponseTimeMs: ms,
		},
	}
}

func healthy(id string) types.APIStatus {
	return apiStatus(id, types.StatusHealthy, "ok", "ready", 20)
}

func unhealthy(id string) types.APIStatus {
	return apiStatus(id, types.StatusUnhealthy, "error", "ready", 20)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newEngine(rules ...config.AlertRule) (*Engine, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := New(config.AlertsConfig{Rules: rules})
	e.now = c.now
	return e, c
}

var downRule = config.AlertRule{Name: "api-down", Condition: "status == unhealthy", Severity: "critical"}

// --- condition --------------------------------------------------------------

func TestEvalCondition(t *testing.T) {
	st := apiStatus("a", types.StatusUnhealthy, "ok", "error", 1500)
	cases := []struct {
		cond  string
		fires bool
		value float64
	}{
		{"status == unhealthy", true, 0},
		{"status == UNHEALTHY", true, 0},
		{"status != unhealthy", false, 0},
		{"liveness != ok", false, 0},
		{"readiness == error", true, 0},
		{"response_ms > 1000", true, 1500},
		{"response_ms <= 1000", false, 1500},
		{"response_ms != 1500", false, 1500},
		{"response_ms > abc", false, 0},
		{"uptime > 1", false, 0},
		{"status ==", false, 0},
	}
	for _, c := range cases {
		fires, v := evalCondition(c.cond, st)
		if fires != c.fires || v != c.value {
			t.Errorf("evalCondition(%q): got (%v, %v), want (%v, %v)", c.cond, fires, v, c.fires, c.value)
		}
	}
}

func TestEvalCondition_UncheckedAPI(t *testing.T) {
	st := types.APIStatus{APIDescriptor: types.APIDescriptor{ID: "a"}, Status: types.StatusUnknown}
	if fires, _ := evalCondition("liveness != ok", st); fires {
		t.Error("probe condition fired without a health record")
	}
	if fires, _ := evalCondition("status == unknown", st); !fires {
		t.Error("status condition should see unknown")
	}
}

func TestNew_SkipsInvalidConditions(t *testing.T) {
	e, _ := newEngine(downRule, config.AlertRule{Name: "bad", Condition: "drop_pct > 10"})
	if len(e.rules) != 1 || e.rules[0].Name != "api-down" {
		t.Errorf("rules: got %+v", e.rules)
	}
}

// --- engine -----------------------------------------------------------------

func TestEngine_FireAndResolve(t *testing.T) {
	e, c := newEngine(downRule)

	e.Observe(unhealthy("a"))
	active := e.Active()
	if len(active) != 1 {
		t.Fatalf("active: got %d, want 1", len(active))
	}
	a := active[0]
	if a.State != StateFiring || a.APIID != "a" || a.APIName != "svc-a" || a.Severity != "critical" {
		t.Errorf("alert: %+v", a)
	}

	c.advance(time.Minute)
	e.Observe(healthy("a"))
	active = e.Active()
	if len(active) != 1 || active[0].State != StateResolved || active[0].ResolvedAt == nil {
		t.Fatalf("after recovery: %+v", active)
	}

	c.advance(2 * time.Hour)
	if n := len(e.Active()); n != 0 {
		t.Errorf("resolved alert older than the window still listed: %d", n)
	}
}

func TestEngine_NoDuplicateWhileFiring(t *testing.T) {
	e, c := newEngine(downRule)
	for i := 0; i < 3; i++ {
		e.Observe(unhealthy("a"))
		c.advance(time.Hour)
	}
	if n := len(e.Active()); n != 1 {
		t.Errorf("active: got %d, want 1", n)
	}
}

func TestEngine_Cooldown(t *testing.T) {
	rule := downRule
	rule.Cooldown = 10 * time.Minute
	e, c := newEngine(rule)

	e.Observe(unhealthy("a"))
	e.Observe(healthy("a"))

	c.advance(5 * time.Minute)
	e.Observe(unhealthy("a"))
	for _, a := range e.Active() {
		if a.State == StateFiring {
			t.Fatal("re-fired inside cooldown")
		}
	}

	c.advance(6 * time.Minute)
	e.Observe(unhealthy("a"))
	firing := 0
	for _, a := range e.Active() {
		if a.State == StateFiring {
			firing++
		}
	}
	if firing != 1 {
		t.Errorf("firing after cooldown: got %d, want 1", firing)
	}
}

func TestEngine_PerAPIKeys(t *testing.T) {
	e, _ := newEngine(downRule)
	e.Observe(unhealthy("a"))
	e.Observe(unhealthy("b"))
	if n := len(e.Active()); n != 2 {
		t.Errorf("active: got %d, want 2", n)
	}
}

func TestEngine_RuleAPIFilter(t *testing.T) {
	rule := downRule
	rule.APIs = []string{"svc-b"}
	e, _ := newEngine(rule)

	e.Observe(unhealthy("a"))
	e.Observe(unhealthy("b"))
	active := e.Active()
	if len(active) != 1 || active[0].APIID != "b" {
		t.Errorf("active: %+v", active)
	}
}

func TestEngine_ActiveNewestFirst(t *testing.T) {
	e, c := newEngine(downRule)
	e.Observe(unhealthy("a"))
	c.advance(time.Minute)
	e.Observe(unhealthy("b"))

	active := e.Active()
	if len(active) != 2 || active[0].APIID != "b" {
		t.Errorf("order: %+v", active)
	}
}

func TestEngine_NoRules(t *testing.T) {
	e, _ := newEngine()
	e.Observe(unhealthy("a"))
	if n := len(e.Active()); n != 0 {
		t.Errorf("active: got %d, want 0", n)
	}
}

func TestEngine_ForgetResolvesRemovedAPIs(t *testing.T) {
	e, _ := newEngine(downRule)
	e.Observe(unhealthy("a"))
	e.Observe(unhealthy("b"))

	e.Forget(map[string]bool{"b": true})

	states := map[string]string{}
	for _, a := range e.Active() {
		states[a.APIID] = a.State
	}
	if states["a"] != StateResolved || states["b"] != StateFiring {
		t.Errorf("states after forget: %v", states)
	}
}

func TestEngine_ReloadSwapsRules(t *testing.T) {
	e, _ := newEngine(downRule)

	slow := config.AlertRule{Name: "slow", Condition: "response_ms > 10"}
	e.Reload(config.AlertsConfig{Rules: []config.AlertRule{slow, {Name: "bad", Condition: "nope"}}})

	if len(e.rules) != 1 || e.rules[0].Name != "slow" {
		t.Fatalf("rules after reload: %+v", e.rules)
	}
	e.Observe(healthy("a"))
	active := e.Active()
	if len(active) != 1 || active[0].RuleName != "slow" {
		t.Errorf("active: %+v", active)
	}
}

func TestEngine_ReloadResolvesDroppedRules(t *testing.T) {
	e, _ := newEngine(downRule)
	e.Observe(unhealthy("a"))

	e.Reload(config.AlertsConfig{})

	active := e.Active()
	if len(active) != 1 || active[0].State != StateResolved {
		t.Errorf("alert of a dropped rule should resolve: %+v", active)
	}
	e.Observe(unhealthy("a"))
	for _, a := range e.Active() {
		if a.State == StateFiring {
			t.Errorf("fired with no rules: %+v", a)
		}
	}
}

// --- webhooks ---------------------------------------------------------------

type hookSink struct {
	mu     sync.Mutex
	bodies []map[string]interface{}
}

func (s *hookSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	var m map[string]interface{}
	_ = json.Unmarshal(b, &m)
	s.mu.Lock()
	s.bodies = append(s.bodies, m)
	s.mu.Unlock()
}

func (s *hookSink) all() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.bodies...)
}

func TestEngine_WebhookDelivery(t *testing.T) {
	sink := &hookSink{}
	srv := httptest.NewServer(sink)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_ALERT_HOOK", srv.URL)

	e := New(config.AlertsConfig{
		Rules:    []config.AlertRule{downRule},
		Webhooks: []config.WebhookConfig{{Type: "http", URLEnv: "TEST_ALERT_HOOK"}},
	})

	e.Observe(unhealthy("a"))
	e.Observe(healthy("a"))
	e.Wait()

	bodies := sink.all()
	if len(bodies) != 2 {
		t.Fatalf("deliveries: got %d, want 2", len(bodies))
	}
	states := map[string]bool{}
	for _, b := range bodies {
		a, ok := b["alert"].(map[string]interface{})
		if !ok {
			t.Fatalf("payload: %v", b)
		}
		states[a["state"].(string)] = true
	}
	if !states[StateFiring] || !states[StateResolved] {
		t.Errorf("states delivered: %v", states)
	}
}

func TestEngine_PagerDutyPayload(t *testing.T) {
	sink := &hookSink{}
	srv := httptest.NewServer(sink)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_PD_HOOK", srv.URL)

	e := New(config.AlertsConfig{
		Rules:    []config.AlertRule{downRule},
		Webhooks: []config.WebhookConfig{{Type: "pagerduty", URLEnv: "TEST_PD_HOOK"}},
	})
	e.Observe(unhealthy("a"))
	e.Wait()

	bodies := sink.all()
	if len(bodies) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(bodies))
	}
	if bodies[0]["event_action"] != "trigger" || bodies[0]["dedup_key"] != "api-down:a" {
		t.Errorf("payload: %v", bodies[0])
	}
}

func TestEngine_ForgetDispatchesResolve(t *testing.T) {
	sink := &hookSink{}
	srv := httptest.NewServer(sink)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_FORGET_HOOK", srv.URL)

	e := New(config.AlertsConfig{
		Rules:    []config.AlertRule{downRule},
		Webhooks: []config.WebhookConfig{{Type: "pagerduty", URLEnv: "TEST_FORGET_HOOK"}},
	})
	e.Observe(unhealthy("a"))
	e.Forget(map[string]bool{})
	e.Wait()

	bodies := sink.all()
	if len(bodies) != 2 {
		t.Fatalf("deliveries: got %d, want 2", len(bodies))
	}
	actions := map[interface{}]bool{}
	for _, b := range bodies {
		actions[b["event_action"]] = true
	}
	if !actions["trigger"] || !actions["resolve"] {
		t.Errorf("actions: %v", actions)
	}
}
