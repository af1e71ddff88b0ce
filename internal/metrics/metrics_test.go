package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hasl-sensors/hasl/internal/store"
	"github.com/hasl-sensors/hasl/internal/worker"
	"github.com/hasl-sensors/hasl/pkg/types"
)

func newExporter() *Exporter {
	st := store.New(time.Minute)
	st.Put(&types.Entity{UniqueID: "e1_departures", EntityID: "sensor.slussen_departures", EntryID: "e1", State: 4})
	st.Put(&types.Entity{UniqueID: "e1_next_departure", EntryID: "e1", State: time.Now()})

	slots := func() map[worker.Registry]map[string]int {
		return map[worker.Registry]map[string]int{
			worker.RegistryRRD: {types.ResultSuccess: 2, types.ResultError: 1},
		}
	}
	return New(st, slots, func() int { return 3 })
}

func scrape(t *testing.T, x *Exporter) string {
	t.Helper()
	rr := httptest.NewRecorder()
	x.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type: got %q", ct)
	}
	return rr.Body.String()
}

func TestServeHTTP(t *testing.T) {
	x := newExporter()
	x.ObserveRefresh("entry", "e1", nil)
	x.ObserveRefresh("entry", "e1", nil)
	x.ObserveRefresh("rrd", "740000001", errors.New("boom"))

	body := scrape(t, x)
	for _, want := range []string{
		`hasl_entity_state{unique_id="e1_departures",entity_id="sensor.slussen_departures",entry_id="e1"} 4`,
		`hasl_registry_slots{registry="rrd",api_result="Error"} 1`,
		`hasl_registry_slots{registry="rrd",api_result="Success"} 2`,
		`hasl_refresh_total{source="entry",id="e1",result="Success"} 2`,
		`hasl_refresh_total{source="rrd",id="740000001",result="Error"} 1`,
		`hasl_websocket_clients 3`,
		"# TYPE hasl_refresh_total counter",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q\n%s", want, body)
		}
	}
	if strings.Contains(body, "e1_next_departure") {
		t.Error("timestamp state must not be exported as a number")
	}
}

func TestServeHTTP_SkipsEmptyFamilies(t *testing.T) {
	x := New(store.New(time.Minute), nil, nil)
	body := scrape(t, x)
	if body != "" {
		t.Errorf("expected empty output, got %q", body)
	}
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	newExporter().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}
