// Package metrics exposes entity states and refresh counters in the
// Prometheus text exposition format.
package metrics

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/hasl-sensors/hasl/internal/store"
	"github.com/hasl-sensors/hasl/internal/worker"
	"github.com/hasl-sensors/hasl/pkg/types"
)

type refreshKey struct {
	source string
	id     string
	result string
}

// Exporter serves /metrics. Refresh outcomes are counted through
// ObserveRefresh; everything else is read at scrape time.
type Exporter struct {
	store   *store.Store
	slots   func() map[worker.Registry]map[string]int
	clients func() int

	mu      sync.Mutex
	refresh map[refreshKey]float64
}

// New creates an Exporter. slots and clients may be nil.
func New(st *store.Store, slots func() map[worker.Registry]map[string]int, clients func() int) *Exporter {
	return &Exporter{
		store:   st,
		slots:   slots,
		clients: clients,
		refresh: make(map[refreshKey]float64),
	}
}

// ObserveRefresh counts one refresh of an entry coordinator or registry slot.
// source is "entry" or a registry name.
func (x *Exporter) ObserveRefresh(source, id string, err error) {
	result := types.ResultSuccess
	if err != nil {
		result = types.ResultError
	}
	x.mu.Lock()
	x.refresh[refreshKey{source: source, id: id, result: result}]++
	x.mu.Unlock()
}

// Families returns the current metric families, sorted by name.
func (x *Exporter) Families() []*dto.MetricFamily {
	fams := []*dto.MetricFamily{
		x.entityStates(),
		x.refreshTotals(),
	}
	if x.slots != nil {
		fams = append(fams, x.registrySlots())
	}
	if x.clients != nil {
		fams = append(fams, gaugeFamily("hasl_websocket_clients",
			"Connected websocket stream clients.",
			gauge(float64(x.clients()))))
	}
	sort.Slice(fams, func(i, j int) bool { return fams[i].GetName() < fams[j].GetName() })
	return fams
}

func (x *Exporter) entityStates() *dto.MetricFamily {
	var ms []*dto.Metric
	for _, r := range x.store.List() {
		v, ok := r.Entity.NumericState()
		if !ok {
			continue
		}
		ms = append(ms, gauge(v,
			"unique_id", r.Entity.UniqueID,
			"entity_id", r.Entity.EntityID,
			"entry_id", r.Entity.EntryID,
		))
	}
	return gaugeFamily("hasl_entity_state", "Numeric state of each published entity.", ms...)
}

func (x *Exporter) registrySlots() *dto.MetricFamily {
	counts := x.slots()
	regs := make([]string, 0, len(counts))
	for reg := range counts {
		regs = append(regs, string(reg))
	}
	sort.Strings(regs)

	var ms []*dto.Metric
	for _, reg := range regs {
		byResult := counts[worker.Registry(reg)]
		results := make([]string, 0, len(byResult))
		for res := range byResult {
			results = append(results, res)
		}
		sort.Strings(results)
		for _, res := range results {
			ms = append(ms, gauge(float64(byResult[res]), "registry", reg, "api_result", res))
		}
	}
	return gaugeFamily("hasl_registry_slots", "Registry slots by api_result.", ms...)
}

func (x *Exporter) refreshTotals() *dto.MetricFamily {
	x.mu.Lock()
	values := make(map[refreshKey]float64, len(x.refresh))
	keys := make([]refreshKey, 0, len(x.refresh))
	for k, v := range x.refresh {
		values[k] = v
		keys = append(keys, k)
	}
	x.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.source != b.source {
			return a.source < b.source
		}
		if a.id != b.id {
			return a.id < b.id
		}
		return a.result < b.result
	})

	ms := make([]*dto.Metric, 0, len(keys))
	for _, k := range keys {
		ms = append(ms, &dto.Metric{
			Label:   labels("source", k.source, "id", k.id, "result", k.result),
			Counter: &dto.Counter{Value: proto.Float64(values[k])},
		})
	}
	return &dto.MetricFamily{
		Name:   proto.String("hasl_refresh_total"),
		Help:   proto.String("Refreshes by source, id and result."),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: ms,
	}
}

// ServeHTTP writes the families in the format negotiated from Accept.
func (x *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	format := expfmt.Negotiate(r.Header)
	w.Header().Set("Content-Type", string(format))

	enc := expfmt.NewEncoder(w, format)
	for _, mf := range x.Families() {
		if len(mf.Metric) == 0 {
			continue
		}
		if err := enc.Encode(mf); err != nil {
			slog.Warn("metrics: encode failed", "family", mf.GetName(), "err", err)
			return
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		_ = closer.Close()
	}
}

func gaugeFamily(name, help string, ms ...*dto.Metric) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: ms,
	}
}

func gauge(v float64, kv ...string) *dto.Metric {
	return &dto.Metric{
		Label: labels(kv...),
		Gauge: &dto.Gauge{Value: proto.Float64(v)},
	}
}

func labels(kv ...string) []*dto.LabelPair {
	out := make([]*dto.LabelPair, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, &dto.LabelPair{Name: proto.String(kv[i]), Value: proto.String(kv[i+1])})
	}
	return out
}
