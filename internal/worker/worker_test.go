package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasl-sensors/hasl/internal/journey"
	"github.com/hasl-sensors/hasl/internal/rrapi"
	"github.com/hasl-sensors/hasl/pkg/types"
)

type fakeResrobot struct {
	mu    sync.Mutex
	calls map[string]int
	deps  map[string][]rrapi.BoardEntry
	arrs  map[string][]rrapi.BoardEntry
	trips map[string]*journey.Response
	fail  map[string]error
}

func newFakeResrobot() *fakeResrobot {
	return &fakeResrobot{
		calls: map[string]int{},
		deps:  map[string][]rrapi.BoardEntry{},
		arrs:  map[string][]rrapi.BoardEntry{},
		trips: map[string]*journey.Response{},
		fail:  map[string]error{},
	}
}

func (f *fakeResrobot) hit(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	return f.fail[id]
}

func (f *fakeResrobot) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeResrobot) Departures(_ context.Context, stop string) ([]rrapi.BoardEntry, error) {
	if err := f.hit("d" + stop); err != nil {
		return nil, err
	}
	return f.deps[stop], nil
}

func (f *fakeResrobot) Arrivals(_ context.Context, stop string) ([]rrapi.BoardEntry, error) {
	if err := f.hit("a" + stop); err != nil {
		return nil, err
	}
	return f.arrs[stop], nil
}

func (f *fakeResrobot) Trip(_ context.Context, origin, dest string) (*journey.Response, error) {
	if err := f.hit("t" + origin + "-" + dest); err != nil {
		return nil, err
	}
	return f.trips[origin+"-"+dest], nil
}

type fakePositions struct {
	err error
}

func (f *fakePositions) VehiclePositions(_ context.Context, vt string) ([]map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []map[string]any{{"TripId": vt + "-1"}}, nil
}

var testNow = time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC)

func newTestWorker(t *testing.T, rr *fakeResrobot, minAge time.Duration) *Worker {
	t.Helper()
	w := New(Options{
		NewResrobot:   func(string) ResrobotClient { return rr },
		Positions:     &fakePositions{},
		Location:      time.UTC,
		MinRefreshAge: minAge,
	})
	w.now = func() time.Time { return testNow }
	return w
}

func board(date, clock, rtDate, rtTime, line, cat string) rrapi.BoardEntry {
	e := rrapi.BoardEntry{Date: date, Time: clock, RtDate: rtDate, RtTime: rtTime, Direction: "Centralen", Origin: "Solna"}
	e.ProductAtStop.DisplayNumber = journey.Flex(line)
	e.ProductAtStop.CatOut = cat
	e.ProductAtStop.Operator = "SL"
	e.DirectionFlag = "1"
	return e
}

func TestAssert_CreatesPendingSlots(t *testing.T) {
	w := newTestWorker(t, newFakeResrobot(), 0)
	w.AssertRRD("key1", "740000001")
	w.AssertRRD("key1", "740000001")
	w.AssertRRA("key1", "740000002")
	w.AssertRRR("key1", "740000001", "740000002")

	s, ok := w.Slot(RegistryRRD, "740000001")
	require.True(t, ok)
	assert.Equal(t, "rrapi-rrd", s.APIType)
	assert.Equal(t, InitialLastRun, s.APILastRun)
	assert.Equal(t, types.ResultPending, s.APIResult)

	d := w.Dump()
	require.Len(t, d.RRKeys, 1)
	assert.Equal(t, "740000001,740000001", d.RRKeys[0].Deps)
	assert.Equal(t, "740000002", d.RRKeys[0].Arrs)
	assert.Equal(t, "740000001-740000002", d.RRKeys[0].Trips)
	assert.Equal(t, "****", d.RRKeys[0].APIKey)
	assert.Len(t, d.RRD, 1)
	assert.Len(t, d.RRA, 1)
	assert.Len(t, d.RRR, 1)
}

func TestProcessRRD_DedupesAndMaps(t *testing.T) {
	rr := newFakeResrobot()
	rr.deps["1"] = []rrapi.BoardEntry{
		board("2024-05-03", "12:10:00", "", "", "4", "BLT"),
		board("2024-05-03", "12:05:00", "2024-05-03", "12:02:31", "17", "ULT"),
		board("2024-05-03", "12:07:00", "", "", "X1", "UNKNOWN"),
	}
	w := newTestWorker(t, rr, 0)
	w.AssertRRD("key1", "1")
	w.AssertRRD("key1", "1")
	w.AssertRRD("key1", "2")

	w.ProcessRRD(context.Background())

	assert.Equal(t, 1, rr.count("d1"))
	assert.Equal(t, 1, rr.count("d2"))

	s, ok := w.Slot(RegistryRRD, "1")
	require.True(t, ok)
	assert.Equal(t, types.ResultSuccess, s.APIResult)
	assert.Equal(t, rrapi.Attribution, s.Attribution)
	assert.Equal(t, "2024-05-03 12:00:00", s.LastUpdated)
	assert.Equal(t, "2024-05-03 12:00:00", s.APILastRun)
	assert.Equal(t, 100.0, s.SuccessPercent)

	deps, ok := s.Data.([]BoardDeparture)
	require.True(t, ok)
	require.Len(t, deps, 3)
	assert.Equal(t, "17", deps[0].Line)
	assert.Equal(t, 3, deps[0].Time, "realtime preferred and rounded")
	assert.Equal(t, "mdi:subway-variant", deps[0].Icon)
	assert.Equal(t, time.Date(2024, 5, 3, 12, 5, 0, 0, time.UTC), deps[0].Departure)
	assert.Equal(t, time.Date(2024, 5, 3, 12, 2, 31, 0, time.UTC), deps[0].Expected)
	assert.Equal(t, "X1", deps[1].Line)
	assert.Equal(t, DefaultIcon, deps[1].Icon)
	assert.Equal(t, 10, deps[2].Time)
	assert.Equal(t, "mdi:bus", deps[2].Icon)
	assert.Equal(t, "Centralen", deps[2].Destination)
}

func TestProcessRRD_SharedStopFetchedOncePerPass(t *testing.T) {
	rr := newFakeResrobot()
	w := newTestWorker(t, rr, 30*time.Second)
	w.AssertRRD("key1", "1")
	w.AssertRRD("key2", "1")

	w.ProcessRRD(context.Background())
	assert.Equal(t, 1, rr.count("d1"))

	// Still fresh on the next pass.
	w.ProcessRRD(context.Background())
	assert.Equal(t, 1, rr.count("d1"))

	w.now = func() time.Time { return testNow.Add(time.Minute) }
	w.ProcessRRD(context.Background())
	assert.Equal(t, 2, rr.count("d1"))
}

func TestProcessRRD_ErrorDoesNotAbortPass(t *testing.T) {
	rr := newFakeResrobot()
	rr.fail["d1"] = errors.New("upstream down")
	w := newTestWorker(t, rr, 0)
	w.AssertRRD("key1", "1")
	w.AssertRRD("key1", "2")

	var observed []string
	w.SetObserver(func(reg Registry, id string, err error) {
		observed = append(observed, string(reg)+"/"+id)
	})
	w.ProcessRRD(context.Background())

	s1, _ := w.Slot(RegistryRRD, "1")
	assert.Equal(t, types.ResultError, s1.APIResult)
	assert.Equal(t, "upstream down", s1.APIError)
	assert.Equal(t, "2024-05-03 12:00:00", s1.APILastRun)
	assert.Equal(t, 0.0, s1.SuccessPercent)

	s2, _ := w.Slot(RegistryRRD, "2")
	assert.Equal(t, types.ResultSuccess, s2.APIResult)
	assert.Equal(t, []string{"rrd/1", "rrd/2"}, observed)

	// Recovery clears the error and keeps the history.
	delete(rr.fail, "d1")
	w.ProcessRRD(context.Background())
	s1, _ = w.Slot(RegistryRRD, "1")
	assert.Equal(t, types.ResultSuccess, s1.APIResult)
	assert.Empty(t, s1.APIError)
	assert.Equal(t, 50.0, s1.SuccessPercent)
}

func TestProcessRRD_BadTimestampIsSlotError(t *testing.T) {
	rr := newFakeResrobot()
	rr.deps["1"] = []rrapi.BoardEntry{board("03/05/2024", "12:10", "", "", "4", "BLT")}
	w := newTestWorker(t, rr, 0)
	w.AssertRRD("key1", "1")

	w.ProcessRRD(context.Background())
	s, _ := w.Slot(RegistryRRD, "1")
	assert.Equal(t, types.ResultError, s.APIResult)
}

func TestProcessRRA(t *testing.T) {
	rr := newFakeResrobot()
	rr.arrs["2"] = []rrapi.BoardEntry{board("2024-05-03", "12:20:00", "", "", "41", "JLT")}
	w := newTestWorker(t, rr, 0)
	w.AssertRRA("key1", "2")

	w.ProcessRRA(context.Background())
	s, _ := w.Slot(RegistryRRA, "2")
	require.Equal(t, types.ResultSuccess, s.APIResult)
	arrs := s.Data.([]BoardArrival)
	require.Len(t, arrs, 1)
	assert.Equal(t, 20, arrs[0].Time)
	assert.Equal(t, "Solna", arrs[0].Origin)
	assert.Equal(t, "mdi:train", arrs[0].Icon)
}

func TestProcessRRR(t *testing.T) {
	rr := newFakeResrobot()
	rr.trips["1-2"] = &journey.Response{Trips: []journey.Trip{{
		Duration: "PT20M",
		LegList: journey.LegList{Legs: []journey.Leg{{
			Type:        "JNY",
			Products:    journey.Products{{Name: "Buss 4", Line: "4"}},
			Origin:      journey.Place{Name: "A", Date: "2024-05-03", Time: "12:05:00"},
			Destination: journey.Place{Name: "B"},
		}}},
	}}}
	w := newTestWorker(t, rr, 0)
	w.AssertRRR("key1", "1", "2")
	w.AssertRRR("key1", "3", "4")
	w.AssertRRR("key1", "1", "2")

	w.ProcessRRR(context.Background())
	assert.Equal(t, 1, rr.count("t1-2"))

	s, _ := w.Slot(RegistryRRR, "1-2")
	require.Equal(t, types.ResultSuccess, s.APIResult)
	route := s.Data.(*journey.Route)
	assert.Equal(t, "0:20:00", route.Duration)
	assert.Equal(t, 0, route.Transfers)

	// 3-4 has no trips in the fake, so Transform reports an error.
	s, _ = w.Slot(RegistryRRR, "3-4")
	assert.Equal(t, types.ResultError, s.APIResult)
}

func TestProcessFP(t *testing.T) {
	w := newTestWorker(t, newFakeResrobot(), 0)
	w.AssertFP("PT")
	w.ProcessFP(context.Background())

	s, _ := w.Slot(RegistryFP, "PT")
	require.Equal(t, types.ResultSuccess, s.APIResult)
	assert.Equal(t, "slapi-fp1", s.APIType)
	assert.Len(t, s.Data, 1)

	w.positions = &fakePositions{err: errors.New("boom")}
	w.ProcessFP(context.Background())
	s, _ = w.Slot(RegistryFP, "PT")
	assert.Equal(t, types.ResultError, s.APIResult)
}

func TestProcessRP3_Disabled(t *testing.T) {
	rr := newFakeResrobot()
	w := newTestWorker(t, rr, 0)
	w.AssertRP3("key1", "1", "2")
	w.ProcessRP3(context.Background())

	s, ok := w.Slot(RegistryRP3, "1-2")
	require.True(t, ok)
	assert.Equal(t, types.ResultPending, s.APIResult)
	assert.Equal(t, "slapi-rp3", s.APIType)
}

func TestRelease(t *testing.T) {
	w := newTestWorker(t, newFakeResrobot(), 0)
	w.AssertRRD("key1", "1")
	w.AssertRRD("key2", "1")
	w.AssertRRA("key1", "2")
	w.AssertFP("PT")
	w.AssertFP("PT")

	w.ReleaseRRD("key1", "1")
	_, ok := w.Slot(RegistryRRD, "1")
	assert.True(t, ok, "key2 still references stop 1")

	w.ReleaseRRD("key2", "1")
	_, ok = w.Slot(RegistryRRD, "1")
	assert.False(t, ok)
	assert.Len(t, w.Dump().RRKeys, 1, "key2 record dropped once empty")

	w.ReleaseRRA("key1", "2")
	assert.Empty(t, w.Dump().RRKeys)

	w.ReleaseFP("PT")
	_, ok = w.Slot(RegistryFP, "PT")
	assert.True(t, ok)
	w.ReleaseFP("PT")
	_, ok = w.Slot(RegistryFP, "PT")
	assert.False(t, ok)

	w.AssertRRR("key1", "1", "2")
	w.ReleaseRRR("key1", "1", "2")
	_, ok = w.Slot(RegistryRRR, "1-2")
	assert.False(t, ok)
}

func TestRelease_DuplicateSubscriptionKeepsSlot(t *testing.T) {
	w := newTestWorker(t, newFakeResrobot(), 0)
	w.AssertRRD("key1", "1")
	w.AssertRRD("key1", "1")

	w.ReleaseRRD("key1", "1")
	_, ok := w.Slot(RegistryRRD, "1")
	assert.True(t, ok)
}

func TestRefreshAll_NotifiesAndCounts(t *testing.T) {
	w := newTestWorker(t, newFakeResrobot(), 0)
	w.AssertRRD("key1", "1")
	w.AssertFP("SB")

	var mu sync.Mutex
	seen := map[Registry]int{}
	unsub := w.OnUpdate(func(r Registry) {
		mu.Lock()
		seen[r]++
		mu.Unlock()
	})
	assert.Equal(t, 1, w.Subscribers())

	w.RefreshAll(context.Background())
	assert.Equal(t, 1, seen[RegistryRRD])
	assert.Equal(t, 1, seen[RegistryFP])
	assert.Equal(t, 1, seen[RegistryRP3])

	counts := w.ResultCounts()
	assert.Equal(t, 1, counts[RegistryRRD][types.ResultSuccess])
	assert.Equal(t, 1, counts[RegistryFP][types.ResultSuccess])
	assert.Equal(t, 0, counts[RegistryRRA][types.ResultError])

	unsub()
	assert.Equal(t, 0, w.Subscribers())
}

func TestRun_StartupFlag(t *testing.T) {
	w := newTestWorker(t, newFakeResrobot(), 0)
	assert.True(t, w.Status().StartupInProgress)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.OnUpdate(func(Registry) {})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return !w.Status().StartupInProgress }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, w.Status().RunningBackgroundTasks)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", maskKey("abcd"))
	assert.Equal(t, "******7890", maskKey("1234567890"))
}

func TestIcon(t *testing.T) {
	assert.Equal(t, "mdi:ferry", Icon("FUT"))
	assert.Equal(t, "mdi:tram", Icon("SLT"))
	assert.Equal(t, DefaultIcon, Icon(""))
}
