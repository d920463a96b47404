package simulator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{}

func (fakeClock) Now() time.Time          { return time.Unix(0, 0) }
func (fakeClock) Sleep(time.Duration) {}

func TestFetchSnapshotAggregatesLanesIntoEdges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/snapshots/latest", r.URL.Path)
		_ = json.NewEncoder(w).Encode(snapshotPayload{
			SimulationTime: 120,
			LaneVehicleCount: map[string]float64{
				"AB_0": 3, "AB_1": 2, "CD_0": 5,
			},
			LaneWaitingVehicleCount: map[string]float64{
				"AB_0": 1, "AB_1": 0, "CD_0": 4,
			},
			CurrentPhase:   map[string]int{"A": 1},
			SpillbackEdges: []string{"CD"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL).WithClock(fakeClock{})
	snap, err := c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Edges, 2)

	byEdge := map[string]bool{}
	for _, e := range snap.Edges {
		byEdge[e.From+e.To] = e.SpillbackActive
		if e.From == "A" && e.To == "B" {
			assert.Equal(t, 5.0, e.Flow)
			assert.Equal(t, 1.0, e.Queue)
		}
	}
	assert.True(t, byEdge["CD"])
	assert.False(t, byEdge["AB"])
}

func TestApplyPlanSendsPhaseIDAndReturnsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/intersections/A/plan", r.URL.Path)
		var body applyPlanRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 2, body.PhaseID)
		_ = json.NewEncoder(w).Encode(applyPlanResponse{Success: true})
	}))
	defer srv.Close()

	c := New(srv.URL).WithClock(fakeClock{})
	ok, err := c.ApplyPlan(context.Background(), "A", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFetchSnapshotRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(snapshotPayload{SimulationTime: 1})
	}))
	defer srv.Close()

	c := New(srv.URL).WithClock(fakeClock{})
	_, err := c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchSnapshotFailsAfterExhaustingRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL).WithClock(fakeClock{})
	_, err := c.FetchSnapshot(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(defaultRetries), atomic.LoadInt32(&calls))
}

func TestDoWithRetryAbortsImmediatelyOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New("http://unused.invalid").WithClock(fakeClock{})
	var attempts int
	err := c.doWithRetry(ctx, func(context.Context) error {
		attempts++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, attempts)
}

func TestHealthReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.Health(context.Background())
	require.Error(t, err)
}
