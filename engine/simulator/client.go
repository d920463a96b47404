// Package simulator implements the HTTP/JSON client against the traffic
// simulator's external interface (spec §6): snapshot fetch, plan apply, and
// liveness check, with the retry policy spec §7 assigns to simulator I/O.
package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aegislights/controller/engine/models"
	"github.com/aegislights/controller/engine/ratelimit"
)

const (
	defaultRetries = 3
	retrySpacing   = 1 * time.Second
	requestTimeout = 30 * time.Second
)

// Client talks to the simulator over HTTP/JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
	clock      ratelimit.Clock
	retries    int
}

// New constructs a simulator Client. baseURL should not have a trailing
// slash.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		clock:      ratelimit.New(),
		retries:    defaultRetries,
	}
}

// WithClock overrides the clock used between retries, for deterministic
// tests.
func (c *Client) WithClock(clock ratelimit.Clock) *Client {
	c.clock = clock
	return c
}

// FetchSnapshot implements monitor.SnapshotSource. Any failure after
// exhausting retries is surfaced as an error; Monitor treats that as "no
// snapshot this cycle" (spec §7).
func (c *Client) FetchSnapshot(ctx context.Context) (models.NetworkSnapshot, error) {
	var payload snapshotPayload
	if err := c.doWithRetry(ctx, func(ctx context.Context) error {
		return c.getJSON(ctx, "/snapshots/latest", &payload)
	}); err != nil {
		return models.NetworkSnapshot{}, fmt.Errorf("simulator: fetch snapshot: %w", models.ErrSimulatorUnreachable)
	}
	return aggregateSnapshot(payload), nil
}

// ApplyPlan implements executor.SignalClient.
func (c *Client) ApplyPlan(ctx context.Context, intersection string, phaseID int) (bool, error) {
	var resp applyPlanResponse
	err := c.doWithRetry(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(applyPlanRequest{PhaseID: phaseID})
		if err != nil {
			return err
		}
		return c.postJSON(ctx, fmt.Sprintf("/intersections/%s/plan", intersection), body, &resp)
	})
	if err != nil {
		return false, fmt.Errorf("simulator: apply plan for %s: %w", intersection, models.ErrSimulatorUnreachable)
	}
	return resp.Success, nil
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("simulator: health check status %d", resp.StatusCode)
	}
	return nil
}

// doWithRetry retries op up to c.retries times, spacing each attempt by
// retrySpacing, aborting immediately on context cancellation (spec §5:
// "cancellation observed between every simulator call").
func (c *Client) doWithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := op(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < c.retries-1 {
			c.clock.Sleep(retrySpacing)
		}
	}
	return lastErr
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("simulator: GET %s status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("simulator: POST %s status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// aggregateSnapshot collapses per-lane counts into per-edge observations by
// trimming each lane id's trailing _LANEINDEX suffix (spec §6).
func aggregateSnapshot(p snapshotPayload) models.NetworkSnapshot {
	type accum struct {
		vehicles, waiting float64
		n                 int
	}
	byEdge := make(map[string]*accum)
	for lane, count := range p.LaneVehicleCount {
		edgeID := trimLaneIndex(lane)
		a := byEdge[edgeID]
		if a == nil {
			a = &accum{}
			byEdge[edgeID] = a
		}
		a.vehicles += count
		a.n++
	}
	for lane, waiting := range p.LaneWaitingVehicleCount {
		edgeID := trimLaneIndex(lane)
		a := byEdge[edgeID]
		if a == nil {
			a = &accum{}
			byEdge[edgeID] = a
		}
		a.waiting += waiting
	}

	spillback := toSet(p.SpillbackEdges)
	incident := toSet(p.IncidentEdges)

	edges := make([]models.EdgeObservation, 0, len(byEdge))
	for edgeID, a := range byEdge {
		from, to := splitEdgeID(edgeID)
		if from == "" || to == "" {
			continue
		}
		edges = append(edges, models.EdgeObservation{
			From: from, To: to,
			Queue: a.waiting, Flow: a.vehicles,
			SpillbackActive: spillback[edgeID],
			IncidentActive:  incident[edgeID],
		})
	}

	var avgTrip *time.Duration
	if p.AverageTravelTime != nil {
		d := time.Duration(*p.AverageTravelTime * float64(time.Second))
		avgTrip = &d
	}

	return models.NetworkSnapshot{
		Timestamp:    time.Unix(int64(p.SimulationTime), 0),
		Edges:        edges,
		CurrentPhase: p.CurrentPhase,
		AvgTripTime:  avgTrip,
	}
}

func trimLaneIndex(lane string) string {
	idx := strings.LastIndex(lane, "_")
	if idx < 0 {
		return lane
	}
	return lane[:idx]
}

// splitEdgeID recovers (from, to) from a concatenated edge id under the
// reference network's single-character-id convention (spec §6: ids `A..E`,
// `1..8`). Multi-character ids aren't supported by this split; callers that
// need them should carry (from, to) separately in the wire payload instead.
func splitEdgeID(edgeID string) (string, string) {
	if len(edgeID) != 2 {
		return "", ""
	}
	return edgeID[:1], edgeID[1:]
}

func toSet(s []string) map[string]bool {
	out := make(map[string]bool, len(s))
	for _, v := range s {
		out[v] = true
	}
	return out
}
