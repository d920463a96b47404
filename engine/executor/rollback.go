package executor

import "github.com/aegislights/controller/engine/models"

const (
	defaultRollbackWindow          = 3
	defaultDegradationThreshold    = 0.10
	utilityWeightNetworkCost       = 1.0
	utilityWeightAvgDelay          = 1.0
	utilityWeightAvgQueue          = 0.5
	utilityWeightSpillbackPenalty  = 10.0
)

// utility computes U = -(w1*network_cost + w2*avg_delay + w3*avg_queue +
// w4*spillback_count*P), the rollback manager's health signal (spec §4.6).
func utility(m models.CycleMetrics) float64 {
	return -(utilityWeightNetworkCost*m.NetworkCost +
		utilityWeightAvgDelay*m.AvgDelay.Seconds() +
		utilityWeightAvgQueue*m.AvgQueue +
		utilityWeightSpillbackPenalty*float64(m.TotalSpillbacks))
}

// rollbackManager maintains the bounded utility deque and baseline used to
// detect sustained performance degradation across cycles.
type rollbackManager struct {
	window              []float64
	capacity            int
	baseline            float64
	baselineEstablished bool
	degradationThreshold float64
}

func newRollbackManager(capacity int, degradationThreshold float64) *rollbackManager {
	if capacity <= 0 {
		capacity = defaultRollbackWindow
	}
	if degradationThreshold <= 0 {
		degradationThreshold = defaultDegradationThreshold
	}
	return &rollbackManager{capacity: capacity, degradationThreshold: degradationThreshold}
}

// observe folds one cycle's metrics into the window and reports whether a
// rollback should be triggered (spec §4.6).
func (r *rollbackManager) observe(m models.CycleMetrics) (shouldRollback bool) {
	u := utility(m)
	r.window = append(r.window, u)
	if len(r.window) > r.capacity {
		r.window = r.window[len(r.window)-r.capacity:]
	}
	if len(r.window) < r.capacity {
		return false // baseline not yet established
	}

	avg := meanOf(r.window)
	if !r.baselineEstablished {
		r.baseline = avg
		r.baselineEstablished = true
		return false
	}

	if avg > r.baseline {
		r.baseline = avg // monotone improvement
		return false
	}

	degradation := (r.baseline - avg) / absFloat(r.baseline)
	return r.baseline != 0 && degradation > r.degradationThreshold
}

func meanOf(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}
