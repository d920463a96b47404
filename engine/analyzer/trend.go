package analyzer

import "github.com/aegislights/controller/engine/models"

const defaultTrendAlpha = 0.3

// trendFor classifies the slope of an edge's one-sided-EMA-smoothed cost
// history (spec §4.4). Edges with fewer than 3 samples have no trend.
func trendFor(from, to string, history []float64, alpha float64) (models.Trend, bool) {
	if len(history) < 3 {
		return models.Trend{}, false
	}
	if alpha <= 0 || alpha >= 1 {
		alpha = defaultTrendAlpha
	}

	smoothed := make([]float64, len(history))
	smoothed[0] = history[0]
	for i := 1; i < len(history); i++ {
		smoothed[i] = alpha*history[i] + (1-alpha)*smoothed[i-1]
	}

	last3 := smoothed[len(smoothed)-3:]
	slope := last3[2] - last3[0]

	direction := models.TrendStable
	switch {
	case slope > 1.0:
		direction = models.TrendIncreasing
	case slope < -1.0:
		direction = models.TrendDecreasing
	}

	return models.Trend{EdgeFrom: from, EdgeTo: to, Direction: direction, Smoothed: smoothed}, true
}
