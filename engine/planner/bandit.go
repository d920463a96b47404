package planner

import (
	"context"
	"math"
	"math/rand"

	"github.com/aegislights/controller/engine/knowledge"
	"github.com/aegislights/controller/engine/models"
)

// Algorithm selects the contextual-bandit arm-selection rule (spec §4.5).
type Algorithm string

const (
	AlgorithmUCB      Algorithm = "ucb"
	AlgorithmThompson Algorithm = "thompson_sampling"
)

// selectArm chooses a plan id for one intersection's candidate arms under
// the configured bandit algorithm. Unseen arms (nil from the Knowledge Base)
// always win immediately — both UCB and Thompson treat "never pulled" as
// the strongest possible signal to explore.
func selectArm(ctx context.Context, kb knowledge.KnowledgeBase, rng *rand.Rand, alg Algorithm, epsilon float64, intersection string, planIDs []string) (string, map[string]*models.BanditArm, error) {
	arms := make(map[string]*models.BanditArm, len(planIDs))
	var totalPulls int64
	for _, planID := range planIDs {
		arm, err := kb.GetBanditStats(ctx, intersection, planID)
		if err != nil {
			return "", nil, err
		}
		if arm == nil {
			arms[planID] = &models.BanditArm{Intersection: intersection, PlanID: planID}
			return planID, arms, nil // unseen arm wins by default
		}
		arms[planID] = arm
		totalPulls += arm.TimesSelected
	}

	switch alg {
	case AlgorithmThompson:
		return selectThompson(rng, arms, planIDs), arms, nil
	default:
		return selectUCB(arms, planIDs, totalPulls, epsilon), arms, nil
	}
}

func selectUCB(arms map[string]*models.BanditArm, planIDs []string, totalPulls int64, epsilon float64) string {
	if epsilon <= 0 {
		epsilon = 0.2
	}
	best := planIDs[0]
	bestScore := math.Inf(-1)
	for _, planID := range planIDs {
		arm := arms[planID]
		score := arm.AvgReward() + epsilon*math.Sqrt(math.Log(float64(totalPulls))/float64(arm.TimesSelected))
		if score > bestScore {
			bestScore = score
			best = planID
		}
	}
	return best
}

func selectThompson(rng *rand.Rand, arms map[string]*models.BanditArm, planIDs []string) string {
	best := planIDs[0]
	bestDraw := math.Inf(-1)
	for _, planID := range planIDs {
		arm := arms[planID]
		s := clip01((arm.AvgReward() + 100) / 100)
		n := arm.TimesSelected
		alpha := math.Max(1, float64(n)*s)
		beta := math.Max(1, float64(n)*(1-s))
		draw := sampleBeta(rng, alpha, beta)
		if draw > bestDraw {
			bestDraw = draw
			best = planID
		}
	}
	return best
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sampleBeta draws from Beta(alpha, beta) via two Gamma draws, the standard
// construction (Beta(a,b) = X/(X+Y), X~Gamma(a,1), Y~Gamma(b,1)).
func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	g1 := sampleGamma(rng, alpha)
	g2 := sampleGamma(rng, beta)
	if g1+g2 == 0 {
		return 0
	}
	return g1 / (g1 + g2)
}

// sampleGamma implements Marsaglia & Tsang's method for shape ≥ 1, falling
// back to the boost-by-one-and-correct trick for shape < 1.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// reward computes the loop controller's feedback signal for one cycle
// (spec §4.5): reward = -network_cost - 10*spillback_count, clamped to
// [-100, 0], the range Thompson sampling's success-rate mapping assumes.
func reward(networkCost float64, spillbackCount int) float64 {
	r := -networkCost - 10*float64(spillbackCount)
	if r < -100 {
		return -100
	}
	if r > 0 {
		return 0
	}
	return r
}

// UpdateArm folds one reward observation into the persisted arm counters,
// preserving monotonicity (spec §8 invariant 2).
func UpdateArm(ctx context.Context, kb knowledge.KnowledgeBase, intersection, planID string, networkCost float64, spillbackCount int) error {
	arm, err := kb.GetBanditStats(ctx, intersection, planID)
	if err != nil {
		return err
	}
	if arm == nil {
		arm = &models.BanditArm{Intersection: intersection, PlanID: planID}
	}
	arm.TimesSelected++
	arm.TotalReward += reward(networkCost, spillbackCount)
	return kb.UpdateBanditStats(ctx, *arm)
}
