package rank

import (
	"math"
	"time"

	"github.com/rushteam/nearrec/core"
	"github.com/rushteam/nearrec/pkg/vecmath"
)

// 代价与流行度函数。均为单调、有界、确定性函数。
//
//	distance: [0, 1.5]   price: [0, 0.5]   difficulty: [0, 0.5]   poprec: [0, 1.2]
const (
	distanceFreeKm   = 3.0
	distanceKneeKm   = 10.0
	distanceKneeCost = 0.3
	distanceMaxCost  = 1.5

	difficultyMin     = 1
	difficultyMax     = 5
	difficultyNeutral = 0.1
	difficultyMaxCost = 0.5

	popularityLogScale = 3.0
	recencyBoost       = 0.2
	recencyWindow      = 10 * 24 * time.Hour
)

// DistancePenalty 3km 以内无代价，3~10km 线性升到 0.3，之后每 20km 增加 1.2，封顶 1.5。
func DistancePenalty(km float64) float64 {
	switch {
	case km <= distanceFreeKm:
		return 0
	case km <= distanceKneeKm:
		return (km - distanceFreeKm) / (distanceKneeKm - distanceFreeKm) * distanceKneeCost
	default:
		return math.Min(distanceMaxCost, distanceKneeCost+(km-distanceKneeKm)/20*1.2)
	}
}

// PricePenalty 优先使用 price_max，否则 price_min，按价格档位给出代价。
func PricePenalty(priceMin, priceMax *float64) float64 {
	var p float64
	if priceMax != nil && *priceMax > 0 {
		p = *priceMax
	} else if priceMin != nil {
		p = *priceMin
	}
	switch {
	case p <= 0:
		return 0
	case p <= 25:
		return 0.05
	case p <= 50:
		return 0.15
	case p <= 100:
		return 0.30
	default:
		return 0.50
	}
}

// DifficultyPenalty 缺失时取中性值 0.1，否则 1..5 线性映射到 [0, 0.5]。
func DifficultyPenalty(d *int) float64 {
	if d == nil {
		return difficultyNeutral
	}
	v := vecmath.Clamp(float64(*d), difficultyMin, difficultyMax)
	return (v - difficultyMin) / (difficultyMax - difficultyMin) * difficultyMaxCost
}

// CostPenalty 是三项代价之和。
func CostPenalty(c *core.Candidate) float64 {
	return DistancePenalty(c.DistanceKm) + PricePenalty(c.PriceMin, c.PriceMax) + DifficultyPenalty(c.Difficulty)
}

// PopularityBoost = min(1, ln(1+completes)/3) + 0.2 * max(0, 1 - age/10d)。
// createdAt 为零值时不给新鲜度加成。
func PopularityBoost(completes int, createdAt, now time.Time) float64 {
	pop := math.Min(1, math.Log1p(float64(max(completes, 0)))/popularityLogScale)
	if createdAt.IsZero() {
		return pop
	}
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	fresh := math.Max(0, 1-float64(age)/float64(recencyWindow))
	return pop + recencyBoost*fresh
}
