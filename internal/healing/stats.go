package healing

import (
	"sort"
	"time"

	"github.com/kamilpajak/testmend/pkg/models"
)

const topKinds = 5

// computeStats derives run statistics. An empty run yields zero values and
// empty, non-nil maps.
func computeStats(results []models.TestHealResult, attempts map[string][]models.HealingAttempt) models.ReportStats {
	stats := models.ReportStats{
		SuccessRateByKind: make(map[models.FailureKind]float64),
		TotalsByKind:      make(map[models.FailureKind]int),
		TopFailureKinds:   []models.KindCount{},
	}

	attemptedByKind := make(map[models.FailureKind]int)
	healedByKind := make(map[models.FailureKind]int)
	var attempted, healed int
	for _, r := range results {
		if r.Analysis == nil {
			continue
		}
		kind := r.Analysis.Kind
		stats.TotalsByKind[kind]++
		if r.Attempt == nil {
			continue
		}
		attempted++
		attemptedByKind[kind]++
		if r.Outcome == models.OutcomeHealed {
			healed++
			healedByKind[kind]++
		}
	}
	if attempted > 0 {
		stats.SuccessRate = float64(healed) / float64(attempted)
	}
	for kind, n := range attemptedByKind {
		stats.SuccessRateByKind[kind] = float64(healedByKind[kind]) / float64(n)
	}

	var total time.Duration
	var count int
	for _, list := range attempts {
		for _, a := range list {
			total += a.Duration()
			count++
			stats.TotalTokens += a.TokensUsed
			stats.TotalCostUSD += a.CostUSD
			if a.Cached {
				stats.CachedAttempts++
			}
		}
	}
	if count > 0 {
		stats.AverageHealingLatency = total / time.Duration(count)
	}

	for kind, n := range stats.TotalsByKind {
		stats.TopFailureKinds = append(stats.TopFailureKinds, models.KindCount{Kind: kind, Count: n})
	}
	sort.Slice(stats.TopFailureKinds, func(i, j int) bool {
		a, b := stats.TopFailureKinds[i], stats.TopFailureKinds[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Kind < b.Kind
	})
	if len(stats.TopFailureKinds) > topKinds {
		stats.TopFailureKinds = stats.TopFailureKinds[:topKinds]
	}
	return stats
}
