package stats

import (
	"math"

	"github.com/miradorstack/mirador-timers/internal/models"
)

// Aggregate reduces a transaction graph to window statistics. The mean is
// weighted by invocations per point, as is the deviation of point averages
// around it. Points without invocations carry no weight.
func Aggregate(points []models.GraphPoint) models.TransactionStats {
	var total int64
	for _, p := range points {
		if p.Invocations > 0 {
			total += p.Invocations
		}
	}
	if total == 0 {
		return models.TransactionStats{}
	}

	mean := weightedMean(points, total)
	return models.TransactionStats{
		MeanLatencyMs:   mean,
		StdDeviationMs:  weightedStdDev(points, total, mean),
		InvocationCount: total,
	}
}

// AggregateGraphs aggregates each graph under its normalized identity. Graphs
// reported twice for the same identity are merged before aggregation.
func AggregateGraphs(graphs []models.TransactionGraph) map[models.TransactionIdentity]models.TransactionStats {
	merged := make(map[models.TransactionIdentity][]models.GraphPoint, len(graphs))
	for _, g := range graphs {
		id := g.Identity.Normalized()
		merged[id] = append(merged[id], g.Points...)
	}

	result := make(map[models.TransactionIdentity]models.TransactionStats, len(merged))
	for id, points := range merged {
		result[id] = Aggregate(points)
	}
	return result
}

func weightedMean(points []models.GraphPoint, total int64) float64 {
	sum := 0.0
	for _, p := range points {
		if p.Invocations <= 0 {
			continue
		}
		sum += p.AvgTimeMs * float64(p.Invocations)
	}
	return sum / float64(total)
}

func weightedStdDev(points []models.GraphPoint, total int64, mean float64) float64 {
	sum := 0.0
	for _, p := range points {
		if p.Invocations <= 0 {
			continue
		}
		diff := p.AvgTimeMs - mean
		sum += diff * diff * float64(p.Invocations)
	}
	return math.Sqrt(sum / float64(total))
}
