package oracle

import "sort"

// Point is one ok-priced reading submitted to consensus evaluation.
type Point struct {
	ID    string
	Price float64
}

// ConsensusResult is the §4.12 evaluation outcome.
type ConsensusResult struct {
	Ok        bool
	Median    *float64
	Agreeing  []string
	Outliers  []string
	SpreadBps *float64
	Error     string
}

// EvaluateConsensus computes the median of points' prices (mean of the two
// middle values for even length), partitions points into agreeing/outlier
// sets by deviation from the median, and reports ok iff at least minAgree
// points agree, per spec §4.12.
func EvaluateConsensus(points []Point, maxDeviationBps float64, minAgree int) ConsensusResult {
	if len(points) == 0 {
		return ConsensusResult{Ok: false, Error: "no valid points"}
	}

	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
	}
	sorted := append([]float64(nil), prices...)
	sort.Float64s(sorted)

	var median float64
	n := len(sorted)
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	var agreeing, outliers []string
	var agreeingPrices []float64
	for _, p := range points {
		dev := deviationBps(p.Price, median)
		if dev != nil && *dev <= maxDeviationBps {
			agreeing = append(agreeing, p.ID)
			agreeingPrices = append(agreeingPrices, p.Price)
		} else {
			outliers = append(outliers, p.ID)
		}
	}

	var spread *float64
	if len(agreeingPrices) > 0 {
		min, max := agreeingPrices[0], agreeingPrices[0]
		for _, v := range agreeingPrices {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		if min > 0 {
			s := absFloat(max-min) / min * 10000
			spread = &s
		}
	}

	result := ConsensusResult{
		Median:    &median,
		Agreeing:  agreeing,
		Outliers:  outliers,
		SpreadBps: spread,
		Ok:        len(agreeing) >= minAgree,
	}
	if !result.Ok {
		result.Error = "insufficient consensus"
	}
	return result
}

// deviationBps returns |price-ref|/ref*10000, or nil if ref <= 0.
func deviationBps(price, ref float64) *float64 {
	if ref <= 0 {
		return nil
	}
	d := absFloat(price-ref) / ref * 10000
	return &d
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
