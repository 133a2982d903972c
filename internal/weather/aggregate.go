package weather

// Fold combines the previous aggregate for a key (nil when absent) with one
// new reading and returns the next aggregate. It never mutates prev.
//
// The running mean uses (mean*count + t) / (count+1). Rounding of that form can
// land one ulp outside the observed extremes, so the mean is clamped into
// [min, max] to keep min <= mean <= max after every fold.
func Fold(prev *Aggregate, r Reading) Aggregate {
	if prev == nil {
		return Aggregate{
			Key:             KeyFor(r),
			Count:           1,
			MeanTempC:       r.TemperatureC,
			MaxTempC:        r.TemperatureC,
			MinTempC:        r.TemperatureC,
			MeanFeelsLikeC:  r.FeelsLikeC,
			Dominant:        r.Condition,
			Frequencies:     map[string]int{r.Condition: 1},
			FirstObservedAt: r.ObservedAt,
			LastObservedAt:  r.ObservedAt,
		}
	}

	next := prev.Clone()
	n := prev.Count + 1

	next.Count = n
	next.MaxTempC = max(prev.MaxTempC, r.TemperatureC)
	next.MinTempC = min(prev.MinTempC, r.TemperatureC)
	next.MeanTempC = clamp((prev.MeanTempC*float64(prev.Count)+r.TemperatureC)/float64(n), next.MinTempC, next.MaxTempC)
	next.MeanFeelsLikeC = (prev.MeanFeelsLikeC*float64(prev.Count) + r.FeelsLikeC) / float64(n)

	next.Frequencies[r.Condition]++
	next.Dominant = dominantAfter(prev.Dominant, next.Frequencies, r.Condition)

	if next.FirstObservedAt.IsZero() || r.ObservedAt.Before(next.FirstObservedAt) {
		next.FirstObservedAt = r.ObservedAt
	}
	if r.ObservedAt.After(next.LastObservedAt) {
		next.LastObservedAt = r.ObservedAt
	}

	return next
}

// dominantAfter picks the dominant label after freq[incremented] grew by one.
// Only the incremented label can overtake, and only with a strictly higher
// count: the label that reached the maximum first keeps it on ties.
func dominantAfter(current string, freq map[string]int, incremented string) string {
	if current == "" {
		return incremented
	}
	if incremented != current && freq[incremented] > freq[current] {
		return incremented
	}
	return current
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
