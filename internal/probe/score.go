package probe

// Score folds the measured latencies into a single comparable value in [0,1].
// The primary latency (TTFB for a full probe, TCP connect for a quick one)
// dominates; the raw TCP connect time contributes a smaller share, and a small
// constant rewards any connection that worked at all. A failed probe is 0.
func Score(primaryMs, tcpMs int, success bool) float64 {
	if !success {
		return 0
	}
	s := 0.70*unit(primaryMs) + 0.25*unit(tcpMs) + 0.05
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// unit maps a millisecond latency onto (0,1]: 0ms scores 1.0, 100ms scores
// 0.5, and the value decays smoothly toward zero from there.
func unit(ms int) float64 {
	if ms < 0 {
		ms = 0
	}
	return 1 / (1 + float64(ms)/100)
}
