package preempt

import (
	"math"
	"sort"
)

// marker is one of the five tracking points the P² algorithm maintains: a
// height (the current quantile estimate at this marker), an integer position
// (observation rank among all samples seen), a desired (ideal, fractional)
// position, and the per-observation increment applied to that desired
// position. Grouping these per-marker, rather than as parallel arrays, is
// what lets nudge/parabola/slope below index a single marker struct instead
// of threading four array accesses through every formula.
type marker struct {
	height    float64
	position  int
	desired   float64
	increment float64
}

// quantileMarker implements Jain & Chlamtac's P² algorithm for a single
// streaming quantile: five markers converge on a target percentile in O(1)
// time and O(1) space per observation, without retaining the sample stream.
// metrics.go drives one of these per percentile it reports (dispatch-latency
// P50/P90/P99) instead of sorting a growing buffer on every read.
//
// Reference: Jain, R. and Chlamtac, I. (1985). "The P² Algorithm for Dynamic
// Calculation of Quantiles and Histograms Without Storing Observations".
// Communications of the ACM, 28(10), pp. 1076-1085.
//
// Not safe for concurrent use; callers serialize access (see
// DispatchLatencyMetrics's mutex).
type quantileMarker struct {
	target  float64 // the percentile this marker tracks, clamped to [0, 1]
	markers [5]marker

	samples int       // total observations seen
	seeding []float64 // buffers observations until the 5th primes the markers
}

// newQuantileMarker builds a marker for target, clamped to [0, 1].
func newQuantileMarker(target float64) *quantileMarker {
	target = clampUnit(target)
	m := &quantileMarker{target: target, seeding: make([]float64, 0, 5)}
	for i, incr := range [5]float64{0, target / 2, target, (1 + target) / 2, 1} {
		m.markers[i].increment = incr
	}
	return m
}

func clampUnit(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

// Observe folds one new value into the estimator. O(1) once seeded.
func (m *quantileMarker) Observe(x float64) {
	m.samples++
	if m.samples <= 5 {
		m.seeding = append(m.seeding, x)
		if m.samples == 5 {
			m.seedMarkers()
		}
		return
	}

	cell := m.settle(x)
	for i := cell + 1; i < len(m.markers); i++ {
		m.markers[i].position++
	}
	for i := range m.markers {
		m.markers[i].desired += m.markers[i].increment
	}
	for i := 1; i < 4; i++ {
		m.nudge(i)
	}
}

// settle finds the marker index k such that height[k] <= x < height[k+1],
// widening the range at either end when x is a new min or max.
func (m *quantileMarker) settle(x float64) int {
	if x < m.markers[0].height {
		m.markers[0].height = x
		return 0
	}
	if x >= m.markers[4].height {
		m.markers[4].height = x
		return 3
	}
	for k := 0; k < 4; k++ {
		if m.markers[k].height <= x && x < m.markers[k+1].height {
			return k
		}
	}
	return 3
}

// nudge moves marker i one step towards its desired position, if it has
// drifted far enough from its neighbours to warrant it, via a parabolic
// estimate that falls back to a linear one when it would overshoot.
func (m *quantileMarker) nudge(i int) {
	cur := &m.markers[i]
	d := cur.desired - float64(cur.position)
	driftedAhead := d >= 1 && m.markers[i+1].position-cur.position > 1
	driftedBehind := d <= -1 && m.markers[i-1].position-cur.position < -1
	if !driftedAhead && !driftedBehind {
		return
	}

	step := 1
	if d < 0 {
		step = -1
	}

	if est := m.parabola(i, step); m.markers[i-1].height < est && est < m.markers[i+1].height {
		cur.height = est
	} else {
		cur.height = m.slope(i, step)
	}
	cur.position += step
}

// seedMarkers primes the five markers from the first five observations.
func (m *quantileMarker) seedMarkers() {
	sort.Float64s(m.seeding)
	for i := range m.markers {
		m.markers[i].height = m.seeding[i]
		m.markers[i].position = i
	}
	for i, desired := range [5]float64{0, 2 * m.target, 4 * m.target, 2 + 2*m.target, 4} {
		m.markers[i].desired = desired
	}
}

// parabola computes the P² parabolic interpolation estimate for marker i
// moved by step (±1).
func (m *quantileMarker) parabola(i, step int) float64 {
	d := float64(step)
	lo, mid, hi := &m.markers[i-1], &m.markers[i], &m.markers[i+1]

	left := (float64(mid.position-lo.position) + d) * (hi.height - mid.height) / float64(hi.position-mid.position)
	right := (float64(hi.position-mid.position) - d) * (mid.height - lo.height) / float64(mid.position-lo.position)
	return mid.height + d/float64(hi.position-lo.position)*(left+right)
}

// slope computes the P² linear interpolation fallback for marker i moved by
// step (±1).
func (m *quantileMarker) slope(i, step int) float64 {
	cur := &m.markers[i]
	if step == 1 {
		next := &m.markers[i+1]
		return cur.height + (next.height-cur.height)/float64(next.position-cur.position)
	}
	prev := &m.markers[i-1]
	return cur.height - (cur.height-prev.height)/float64(cur.position-prev.position)
}

// Value returns the current quantile estimate. O(1).
func (m *quantileMarker) Value() float64 {
	switch {
	case m.samples == 0:
		return 0
	case m.samples < 5:
		sorted := append([]float64(nil), m.seeding...)
		sort.Float64s(sorted)
		idx := int(float64(len(sorted)-1) * m.target)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	default:
		return m.markers[2].height
	}
}

// Samples reports the number of observations folded in so far.
func (m *quantileMarker) Samples() int { return m.samples }

// Peak returns the largest value observed.
func (m *quantileMarker) Peak() float64 {
	switch {
	case m.samples == 0:
		return 0
	case m.samples < 5:
		peak := m.seeding[0]
		for _, v := range m.seeding[1:] {
			if v > peak {
				peak = v
			}
		}
		return peak
	default:
		return m.markers[4].height
	}
}

// pSquareMultiQuantile tracks several percentiles of the same sample stream
// at once, plus the running sum/max needed for a mean and a peak value.
// metrics.go keeps exactly one of these per latency-style metric.
//
// Not safe for concurrent use; see DispatchLatencyMetrics.
type pSquareMultiQuantile struct {
	trackers []*quantileMarker
	sum      float64
	count    int
	max      float64
}

// newPSquareMultiQuantile builds a tracker covering each of targets, each in
// [0, 1].
func newPSquareMultiQuantile(targets ...float64) *pSquareMultiQuantile {
	m := &pSquareMultiQuantile{
		trackers: make([]*quantileMarker, len(targets)),
		max:      -math.MaxFloat64,
	}
	for i, t := range targets {
		m.trackers[i] = newQuantileMarker(t)
	}
	return m
}

// Update folds x into every tracked quantile, plus the running sum/max. O(k)
// in the number of tracked percentiles.
func (m *pSquareMultiQuantile) Update(x float64) {
	m.count++
	m.sum += x
	if x > m.max {
		m.max = x
	}
	for _, t := range m.trackers {
		t.Observe(x)
	}
}

// Quantile returns the current estimate for the i-th target passed to
// newPSquareMultiQuantile, or 0 if i is out of range.
func (m *pSquareMultiQuantile) Quantile(i int) float64 {
	if i < 0 || i >= len(m.trackers) {
		return 0
	}
	return m.trackers[i].Value()
}

// Count returns the total number of observations folded in.
func (m *pSquareMultiQuantile) Count() int { return m.count }

// Sum returns the running sum of all observations.
func (m *pSquareMultiQuantile) Sum() float64 { return m.sum }

// Max returns the largest observation seen.
func (m *pSquareMultiQuantile) Max() float64 {
	if m.count == 0 {
		return 0
	}
	return m.max
}

// Mean returns the arithmetic mean of all observations.
func (m *pSquareMultiQuantile) Mean() float64 {
	if m.count == 0 {
		return 0
	}
	return m.sum / float64(m.count)
}

// Reset clears all state, allowing the tracker to be reused.
func (m *pSquareMultiQuantile) Reset() {
	m.sum = 0
	m.count = 0
	m.max = -math.MaxFloat64
	for _, t := range m.trackers {
		*t = *newQuantileMarker(t.target)
	}
}
