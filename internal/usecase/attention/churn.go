package attention

// churnDepth is how many cycles of leadership overlap are averaged.
const churnDepth = 12

// firstCycleChurn is the score reported before any overlap is known.
const firstCycleChurn = 80.0

// ChurnTracker scores how stable sector leadership is across cycles. It is
// owned by one engine and not safe for concurrent use.
type ChurnTracker struct {
	prev    []string
	overlap []int
}

// Observe records this cycle's leaders and returns the churn score in
// [0, 100]; 100 means the same leaders every cycle.
func (c *ChurnTracker) Observe(leaders []string) float64 {
	if c.prev == nil {
		c.prev = append([]string(nil), leaders...)
		return firstCycleChurn
	}

	n := 0
	for _, s := range leaders {
		for _, p := range c.prev {
			if s == p {
				n++
				break
			}
		}
	}
	c.overlap = append(c.overlap, n)
	if len(c.overlap) > churnDepth {
		c.overlap = c.overlap[len(c.overlap)-churnDepth:]
	}
	c.prev = append(c.prev[:0], leaders...)

	sum := 0
	for _, v := range c.overlap {
		sum += v
	}
	mean := float64(sum) / float64(len(c.overlap))
	return mean / 3 * 100
}

// Reset forgets all history.
func (c *ChurnTracker) Reset() {
	c.prev = nil
	c.overlap = nil
}
