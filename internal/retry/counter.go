package retry

// Counter is a bounded attempt budget.  Each call to [Counter.Next]
// spends one attempt until Max is reached.
//
// Counter is not safe for concurrent use; the owner guards it.
type Counter struct {
	max int
	n   int
}

// NewCounter returns a counter allowing max attempts.  A negative max
// is treated as zero.
func NewCounter(max int) *Counter {
	if max < 0 {
		max = 0
	}
	return &Counter{max: max}
}

// Next spends one attempt and reports whether the budget allowed it.
func (c *Counter) Next() bool {
	if c.n >= c.max {
		return false
	}
	c.n++
	return true
}

// Count returns the number of attempts spent since the last reset.
func (c *Counter) Count() int { return c.n }

// Max returns the attempt budget.
func (c *Counter) Max() int { return c.max }

// Reset restores the full budget.
func (c *Counter) Reset() { c.n = 0 }
