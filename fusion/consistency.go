package fusion

import "math"

// Consistency accumulates the normalised innovation squared of applied
// measurements. A filter whose covariance matches its real errors averages
// MeaDim, with about 5% of values above the 0.95 chi-square quantile.
type Consistency struct {
	n       int
	sum     float64
	sumSq   float64
	outside int
}

func (c *Consistency) Add(nis ...float64) {
	bound := Chi2Inv(0.95, MeaDim)
	for _, v := range nis {
		c.n++
		c.sum += v
		c.sumSq += v * v
		if v > bound {
			c.outside++
		}
	}
}

func (c *Consistency) Count() int { return c.n }

// Mean NIS, 0 before any sample.
func (c *Consistency) Mean() float64 {
	if c.n == 0 {
		return 0
	}
	return c.sum / float64(c.n)
}

// Std is the sample standard deviation of the NIS values.
func (c *Consistency) Std() float64 {
	if c.n < 2 {
		return 0
	}
	mean := c.Mean()
	v := (c.sumSq - float64(c.n)*mean*mean) / float64(c.n-1)
	return math.Sqrt(math.Max(v, 0))
}

// OutsideFraction is the share of samples above the 0.95 quantile.
func (c *Consistency) OutsideFraction() float64 {
	if c.n == 0 {
		return 0
	}
	return float64(c.outside) / float64(c.n)
}
