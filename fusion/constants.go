package fusion

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Filter tuning defaults. Noise values are variances.
const (
	SigmaPos0    = 0.1 // initial x, y variance
	SigmaTheta0  = 0.1 // initial heading variance
	ProcessPos   = 0.02
	ProcessTheta = 0.5 * math.Pi / 180
	MeasRange    = 0.1
	MeasBearing  = 5 * math.Pi / 180

	// MinInnovationDet is the det(S) below which a measurement is skipped.
	MinInnovationDet = 1e-12
	// MinRange keeps the range-bearing Jacobian away from its pole.
	MinRange = 1e-6

	StateDim = 3
	MeaDim   = 2
)

// Chi2Inv returns the chi-square quantile at probability p for df degrees
// of freedom (at least 1). It bounds the innovation gate.
func Chi2Inv(p float64, df int) float64 {
	return distuv.ChiSquared{K: float64(max(df, 1))}.Quantile(p)
}
