// Package fusion estimates the robot pose [x, y, θ] with an Extended Kalman
// Filter fed by commanded control and range/bearing landmark observations.
package fusion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"navsim-go/geom"
	"navsim-go/monitoring"
)

// Control is the commanded linear and angular velocity.
type Control struct {
	V     float64 `json:"v"`
	Omega float64 `json:"omega"`
}

// Measurement is a range/bearing observation already associated with a
// known landmark position.
type Measurement struct {
	LandmarkID int      `json:"landmark_id"`
	Range      float64  `json:"range"`
	Bearing    float64  `json:"bearing"`
	Landmark   geom.Vec `json:"landmark"`
}

// Estimate is a copy of the filter mean and covariance.
type Estimate struct {
	Mean geom.Pose                   `json:"mean"`
	Cov  [StateDim][StateDim]float64 `json:"cov"`
}

// Trace of the covariance.
func (e Estimate) Trace() float64 { return e.Cov[0][0] + e.Cov[1][1] + e.Cov[2][2] }

// SkipReason says why a measurement was not applied.
type SkipReason string

const (
	SkipDegenerateRange SkipReason = "degenerate range"
	SkipSingularS       SkipReason = "singular innovation covariance"
	SkipGated           SkipReason = "chi-square gate"
	SkipNonFinite       SkipReason = "non-finite result"
)

// Skip records one measurement left out of an update.
type Skip struct {
	LandmarkID int
	Reason     SkipReason
}

// UpdateReport summarises one Update call.
type UpdateReport struct {
	Applied int
	Skipped []Skip
	// NIS holds the normalised innovation squared of each applied
	// measurement, in order.
	NIS []float64
}

// EKF keeps the pose estimate. It never sees the robot's true pose.
type EKF struct {
	cfg    Config
	minDet float64

	xk  *mat.VecDense
	Pxk *mat.SymDense
	Qk  *mat.DiagDense
	Rk  *mat.DiagDense
}

func NewEKF(cfg Config) (*EKF, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := &EKF{cfg: cfg, minDet: MinInnovationDet}
	if cfg.MinInnovationDet > 0 {
		k.minDet = cfg.MinInnovationDet
	}
	k.Qk = mat.NewDiagDense(StateDim, cfg.ProcessNoise[:])
	k.Rk = mat.NewDiagDense(MeaDim, cfg.MeasurementNoise[:])
	k.resetState()
	return k, nil
}

func (k *EKF) resetState() {
	m := k.cfg.InitialMean
	k.xk = mat.NewVecDense(StateDim, []float64{m.X, m.Y, geom.WrapAngle(m.Theta)})
	k.Pxk = mat.NewSymDense(StateDim, nil)
	for i, v := range k.cfg.InitialCov {
		k.Pxk.SetSym(i, i, v)
	}
}

// Predict propagates the mean through the unicycle model and the covariance
// through its Jacobian G. Process noise is scaled per NoiseModel.
func (k *EKF) Predict(u Control, dt float64) error {
	if !(dt > 0) {
		return fmt.Errorf("%w: dt %g", ErrInvalidConfig, dt)
	}
	x, y, th := k.xk.AtVec(0), k.xk.AtVec(1), k.xk.AtVec(2)
	sin, cos := math.Sincos(th)

	k.xk.SetVec(0, x+u.V*cos*dt)
	k.xk.SetVec(1, y+u.V*sin*dt)
	k.xk.SetVec(2, geom.WrapAngle(th+u.Omega*dt))

	Gk := mat.NewDense(StateDim, StateDim, []float64{
		1, 0, -u.V * sin * dt,
		0, 1, u.V * cos * dt,
		0, 0, 1,
	})
	var GP, GPGt mat.Dense
	GP.Mul(Gk, k.Pxk)
	GPGt.Mul(&GP, Gk.T())

	scale := dt
	if k.cfg.NoiseModel == NoisePerTick {
		scale = 1
	}
	for i := 0; i < StateDim; i++ {
		GPGt.Set(i, i, GPGt.At(i, i)+k.Qk.At(i, i)*scale)
	}
	k.Pxk = symmetrize(&GPGt)
	return nil
}

// Update applies the measurements one at a time, in order, each on the
// mean and covariance left by the previous one. A measurement that cannot
// be applied is logged and skipped; the rest still run.
func (k *EKF) Update(ms []Measurement) UpdateReport {
	var rep UpdateReport
	for _, m := range ms {
		nis, reason := k.updateOne(m)
		if reason != "" {
			monitoring.Logf("fusion: skipping landmark %d: %s", m.LandmarkID, reason)
			rep.Skipped = append(rep.Skipped, Skip{LandmarkID: m.LandmarkID, Reason: reason})
			continue
		}
		rep.Applied++
		rep.NIS = append(rep.NIS, nis)
	}
	return rep
}

// predicted returns the expected range and bearing of landmark l from the
// current mean and the Jacobian Hk of that prediction.
func (k *EKF) predicted(l geom.Vec) (rhat, bhat float64, Hk *mat.Dense, ok bool) {
	dx := l.X - k.xk.AtVec(0)
	dy := l.Y - k.xk.AtVec(1)
	q := dx*dx + dy*dy
	rhat = math.Sqrt(q)
	if rhat < MinRange {
		return 0, 0, nil, false
	}
	bhat = geom.WrapAngle(math.Atan2(dy, dx) - k.xk.AtVec(2))
	Hk = mat.NewDense(MeaDim, StateDim, []float64{
		-dx / rhat, -dy / rhat, 0,
		dy / q, -dx / q, -1,
	})
	return rhat, bhat, Hk, true
}

// Innovation is the measurement residual against the current mean, with
// the bearing part wrapped to (-π, π].
func (k *EKF) Innovation(m Measurement) (dRange, dBearing float64, ok bool) {
	rhat, bhat, _, ok := k.predicted(m.Landmark)
	if !ok {
		return 0, 0, false
	}
	return m.Range - rhat, geom.AngleDiff(m.Bearing, bhat), true
}

func (k *EKF) updateOne(m Measurement) (float64, SkipReason) {
	rhat, bhat, Hk, ok := k.predicted(m.Landmark)
	if !ok {
		return 0, SkipDegenerateRange
	}
	rk := mat.NewVecDense(MeaDim, []float64{m.Range - rhat, geom.AngleDiff(m.Bearing, bhat)})

	var PHt, Sk mat.Dense
	PHt.Mul(k.Pxk, Hk.T())
	Sk.Mul(Hk, &PHt)
	Sk.Add(&Sk, k.Rk)
	if det := mat.Det(&Sk); !(det >= k.minDet) {
		return 0, SkipSingularS
	}
	var Sinv mat.Dense
	if err := Sinv.Inverse(&Sk); err != nil {
		return 0, SkipSingularS
	}

	var tmp mat.VecDense
	tmp.MulVec(&Sinv, rk)
	nis := mat.Dot(rk, &tmp)
	if p := k.cfg.GateProbability; p > 0 && nis > Chi2Inv(p, MeaDim) {
		return nis, SkipGated
	}

	var Kk mat.Dense
	Kk.Mul(&PHt, &Sinv)

	var incr, xNew mat.VecDense
	incr.MulVec(&Kk, rk)
	xNew.AddVec(k.xk, &incr)
	xNew.SetVec(2, geom.WrapAngle(xNew.AtVec(2)))

	var KH, IKH, P mat.Dense
	KH.Mul(&Kk, Hk)
	IKH.Sub(eye(StateDim), &KH)
	P.Mul(&IKH, k.Pxk)

	if !allFinite(xNew.RawVector().Data) || !allFinite(P.RawMatrix().Data) {
		return nis, SkipNonFinite
	}
	k.xk = &xNew
	k.Pxk = symmetrize(&P)
	return nis, ""
}

// Estimate returns a copy of the current mean and covariance.
func (k *EKF) Estimate() Estimate {
	e := Estimate{Mean: geom.Pose{X: k.xk.AtVec(0), Y: k.xk.AtVec(1), Theta: k.xk.AtVec(2)}}
	for i := 0; i < StateDim; i++ {
		for j := 0; j < StateDim; j++ {
			e.Cov[i][j] = k.Pxk.At(i, j)
		}
	}
	return e
}

// Trace of the covariance.
func (k *EKF) Trace() float64 { return mat.Trace(k.Pxk) }

func (k *EKF) Config() Config { return k.cfg }

func eye(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	return s
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
