package sim

import (
	"math"
	"sync"

	"navsim-go/geom"
	"navsim-go/robot"
)

// MotorState is the discrete command of one wheel.
type MotorState int8

const (
	MotorOff MotorState = iota
	MotorForward
	MotorBackward
)

func (m MotorState) String() string {
	switch m {
	case MotorForward:
		return "forward"
	case MotorBackward:
		return "backward"
	}
	return "off"
}

// ThresholdMotor maps a policy output to a motor state: >= 0.5 drives
// forward, <= -0.5 drives backward, anything between is off.
func ThresholdMotor(v float64) MotorState {
	switch {
	case v >= 0.5:
		return MotorForward
	case v <= -0.5:
		return MotorBackward
	}
	return MotorOff
}

// Command is what a controller asks of the wheels for one tick. It is
// either a pair of discrete motor states or, when Continuous is set, a pair
// of wheel velocities.
type Command struct {
	Continuous bool       `json:"continuous,omitempty"`
	Left       MotorState `json:"left"`
	Right      MotorState `json:"right"`
	VLeft      float64    `json:"v_left,omitempty"`
	VRight     float64    `json:"v_right,omitempty"`
}

// Motors builds a discrete command.
func Motors(left, right MotorState) Command {
	return Command{Left: left, Right: right}
}

// Wheels builds a continuous command.
func Wheels(vLeft, vRight float64) Command {
	return Command{Continuous: true, VLeft: vLeft, VRight: vRight}
}

// Stop is the all-off command.
var Stop = Motors(MotorOff, MotorOff)

func (c Command) apply(r *robot.Robot) {
	if c.Continuous {
		r.SetWheelVelocities(c.VLeft, c.VRight)
		return
	}
	r.SetMotor(robot.Left, c.Left != MotorOff, c.Left != MotorBackward)
	r.SetMotor(robot.Right, c.Right != MotorOff, c.Right != MotorBackward)
}

// Observation is what a controller sees before deciding: the filter's
// estimate (never the true pose) and the latest sensor distances.
type Observation struct {
	Tick     int       `json:"tick"`
	Estimate geom.Pose `json:"estimate"`
	Sensors  []float64 `json:"sensors"`
}

// Vector is the fixed-shape input of an external policy: estimated x and y
// followed by the sensor distances.
func (o Observation) Vector() []float64 {
	v := make([]float64, 0, 2+len(o.Sensors))
	v = append(v, o.Estimate.X, o.Estimate.Y)
	return append(v, o.Sensors...)
}

// Controller chooses the wheel command once per tick.
type Controller interface {
	Decide(obs Observation) Command
}

// ControllerFunc adapts a function to Controller.
type ControllerFunc func(obs Observation) Command

func (f ControllerFunc) Decide(obs Observation) Command { return f(obs) }

// PolicyController wraps an external policy returning two scalars per tick
// and thresholds them into motor states.
type PolicyController struct {
	Policy func(input []float64) (left, right float64)
}

func (p PolicyController) Decide(obs Observation) Command {
	l, r := p.Policy(obs.Vector())
	return Motors(ThresholdMotor(l), ThresholdMotor(r))
}

// ManualController holds the motor states set by a human driver. SetMotor
// and the key helpers may be called from an input goroutine while the
// episode ticks.
type ManualController struct {
	mu  sync.Mutex
	cmd Command
}

func (m *ManualController) SetMotor(side robot.Side, state MotorState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmd.Continuous = false
	if side == robot.Left {
		m.cmd.Left = state
	} else {
		m.cmd.Right = state
	}
}

// KeyCommand applies a numpad-style binding: 4 and 1 drive the left wheel forward
// and backward, 6 and 3 the right wheel. Releasing either key of a wheel
// turns it off. Unbound keys are ignored and reported false.
func (m *ManualController) KeyCommand(key rune, down bool) bool {
	var side robot.Side
	state := MotorOff
	switch key {
	case '4', '1':
		side = robot.Left
	case '6', '3':
		side = robot.Right
	default:
		return false
	}
	if down {
		state = MotorForward
		if key == '1' || key == '3' {
			state = MotorBackward
		}
	}
	m.SetMotor(side, state)
	return true
}

func (m *ManualController) Decide(Observation) Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cmd
}

// ScriptStep holds a command for a number of ticks.
type ScriptStep struct {
	Ticks   int     `json:"ticks"`
	Command Command `json:"command"`
}

// ScriptController replays fixed steps by tick number and stops the
// motors once the script is exhausted.
type ScriptController struct {
	Steps []ScriptStep
}

func (s ScriptController) Decide(obs Observation) Command {
	t := obs.Tick
	for _, st := range s.Steps {
		if t < st.Ticks {
			return st.Command
		}
		t -= st.Ticks
	}
	return Stop
}

// WanderController drives forward and turns toward the more open side when
// a wall comes within Clearance of the front sensors. Sensors are assumed
// evenly spaced counter-clockwise from the heading.
type WanderController struct {
	Speed     float64
	Clearance float64
}

func (w WanderController) Decide(obs Observation) Command {
	speed, clear := w.Speed, w.Clearance
	if speed <= 0 {
		speed = 40
	}
	if clear <= 0 {
		clear = 40
	}
	n := len(obs.Sensors)
	if n == 0 {
		return Wheels(speed, speed)
	}
	front := math.Inf(1)
	var left, right float64
	for i, d := range obs.Sensors {
		off := geom.WrapAngle(2 * math.Pi * float64(i) / float64(n))
		switch {
		case math.Abs(off) <= math.Pi/4:
			front = math.Min(front, d)
		case off > 0 && off <= math.Pi/2:
			left += d
		case off < 0 && off >= -math.Pi/2:
			right += d
		}
	}
	if front < clear {
		if left >= right {
			return Wheels(-speed/2, speed/2)
		}
		return Wheels(speed/2, -speed/2)
	}
	// Bias gently toward the open side.
	bias := 0.0
	if left+right > 0 {
		bias = 0.2 * speed * (left - right) / (left + right)
	}
	return Wheels(speed-bias, speed+bias)
}
