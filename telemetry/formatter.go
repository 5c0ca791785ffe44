package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"navsim-go/sim"
)

// Every line starts with an 11-byte tag such as "pose:      ,". Bytes 8-10
// of the tag are overwritten with the total line length so stream readers
// can frame messages.
func frame(tag, body string) []byte {
	b := []byte(fmt.Sprintf("%-11s,%s\r\n", tag+":", body))
	fillLength(b)
	return b
}

func fillLength(b []byte) {
	n := len(b)
	if n >= 100 {
		b[8] = byte('0' + (n/100)%10)
	}
	b[9] = byte('0' + (n/10)%10)
	b[10] = byte('0' + n%10)
}

// FrameLength reads back the length written into a line's tag.
func FrameLength(b []byte) (int, bool) {
	if len(b) < 11 {
		return 0, false
	}
	digits := strings.TrimSpace(string(b[8:11]))
	n, err := strconv.Atoi(digits)
	return n, err == nil
}

// FormatPose: episode, seq, sim time, tick, true x y θ, estimated x y θ,
// covariance trace.
func FormatPose(seq uint16, s sim.Snapshot) []byte {
	e := s.Estimate.Mean
	return frame("pose", fmt.Sprintf("%s,%d,%.3f,%d,%.2f,%.2f,%.4f,%.2f,%.2f,%.4f,%.4f",
		s.EpisodeID, seq, s.Time, s.Tick,
		s.Truth.X, s.Truth.Y, s.Truth.Theta,
		e.X, e.Y, e.Theta, s.Estimate.Trace()))
}

// FormatCollision: episode, seq, sim time, tick, x y, running count.
func FormatCollision(seq uint16, s sim.Snapshot) []byte {
	return frame("collide", fmt.Sprintf("%s,%d,%.3f,%d,%.2f,%.2f,%d",
		s.EpisodeID, seq, s.Time, s.Tick, s.Truth.X, s.Truth.Y, s.Collisions))
}

// FormatSensors: episode, seq, tick, then one distance per sensor.
func FormatSensors(seq uint16, s sim.Snapshot) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s,%d,%d", s.EpisodeID, seq, s.Tick)
	for _, d := range s.Sensors {
		fmt.Fprintf(&sb, ",%.1f", d)
	}
	return frame("sensors", sb.String())
}

// FormatDetections: episode, seq, tick, then id:range:bearing triples.
func FormatDetections(seq uint16, s sim.Snapshot) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s,%d,%d", s.EpisodeID, seq, s.Tick)
	for _, d := range s.Detections {
		fmt.Fprintf(&sb, ",%d:%.2f:%.4f", d.LandmarkID, d.Range, d.Bearing)
	}
	return frame("detect", sb.String())
}

// FormatSummary: episode, ticks, score, collisions, collected/total, RMSE.
func FormatSummary(r sim.Result) []byte {
	return frame("summary", fmt.Sprintf("%s,%d,%.4f,%d,%d/%d,%.3f",
		r.EpisodeID, r.Ticks, r.Score, r.Collisions, r.Collected, r.TotalMarkers, r.PositionRMSE))
}
