package server

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navsim-go/binlog"
	"navsim-go/geom"
	"navsim-go/monitoring"
	"navsim-go/sim"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func TestFrameRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte{0xab}, 300)
	pkt, err := BuildFrame(7, TypeObservation, 5, body)
	require.NoError(t, err)
	assert.Len(t, pkt, FrameWrapLen+len(body))

	hdr, got, n, err := SplitFrame(pkt)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), hdr.Addr)
	assert.Equal(t, uint16(TypeObservation), hdr.Type)
	assert.Equal(t, uint8(5), hdr.Flags)
	assert.Equal(t, len(body), hdr.BodyLen)
	assert.Equal(t, body, got)
	assert.Equal(t, len(pkt), n)

	pkt[FrameHdrLen] ^= 1
	_, _, _, err = SplitFrame(pkt)
	assert.ErrorContains(t, err, "crc")

	_, _, _, err = SplitFrame(pkt[:5])
	assert.ErrorIs(t, err, ErrShortFrame)

	_, err = BuildFrame(0, TypeCommand, 0, make([]byte, maxBodyLen+1))
	assert.Error(t, err)
}

func TestParseHeaderRejectsMagic(t *testing.T) {
	_, err := ParseHeader(make([]byte, FrameHdrLen))
	assert.ErrorContains(t, err, "invalid magic")
}

func TestObservationCodec(t *testing.T) {
	obs := sim.Observation{Tick: 42, Estimate: geom.Pose{X: 1.5, Y: -2, Theta: 0.25}, Sensors: []float64{10, 20.5, 200}}
	got, err := DecodeObservation(EncodeObservation(obs))
	require.NoError(t, err)
	assert.Equal(t, obs, got)

	_, err = DecodeObservation(EncodeObservation(obs)[:30])
	assert.Error(t, err)
}

func TestCommandCodec(t *testing.T) {
	for _, c := range []sim.Command{
		sim.Motors(sim.MotorForward, sim.MotorBackward),
		sim.Wheels(12.5, -3),
		sim.Stop,
	} {
		tick, got, err := DecodeCommand(EncodeCommand(9, c))
		require.NoError(t, err)
		assert.Equal(t, 9, tick)
		assert.Equal(t, c, got)
	}
	b := EncodeCommand(1, sim.Stop)
	b[5] = 77
	_, got, err := DecodeCommand(b)
	require.NoError(t, err)
	assert.Equal(t, sim.MotorOff, got.Left, "unknown motor state reads as off")
}

func TestResultCodec(t *testing.T) {
	r := sim.Result{Score: 0.75, Collisions: 3, Collected: 27, TotalMarkers: 36}
	got, err := DecodeResult(EncodeResult(r))
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestRemoteEpisode(t *testing.T) {
	rc, err := ListenRemote(-1, 3, time.Second)
	require.NoError(t, err)
	defer rc.Close()

	assert.Equal(t, sim.Stop, rc.Decide(sim.Observation{}), "no pilot yet")

	pilot, err := DialPilot(fmt.Sprintf("127.0.0.1:%d", rc.LocalAddr().Port), 3)
	require.NoError(t, err)
	defer pilot.Close()
	pilot.Retry = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type flown struct {
		res sim.Result
		err error
	}
	done := make(chan flown, 1)
	go func() {
		res, err := pilot.Fly(ctx, sim.ControllerFunc(func(sim.Observation) sim.Command {
			return sim.Motors(sim.MotorForward, sim.MotorForward)
		}))
		done <- flown{res, err}
	}()
	require.NoError(t, rc.WaitPilot(ctx))

	cfg := sim.DefaultConfig()
	cfg.Map.Complexity = 0
	cfg.Ticks = 30
	ep, err := sim.NewEpisode(cfg, rc)
	require.NoError(t, err)
	res, err := ep.Run(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, rc.Finish(res))

	f := <-done
	require.NoError(t, f.err)
	assert.Equal(t, res.Score, f.res.Score)
	assert.Equal(t, res.Collected, f.res.Collected)
	assert.Zero(t, rc.Timeouts())
	assert.InDelta(t, 70, res.FinalTruth.X, 1e-6, "pilot drove forward for 30 ticks")
}

func TestRemoteTimeoutStopsMotors(t *testing.T) {
	rc, err := ListenRemote(-1, 1, 30*time.Millisecond)
	require.NoError(t, err)
	defer rc.Close()

	// A pilot that says hello and then never answers.
	pilot, err := DialPilot(fmt.Sprintf("127.0.0.1:%d", rc.LocalAddr().Port), 1)
	require.NoError(t, err)
	defer pilot.Close()
	require.NoError(t, pilot.sendFrame(TypeHello, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rc.WaitPilot(ctx))

	assert.Equal(t, sim.Stop, rc.Decide(sim.Observation{Tick: 1}))
	assert.Equal(t, int64(1), rc.Timeouts())
}

func TestRemoteIgnoresOtherRobots(t *testing.T) {
	rc, err := ListenRemote(-1, 1, time.Second)
	require.NoError(t, err)
	defer rc.Close()
	hello, err := BuildFrame(2, TypeHello, 0, nil)
	require.NoError(t, err)
	rc.handlePacket(append([]byte{0, 1, 2}, hello...), rc.LocalAddr())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rc.WaitPilot(ctx), context.DeadlineExceeded)
}

func TestReplayPacing(t *testing.T) {
	lg := &binlog.Log{}
	for i := 1; i <= 5; i++ {
		lg.Ticks = append(lg.Ticks, sim.Snapshot{Tick: i, Time: float64(i) * 0.05})
	}
	hist := sim.NewHistory(10)

	start := time.Now()
	n, err := Replay(context.Background(), lg, hist, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.GreaterOrEqual(t, time.Since(start), 190*time.Millisecond)

	hist = sim.NewHistory(10)
	start = time.Now()
	n, err = Replay(context.Background(), lg, hist, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestReplayCancel(t *testing.T) {
	lg := &binlog.Log{Ticks: []sim.Snapshot{{Time: 0}, {Time: 100}}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	n, err := Replay(ctx, lg, sim.NewHistory(2), 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, n)
}
