package telemetry

import (
	"bufio"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navsim-go/geom"
	"navsim-go/monitoring"
	"navsim-go/robot"
	"navsim-go/sim"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func sample() sim.Snapshot {
	s := sim.Snapshot{
		EpisodeID:  "ep1",
		Tick:       12,
		Time:       0.2,
		Truth:      geom.Pose{X: 50, Y: 60, Theta: 0.5},
		Sensors:    []float64{10, 20},
		Detections: []robot.Detection{{LandmarkID: 3, Range: 42, Bearing: -0.1}},
		Collided:   true,
		Collisions: 2,
	}
	s.Estimate.Mean = geom.Pose{X: 51, Y: 59, Theta: 0.52}
	s.Estimate.Cov[0][0], s.Estimate.Cov[1][1], s.Estimate.Cov[2][2] = 1, 2, 0.5
	return s
}

func TestFormatPose(t *testing.T) {
	b := FormatPose(7, sample())
	line := string(b)
	assert.True(t, strings.HasPrefix(line, "pose:"))
	assert.True(t, strings.HasSuffix(line, "\r\n"))
	assert.Contains(t, line, ",ep1,7,0.200,12,50.00,60.00,0.5000,51.00,59.00,0.5200,3.5000\r\n")
	n, ok := FrameLength(b)
	require.True(t, ok)
	assert.Equal(t, len(b), n)
}

func TestFormatOthers(t *testing.T) {
	s := sample()
	assert.Contains(t, string(FormatCollision(1, s)), ",ep1,1,0.200,12,50.00,60.00,2\r\n")
	assert.Contains(t, string(FormatSensors(1, s)), ",ep1,1,12,10.0,20.0\r\n")
	assert.Contains(t, string(FormatDetections(1, s)), ",ep1,1,12,3:42.00:-0.1000\r\n")
	sum := FormatSummary(sim.Result{EpisodeID: "ep1", Ticks: 100, Score: 0.5, Collisions: 1, Collected: 18, TotalMarkers: 36})
	assert.Contains(t, string(sum), ",ep1,100,0.5000,1,18/36,0.000\r\n")
	for _, b := range [][]byte{FormatCollision(1, s), FormatSensors(1, s), sum} {
		n, ok := FrameLength(b)
		require.True(t, ok)
		assert.Equal(t, len(b), n)
	}
}

func TestLongLineLength(t *testing.T) {
	s := sample()
	s.Sensors = make([]float64, 30)
	b := FormatSensors(1, s)
	require.GreaterOrEqual(t, len(b), 100)
	n, ok := FrameLength(b)
	require.True(t, ok)
	assert.Equal(t, len(b), n)
}

func TestSenderMasks(t *testing.T) {
	poseConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer poseConn.Close()
	sumConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sumConn.Close()

	snd := NewSender()
	snd.SetHeader("nav")
	require.NoError(t, snd.AddUDPSender(poseConn.LocalAddr().String(), FlagPose|FlagCollision))
	require.NoError(t, snd.AddUDPSender(sumConn.LocalAddr().String(), FlagSummary))
	require.NoError(t, snd.Start())
	defer snd.Stop()

	rec := &Recorder{Sender: snd}
	require.NoError(t, rec.Record(sample()))
	rec.Summary(sim.Result{EpisodeID: "ep1"})

	buf := make([]byte, 2048)
	poseConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := poseConn.Read(buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(buf[:n]), "nav:pose:"))
	n, err = poseConn.Read(buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(buf[:n]), "nav:collide:"))

	sumConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = sumConn.Read(buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(buf[:n]), "nav:summary:"))

	stats := snd.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "udp://"+poseConn.LocalAddr().String(), stats[0].Addr)
	assert.Equal(t, int64(2), stats[0].Sent, "pose and collision")
	assert.Equal(t, int64(1), stats[1].Sent, "summary only")
	assert.Zero(t, snd.Dropped())
}

func TestTCPSender(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	snd := NewSender()
	snd.AddTCPSender(ln.Addr().String(), FlagAll)
	require.NoError(t, snd.Start())

	rec := &Recorder{Sender: snd, Every: 2}
	s := sample()
	s.Collided = false
	for tick := 1; tick <= 4; tick++ {
		s.Tick = tick
		require.NoError(t, rec.Record(s))
	}

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	var tags []string
	for i := 0; i < 6; i++ {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		tags = append(tags, line[:strings.IndexByte(line, ':')])
	}
	assert.Equal(t, []string{"pose", "sensors", "detect", "pose", "sensors", "detect"}, tags)
	snd.Stop()
	assert.Zero(t, snd.Dropped())
}

func TestSendBeforeStartIsNoop(t *testing.T) {
	snd := NewSender()
	snd.AddTCPSender("127.0.0.1:1", FlagAll)
	snd.Send([]byte("x"), FlagPose)
	assert.Zero(t, snd.Dropped())
	snd.Stop()
}
