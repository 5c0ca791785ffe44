// Package telemetry streams episode progress as short text lines to UDP
// and TCP listeners, each subscribed to a mask of message classes.
package telemetry

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"navsim-go/monitoring"
	"navsim-go/sim"
)

const (
	streamQueue   = 1000
	dialTimeout   = 2 * time.Second
	writeTimeout  = 5 * time.Second
	minBackoff    = 100 * time.Millisecond
	maxBackoff    = 2 * time.Second
	udpListenAddr = ":0"
)

// target is one subscriber. deliver must not block.
type target interface {
	mask() uint32
	deliver(line []byte) bool
	name() string
}

// TargetStats counts what one subscriber got.
type TargetStats struct {
	Addr    string
	Mask    uint32
	Sent    int64
	Dropped int64
}

type datagramTarget struct {
	addr *net.UDPAddr
	flag uint32
	conn *net.UDPConn
}

func (t *datagramTarget) mask() uint32 { return t.flag }
func (t *datagramTarget) name() string { return "udp://" + t.addr.String() }

func (t *datagramTarget) deliver(line []byte) bool {
	if t.conn == nil {
		return false
	}
	if _, err := t.conn.WriteToUDP(line, t.addr); err != nil {
		monitoring.Logf("telemetry: send to %s: %v", t.addr, err)
		return false
	}
	return true
}

// streamTarget owns one outgoing TCP connection. Lines queue while the
// connection is down; a full queue drops new lines.
type streamTarget struct {
	addr  string
	flag  uint32
	queue chan []byte
	wg    sync.WaitGroup
}

func (t *streamTarget) mask() uint32 { return t.flag }
func (t *streamTarget) name() string { return "tcp://" + t.addr }

func (t *streamTarget) deliver(line []byte) bool {
	select {
	case t.queue <- line:
		return true
	default:
		return false
	}
}

func (t *streamTarget) start() {
	t.wg.Add(1)
	go t.pump()
}

func (t *streamTarget) stop() {
	close(t.queue)
	t.wg.Wait()
}

// pump writes queued lines, redialling with a doubling backoff. A line that
// cannot be written after one redial is dropped.
func (t *streamTarget) pump() {
	defer t.wg.Done()
	var conn net.Conn
	backoff := minBackoff
	dial := func() bool {
		if conn != nil {
			return true
		}
		c, err := net.DialTimeout("tcp", t.addr, dialTimeout)
		if err != nil {
			return false
		}
		conn, backoff = c, minBackoff
		return true
	}
	for line := range t.queue {
		if !dial() {
			time.Sleep(backoff)
			backoff = min(2*backoff, maxBackoff)
			if !dial() {
				continue
			}
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := conn.Write(line); err != nil {
			monitoring.Logf("telemetry: write to %s: %v", t.addr, err)
			conn.Close()
			conn = nil
		}
	}
	if conn != nil {
		conn.Close()
	}
}

type subscriber struct {
	target
	sent    atomic.Int64
	dropped atomic.Int64
}

// Sender fans lines out to its subscribers. Targets are added before Start.
type Sender struct {
	subs    []*subscriber
	udp     []*datagramTarget
	streams []*streamTarget
	conn    *net.UDPConn
	prefix  []byte
	running atomic.Bool
}

func NewSender() *Sender {
	return &Sender{}
}

// SetHeader prefixes every line with hdr and a colon.
func (s *Sender) SetHeader(hdr string) {
	s.prefix = nil
	if hdr != "" {
		s.prefix = []byte(hdr + ":")
	}
}

func (s *Sender) AddUDPSender(addr string, flag uint32) error {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	t := &datagramTarget{addr: uaddr, flag: flag}
	s.udp = append(s.udp, t)
	s.subs = append(s.subs, &subscriber{target: t})
	return nil
}

func (s *Sender) AddTCPSender(addr string, flag uint32) {
	t := &streamTarget{addr: addr, flag: flag, queue: make(chan []byte, streamQueue)}
	s.streams = append(s.streams, t)
	s.subs = append(s.subs, &subscriber{target: t})
}

// Start opens the shared UDP socket and starts one writer per TCP target.
func (s *Sender) Start() error {
	laddr, err := net.ResolveUDPAddr("udp", udpListenAddr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}
	s.conn = conn
	for _, t := range s.udp {
		t.conn = conn
	}
	for _, t := range s.streams {
		t.start()
	}
	s.running.Store(true)
	return nil
}

// Stop closes the UDP socket and drains every TCP queue. It is safe to call
// more than once.
func (s *Sender) Stop() {
	if !s.running.Swap(false) {
		return
	}
	s.conn.Close()
	for _, t := range s.streams {
		t.stop()
	}
}

// Send delivers data to every subscriber whose mask covers flag. It is a
// no-op before Start and after Stop.
func (s *Sender) Send(data []byte, flag uint32) {
	if !s.running.Load() {
		return
	}
	line := data
	if len(s.prefix) > 0 {
		line = append(append(make([]byte, 0, len(s.prefix)+len(data)), s.prefix...), data...)
	}
	for _, sub := range s.subs {
		if sub.mask()&flag != flag {
			continue
		}
		if sub.deliver(line) {
			sub.sent.Add(1)
		} else {
			sub.dropped.Add(1)
		}
	}
}

// Dropped counts lines that could not be handed to a subscriber.
func (s *Sender) Dropped() int64 {
	var n int64
	for _, sub := range s.subs {
		n += sub.dropped.Load()
	}
	return n
}

// Stats reports per-subscriber counters in the order targets were added.
func (s *Sender) Stats() []TargetStats {
	out := make([]TargetStats, len(s.subs))
	for i, sub := range s.subs {
		out[i] = TargetStats{
			Addr:    sub.name(),
			Mask:    sub.mask(),
			Sent:    sub.sent.Load(),
			Dropped: sub.dropped.Load(),
		}
	}
	return out
}

// Recorder turns episode snapshots into telemetry lines. Pose lines go out
// every Every ticks (every tick when Every < 2); collision lines go out on
// each tick that collided.
type Recorder struct {
	Sender *Sender
	Every  int
	seq    uint16
}

func (r *Recorder) Record(s sim.Snapshot) error {
	r.seq++
	if r.Every < 2 || s.Tick%r.Every == 0 {
		r.Sender.Send(FormatPose(r.seq, s), FlagPose)
		r.Sender.Send(FormatSensors(r.seq, s), FlagSensors)
		if len(s.Detections) > 0 {
			r.Sender.Send(FormatDetections(r.seq, s), FlagDetection)
		}
	}
	if s.Collided {
		r.Sender.Send(FormatCollision(r.seq, s), FlagCollision)
	}
	return nil
}

// Summary sends the final result line.
func (r *Recorder) Summary(res sim.Result) {
	r.Sender.Send(FormatSummary(res), FlagSummary)
}
