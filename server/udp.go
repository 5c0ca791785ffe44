// Package server drives episodes over the network: a UDP remote controller
// that ships observations to an external pilot and waits for its wheel
// commands, the pilot side of that exchange, and paced replay of tick logs.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"navsim-go/monitoring"
	"navsim-go/sim"
)

const (
	DefaultPort    = 44333
	MaxPacketSize  = 65535
	DefaultTimeout = 100 * time.Millisecond
)

type tickCommand struct {
	tick int
	cmd  sim.Command
}

// RemoteController is a sim.Controller whose decisions come from a pilot
// over UDP. The first Hello frame fixes the pilot's address. A pilot that
// misses the deadline for a tick gets the motors switched off for that tick.
type RemoteController struct {
	conn    *net.UDPConn
	addr    uint32
	timeout time.Duration

	mu     sync.Mutex
	peer   *net.UDPAddr
	hello  chan struct{}
	once   sync.Once
	closed atomic.Bool

	cmds     chan tickCommand
	timeouts atomic.Int64
}

// ListenRemote binds a UDP port (DefaultPort when 0; pass -1 for any free
// port) for the robot slot addr and starts reading.
func ListenRemote(port int, addr uint32, timeout time.Duration) (*RemoteController, error) {
	switch {
	case port == 0:
		port = DefaultPort
	case port < 0:
		port = 0
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port, IP: net.ParseIP("0.0.0.0")})
	if err != nil {
		return nil, err
	}
	conn.SetReadBuffer(256 * 1024)

	rc := &RemoteController{
		conn:    conn,
		addr:    addr,
		timeout: timeout,
		hello:   make(chan struct{}),
		cmds:    make(chan tickCommand, 8),
	}
	go rc.readLoop()
	monitoring.Logf("server: remote controller listening on %s", conn.LocalAddr())
	return rc, nil
}

func (rc *RemoteController) LocalAddr() *net.UDPAddr {
	return rc.conn.LocalAddr().(*net.UDPAddr)
}

// Timeouts counts ticks decided by the deadline rather than the pilot.
func (rc *RemoteController) Timeouts() int64 { return rc.timeouts.Load() }

// WaitPilot blocks until a pilot has said hello.
func (rc *RemoteController) WaitPilot(ctx context.Context) error {
	select {
	case <-rc.hello:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rc *RemoteController) readLoop() {
	buf := make([]byte, MaxPacketSize)
	for {
		n, addr, err := rc.conn.ReadFromUDP(buf)
		if err != nil {
			if rc.closed.Load() {
				return
			}
			monitoring.Logf("server: read error: %v", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		rc.handlePacket(data, addr)
	}
}

// handlePacket walks every frame in a datagram. Bytes that do not start a
// valid frame are skipped one at a time.
func (rc *RemoteController) handlePacket(data []byte, addr *net.UDPAddr) {
	offset := 0
	for len(data)-offset >= FrameWrapLen {
		hdr, body, n, err := SplitFrame(data[offset:])
		if err != nil {
			if errors.Is(err, ErrShortFrame) {
				break
			}
			offset++
			continue
		}
		offset += n
		if hdr.Addr != rc.addr {
			continue
		}
		switch hdr.Type {
		case TypeHello:
			rc.mu.Lock()
			rc.peer = addr
			rc.mu.Unlock()
			rc.once.Do(func() { close(rc.hello) })
			monitoring.Logf("server: pilot %s attached to robot %d", addr, rc.addr)
		case TypeCommand:
			tick, cmd, err := DecodeCommand(body)
			if err != nil {
				monitoring.Logf("server: bad command frame: %v", err)
				continue
			}
			rc.push(tickCommand{tick: tick, cmd: cmd})
		}
	}
}

// push queues a command, dropping the oldest one when the queue is full.
func (rc *RemoteController) push(tc tickCommand) {
	for {
		select {
		case rc.cmds <- tc:
			return
		default:
		}
		select {
		case <-rc.cmds:
		default:
		}
	}
}

func (rc *RemoteController) send(typ uint16, body []byte) error {
	rc.mu.Lock()
	peer := rc.peer
	rc.mu.Unlock()
	if peer == nil {
		return fmt.Errorf("no pilot attached to robot %d", rc.addr)
	}
	pkt, err := BuildFrame(rc.addr, typ, 0, body)
	if err != nil {
		return err
	}
	_, err = rc.conn.WriteToUDP(pkt, peer)
	return err
}

// Decide sends the observation and waits for the pilot's command for the
// same tick. Commands for older ticks are discarded.
func (rc *RemoteController) Decide(obs sim.Observation) sim.Command {
	if err := rc.send(TypeObservation, EncodeObservation(obs)); err != nil {
		return sim.Stop
	}
	timer := time.NewTimer(rc.timeout)
	defer timer.Stop()
	for {
		select {
		case tc := <-rc.cmds:
			if tc.tick == obs.Tick {
				return tc.cmd
			}
		case <-timer.C:
			rc.timeouts.Add(1)
			monitoring.Logf("server: pilot missed tick %d, motors off", obs.Tick)
			return sim.Stop
		}
	}
}

// Finish reports the result to the pilot and says goodbye.
func (rc *RemoteController) Finish(res sim.Result) error {
	if err := rc.send(TypeResult, EncodeResult(res)); err != nil {
		return err
	}
	return rc.send(TypeBye, nil)
}

func (rc *RemoteController) Close() error {
	rc.closed.Store(true)
	return rc.conn.Close()
}

// Pilot is the remote side: it answers observations with the decisions of
// a local controller.
type Pilot struct {
	conn *net.UDPConn
	addr uint32
	// Retry is how often Hello is resent until the first observation.
	Retry time.Duration
}

// DialPilot connects to a remote controller at server for robot slot addr.
func DialPilot(server string, addr uint32) (*Pilot, error) {
	raddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &Pilot{conn: conn, addr: addr, Retry: 250 * time.Millisecond}, nil
}

func (p *Pilot) sendFrame(typ uint16, body []byte) error {
	pkt, err := BuildFrame(p.addr, typ, 0, body)
	if err != nil {
		return err
	}
	_, err = p.conn.Write(pkt)
	return err
}

// Fly answers observations until the episode says goodbye or ctx ends, and
// returns the reported result.
func (p *Pilot) Fly(ctx context.Context, ctrl sim.Controller) (sim.Result, error) {
	var res sim.Result
	if err := p.sendFrame(TypeHello, nil); err != nil {
		return res, err
	}
	attached := false
	buf := make([]byte, MaxPacketSize)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		p.conn.SetReadDeadline(time.Now().Add(p.Retry))
		n, err := p.conn.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if !attached {
					if err := p.sendFrame(TypeHello, nil); err != nil {
						return res, err
					}
				}
				continue
			}
			return res, err
		}
		data := buf[:n]
		for len(data) >= FrameWrapLen {
			hdr, body, size, err := SplitFrame(data)
			if err != nil {
				break
			}
			data = data[size:]
			switch hdr.Type {
			case TypeObservation:
				attached = true
				obs, err := DecodeObservation(body)
				if err != nil {
					monitoring.Logf("server: bad observation frame: %v", err)
					continue
				}
				if err := p.sendFrame(TypeCommand, EncodeCommand(obs.Tick, ctrl.Decide(obs))); err != nil {
					return res, err
				}
			case TypeResult:
				if r, err := DecodeResult(body); err == nil {
					res = r
				}
			case TypeBye:
				return res, nil
			}
		}
	}
}

func (p *Pilot) Close() error { return p.conn.Close() }
