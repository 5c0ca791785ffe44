// Package binlog stores episodes as pcap-framed tick logs: a 24-byte global
// header, then records of a 16-byte record header, an 8-byte block header
// (flag, item count, item size) and a payload. Tick payloads end in a
// CRC-16/CCITT of their body.
package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"navsim-go/fusion"
	"navsim-go/geom"
	"navsim-go/robot"
	"navsim-go/sim"
	"navsim-go/world"
)

const (
	PcapMagic = 0xA1B2C3D4

	pcapGlobalLen = 24
	pcapRecordLen = 16
	phdr2Len      = 8

	linkTypeUser0 = 147
	maxRecordLen  = 1 << 24

	flagTick      = 0x01
	flagEpisode   = 0x02
	flagWalls     = 0x04
	flagLandmarks = 0x08
	flagMarkers   = 0x10

	wallItemLen     = 32 // ax, ay, bx, by
	landmarkItemLen = 32 // id, x, y, radius
	markerItemLen   = 24 // id, x, y
)

var (
	ErrBadMagic = errors.New("binlog: bad magic")
	// ErrTooLarge is returned when a count or payload does not fit its
	// on-disk field.
	ErrTooLarge = errors.New("binlog: too large")
	errShort    = errors.New("short payload")
	errCRC      = errors.New("crc mismatch")
)

// Header describes the episode a log was recorded from.
type Header struct {
	EpisodeID        string           `json:"episode_id"`
	Seed             uint64           `json:"seed"`
	DT               float64          `json:"dt"`
	Ticks            int              `json:"ticks"`
	CollisionPenalty float64          `json:"collision_penalty"`
	Walls            []geom.Segment   `json:"walls"`
	Landmarks        []world.Landmark `json:"landmarks"`
	Markers          []geom.Vec       `json:"markers"`
}

// HeaderFor captures an episode before its first tick.
func HeaderFor(ep *sim.Episode) Header {
	cfg := ep.Config()
	m := ep.Map()
	h := Header{
		EpisodeID:        ep.ID(),
		Seed:             cfg.Seed,
		DT:               cfg.DT,
		Ticks:            cfg.Ticks,
		CollisionPenalty: cfg.CollisionPenalty,
		Walls:            m.Segments(),
		Landmarks:        m.Landmarks(),
	}
	for _, mk := range m.Markers() {
		h.Markers = append(h.Markers, mk.Pos)
	}
	return h
}

// Map rebuilds the logged geometry. Landmark IDs follow their order in the
// log, which is the order the episode used.
func (h Header) Map() (*world.Map, error) {
	pos := make([]geom.Vec, len(h.Landmarks))
	radius := 0.0
	for i, l := range h.Landmarks {
		pos[i] = l.Pos
		radius = l.Radius
	}
	return world.NewMap(h.Walls, pos, h.Markers, radius)
}

var skipCodes = []fusion.SkipReason{
	fusion.SkipDegenerateRange,
	fusion.SkipSingularS,
	fusion.SkipGated,
	fusion.SkipNonFinite,
}

func skipCode(r fusion.SkipReason) uint8 {
	for i, s := range skipCodes {
		if s == r {
			return uint8(i)
		}
	}
	return 0xff
}

func skipReason(c uint8) fusion.SkipReason {
	if int(c) < len(skipCodes) {
		return skipCodes[c]
	}
	return fusion.SkipReason(fmt.Sprintf("unknown(%d)", c))
}

// encoder appends little-endian fields.
type encoder struct {
	b   []byte
	err error
}

// count writes a 16-bit item count, failing the encoder when n overflows it.
func (e *encoder) count(what string, n int) {
	if n > math.MaxUint16 && e.err == nil {
		e.err = fmt.Errorf("%w: %d %s", ErrTooLarge, n, what)
	}
	e.u16(uint16(n))
}

func (e *encoder) u8(v uint8) { e.b = append(e.b, v) }

func (e *encoder) u16(v uint16) { e.b = binary.LittleEndian.AppendUint16(e.b, v) }

func (e *encoder) u32(v uint32) { e.b = binary.LittleEndian.AppendUint32(e.b, v) }

func (e *encoder) u64(v uint64) { e.b = binary.LittleEndian.AppendUint64(e.b, v) }

func (e *encoder) f64(v float64) { e.u64(math.Float64bits(v)) }

func (e *encoder) pose(p geom.Pose) {
	e.f64(p.X)
	e.f64(p.Y)
	e.f64(p.Theta)
}

func (e *encoder) str(s string) {
	n := min(len(s), math.MaxUint16)
	e.u16(uint16(n))
	e.b = append(e.b, s[:n]...)
}

// decoder reads little-endian fields; the first overrun sticks in err.
type decoder struct {
	b   []byte
	off int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.b) {
		d.err = errShort
		return nil
	}
	s := d.b[d.off : d.off+n]
	d.off += n
	return s
}

func (d *decoder) u8() uint8 {
	if s := d.take(1); s != nil {
		return s[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if s := d.take(2); s != nil {
		return binary.LittleEndian.Uint16(s)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if s := d.take(4); s != nil {
		return binary.LittleEndian.Uint32(s)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if s := d.take(8); s != nil {
		return binary.LittleEndian.Uint64(s)
	}
	return 0
}

func (d *decoder) f64() float64 { return math.Float64frombits(d.u64()) }

func (d *decoder) pose() geom.Pose {
	return geom.Pose{X: d.f64(), Y: d.f64(), Theta: d.f64()}
}

func (d *decoder) str() string {
	n := int(d.u16())
	return string(d.take(n))
}

func encodeEpisode(h Header) []byte {
	var e encoder
	e.str(h.EpisodeID)
	e.u64(h.Seed)
	e.f64(h.DT)
	e.u32(uint32(h.Ticks))
	e.f64(h.CollisionPenalty)
	return e.b
}

func decodeEpisode(b []byte, h *Header) error {
	d := decoder{b: b}
	h.EpisodeID = d.str()
	h.Seed = d.u64()
	h.DT = d.f64()
	h.Ticks = int(d.u32())
	h.CollisionPenalty = d.f64()
	return d.err
}

func encodeTick(s sim.Snapshot) ([]byte, error) {
	e := encoder{b: make([]byte, 0, 256)}
	e.u32(uint32(s.Tick))
	e.f64(s.Time)
	e.pose(s.Truth)
	e.pose(s.Estimate.Mean)
	c := s.Estimate.Cov
	for _, v := range []float64{c[0][0], c[0][1], c[0][2], c[1][1], c[1][2], c[2][2]} {
		e.f64(v)
	}
	e.f64(s.Control.V)
	e.f64(s.Control.Omega)

	var flags uint8
	if s.Command.Continuous {
		flags |= 1
	}
	if s.Collided {
		flags |= 2
	}
	e.u8(flags)
	e.u8(uint8(s.Command.Left))
	e.u8(uint8(s.Command.Right))
	e.f64(s.Command.VLeft)
	e.f64(s.Command.VRight)

	e.u32(uint32(s.Collisions))
	e.u32(uint32(s.Collected))
	e.u32(uint32(s.TotalMarkers))
	e.u32(uint32(s.Applied))
	e.f64(s.Score)

	e.count("sensors", len(s.Sensors))
	for _, v := range s.Sensors {
		e.f64(v)
	}
	e.count("detections", len(s.Detections))
	for _, det := range s.Detections {
		e.u32(uint32(det.LandmarkID))
		e.f64(det.Range)
		e.f64(det.Bearing)
		e.f64(det.Landmark.X)
		e.f64(det.Landmark.Y)
	}
	e.count("skipped updates", len(s.Skipped))
	for _, sk := range s.Skipped {
		e.u32(uint32(sk.LandmarkID))
		e.u8(skipCode(sk.Reason))
	}
	e.u16(crc16(e.b))
	return e.b, e.err
}

func decodeTick(b []byte, episodeID string, verifyCRC bool) (sim.Snapshot, error) {
	if len(b) < 2 {
		return sim.Snapshot{}, errShort
	}
	body := b[:len(b)-2]
	if verifyCRC && crc16(body) != binary.LittleEndian.Uint16(b[len(b)-2:]) {
		return sim.Snapshot{}, errCRC
	}
	d := decoder{b: body}
	s := sim.Snapshot{EpisodeID: episodeID}
	s.Tick = int(d.u32())
	s.Time = d.f64()
	s.Truth = d.pose()
	s.Estimate.Mean = d.pose()
	c := &s.Estimate.Cov
	c[0][0], c[0][1], c[0][2] = d.f64(), d.f64(), d.f64()
	c[1][1], c[1][2], c[2][2] = d.f64(), d.f64(), d.f64()
	c[1][0], c[2][0], c[2][1] = c[0][1], c[0][2], c[1][2]
	s.Control.V = d.f64()
	s.Control.Omega = d.f64()

	flags := d.u8()
	s.Command.Continuous = flags&1 != 0
	s.Collided = flags&2 != 0
	s.Command.Left = sim.MotorState(d.u8())
	s.Command.Right = sim.MotorState(d.u8())
	s.Command.VLeft = d.f64()
	s.Command.VRight = d.f64()

	s.Collisions = int(d.u32())
	s.Collected = int(d.u32())
	s.TotalMarkers = int(d.u32())
	s.Applied = int(d.u32())
	s.Score = d.f64()

	if n := int(d.u16()); n > 0 {
		s.Sensors = make([]float64, n)
		for i := range s.Sensors {
			s.Sensors[i] = d.f64()
		}
	}
	if n := int(d.u16()); n > 0 {
		s.Detections = make([]robot.Detection, n)
		for i := range s.Detections {
			det := &s.Detections[i]
			det.LandmarkID = int(d.u32())
			det.Range = d.f64()
			det.Bearing = d.f64()
			det.Landmark = geom.V(d.f64(), d.f64())
		}
	}
	if n := int(d.u16()); n > 0 {
		s.Skipped = make([]fusion.Skip, n)
		for i := range s.Skipped {
			s.Skipped[i] = fusion.Skip{LandmarkID: int(d.u32()), Reason: skipReason(d.u8())}
		}
	}
	s.Display = s.Truth
	return s, d.err
}

// crc16 is CRC-16/CCITT (poly 0x1021, init 0).
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
