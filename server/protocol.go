package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"navsim-go/geom"
	"navsim-go/sim"
)

// Frames are "Wx"-tagged: a 9-byte header, the body and a CRC-16 of both.
//
//	magic(2) addr(4) flags:3|type_lo:5 type_hi:5|len_lo:3 len_hi(1)
const (
	FrameMagic   = 0x7857 // Little Endian for 'W' 'x'
	FrameHdrLen  = 9
	FrameWrapLen = 11

	TypeHello       = 0x48
	TypeObservation = 0x50
	TypeCommand     = 0x52
	TypeResult      = 0x60
	TypeBye         = 0x61

	maxBodyLen = 0x7ff
)

var ErrShortFrame = errors.New("frame too short")

// FrameHeader is the decoded fixed header. Addr names the robot (episode
// slot) the frame belongs to.
type FrameHeader struct {
	Magic   uint16
	Addr    uint32
	Flags   uint8
	Type    uint16
	BodyLen int
}

// ParseHeader parses the header at the start of data.
func ParseHeader(data []byte) (*FrameHeader, error) {
	if len(data) < FrameHdrLen {
		return nil, ErrShortFrame
	}
	magic := binary.LittleEndian.Uint16(data[0:2])
	if magic != FrameMagic {
		return nil, fmt.Errorf("invalid magic: 0x%x", magic)
	}
	addr := binary.LittleEndian.Uint32(data[2:6])

	b6 := data[6]
	flags := b6 & 0x7
	typLow := uint16(b6 >> 3)

	b7 := data[7]
	typHigh := uint16(b7 & 0x1F)
	lenLow := int(b7 >> 5)

	lenHigh := int(data[8])

	return &FrameHeader{
		Magic:   magic,
		Addr:    addr,
		Flags:   flags,
		Type:    typLow + (typHigh << 5),
		BodyLen: lenLow + (lenHigh << 3),
	}, nil
}

// BuildFrame wraps body in a header and trailing CRC.
func BuildFrame(addr uint32, typ uint16, flags uint8, body []byte) ([]byte, error) {
	if len(body) > maxBodyLen {
		return nil, fmt.Errorf("frame body %d bytes exceeds %d", len(body), maxBodyLen)
	}
	out := make([]byte, FrameHdrLen, FrameWrapLen+len(body))
	binary.LittleEndian.PutUint16(out[0:], FrameMagic)
	binary.LittleEndian.PutUint32(out[2:], addr)
	out[6] = flags&0x7 | byte(typ&0x1F)<<3
	out[7] = byte(typ>>5)&0x1F | byte(len(body)&0x7)<<5
	out[8] = byte(len(body) >> 3)
	out = append(out, body...)
	return binary.LittleEndian.AppendUint16(out, crc16(out)), nil
}

// SplitFrame checks the frame at the start of data and returns its header,
// body and total length.
func SplitFrame(data []byte) (*FrameHeader, []byte, int, error) {
	hdr, err := ParseHeader(data)
	if err != nil {
		return nil, nil, 0, err
	}
	total := FrameWrapLen + hdr.BodyLen
	if len(data) < total {
		return nil, nil, 0, ErrShortFrame
	}
	end := FrameHdrLen + hdr.BodyLen
	if crc16(data[:end]) != binary.LittleEndian.Uint16(data[end:total]) {
		return nil, nil, 0, fmt.Errorf("crc mismatch")
	}
	return hdr, data[FrameHdrLen:end], total, nil
}

// EncodeObservation: tick(4) x y θ (3×f64) n(1) sensors (n×f32).
func EncodeObservation(o sim.Observation) []byte {
	n := min(len(o.Sensors), 255)
	b := make([]byte, 0, 4+24+1+4*n)
	b = binary.LittleEndian.AppendUint32(b, uint32(o.Tick))
	for _, v := range []float64{o.Estimate.X, o.Estimate.Y, o.Estimate.Theta} {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	}
	b = append(b, byte(n))
	for _, v := range o.Sensors[:n] {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(v)))
	}
	return b
}

func DecodeObservation(body []byte) (sim.Observation, error) {
	if len(body) < 29 {
		return sim.Observation{}, ErrShortFrame
	}
	f := func(off int) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(body[off:])) }
	o := sim.Observation{
		Tick:     int(binary.LittleEndian.Uint32(body[0:4])),
		Estimate: geom.Pose{X: f(4), Y: f(12), Theta: f(20)},
	}
	n := int(body[28])
	if len(body) < 29+4*n {
		return sim.Observation{}, fmt.Errorf("observation sensors truncated")
	}
	o.Sensors = make([]float64, n)
	for i := range o.Sensors {
		o.Sensors[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(body[29+4*i:])))
	}
	return o, nil
}

// EncodeCommand: tick(4) continuous(1) left(1) right(1) vl vr (2×f64).
func EncodeCommand(tick int, c sim.Command) []byte {
	b := make([]byte, 0, 23)
	b = binary.LittleEndian.AppendUint32(b, uint32(tick))
	var cont byte
	if c.Continuous {
		cont = 1
	}
	b = append(b, cont, byte(c.Left), byte(c.Right))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(c.VLeft))
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(c.VRight))
}

func DecodeCommand(body []byte) (int, sim.Command, error) {
	if len(body) < 23 {
		return 0, sim.Command{}, ErrShortFrame
	}
	c := sim.Command{
		Continuous: body[4] != 0,
		Left:       motorState(body[5]),
		Right:      motorState(body[6]),
		VLeft:      math.Float64frombits(binary.LittleEndian.Uint64(body[7:])),
		VRight:     math.Float64frombits(binary.LittleEndian.Uint64(body[15:])),
	}
	return int(binary.LittleEndian.Uint32(body[0:4])), c, nil
}

func motorState(b byte) sim.MotorState {
	switch s := sim.MotorState(b); s {
	case sim.MotorForward, sim.MotorBackward:
		return s
	}
	return sim.MotorOff
}

// EncodeResult: score collisions(4) collected(4) total(4).
func EncodeResult(r sim.Result) []byte {
	b := binary.LittleEndian.AppendUint64(nil, math.Float64bits(r.Score))
	b = binary.LittleEndian.AppendUint32(b, uint32(r.Collisions))
	b = binary.LittleEndian.AppendUint32(b, uint32(r.Collected))
	return binary.LittleEndian.AppendUint32(b, uint32(r.TotalMarkers))
}

func DecodeResult(body []byte) (sim.Result, error) {
	if len(body) < 20 {
		return sim.Result{}, ErrShortFrame
	}
	return sim.Result{
		Score:        math.Float64frombits(binary.LittleEndian.Uint64(body[0:])),
		Collisions:   int(binary.LittleEndian.Uint32(body[8:])),
		Collected:    int(binary.LittleEndian.Uint32(body[12:])),
		TotalMarkers: int(binary.LittleEndian.Uint32(body[16:])),
	}, nil
}

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
