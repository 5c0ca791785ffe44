package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"navsim-go/geom"
	"navsim-go/monitoring"
	"navsim-go/sim"
	"navsim-go/world"
)

// Log is a decoded tick log.
type Log struct {
	Header Header
	Ticks  []sim.Snapshot
	// Corrupt counts tick records dropped for a bad CRC or short payload.
	Corrupt int
}

// Parser reads tick logs. VerifyCRC is on by default.
type Parser struct {
	Path      string
	VerifyCRC bool
}

func NewParser(path string) *Parser {
	return &Parser{Path: path, VerifyCRC: true}
}

// Parse reads the whole file at Path.
func (p *Parser) Parse() (*Log, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return p.ParseFrom(f)
}

// ParseFrom decodes a log from r. A truncated final record ends the log
// without error; undecodable tick records are counted and skipped.
func (p *Parser) ParseFrom(r io.Reader) (*Log, error) {
	hdr := make([]byte, pcapGlobalLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != PcapMagic {
		return nil, ErrBadMagic
	}

	lg := &Log{}
	rec := make([]byte, pcapRecordLen)
	phdr := make([]byte, phdr2Len)
	for {
		if _, err := io.ReadFull(r, rec); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("pcap record: %w", err)
		}
		inclLen := binary.LittleEndian.Uint32(rec[8:12])
		if inclLen > maxRecordLen {
			return nil, fmt.Errorf("pcap record: length %d exceeds %d", inclLen, maxRecordLen)
		}
		if inclLen < phdr2Len {
			// malformed record, skip the stated length
			if _, err := io.CopyN(io.Discard, r, int64(inclLen)); err != nil {
				break
			}
			continue
		}

		if _, err := io.ReadFull(r, phdr); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("pcap phdr2: %w", err)
		}
		flag := binary.LittleEndian.Uint16(phdr[0:2])
		count := int(binary.LittleEndian.Uint16(phdr[2:4]))
		itemSize := int(binary.LittleEndian.Uint32(phdr[4:8]))

		payload := make([]byte, int(inclLen)-phdr2Len)
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				monitoring.Logf("binlog: truncated final record")
				break
			}
			return nil, fmt.Errorf("pcap payload: %w", err)
		}

		switch flag {
		case flagEpisode:
			if err := decodeEpisode(payload, &lg.Header); err != nil {
				return nil, fmt.Errorf("episode block: %w", err)
			}
		case flagWalls:
			lg.Header.Walls = parseItems(payload, count, itemSize, wallItemLen, func(d *decoder) geom.Segment {
				return geom.Seg(d.f64(), d.f64(), d.f64(), d.f64())
			})
		case flagLandmarks:
			lg.Header.Landmarks = parseItems(payload, count, itemSize, landmarkItemLen, func(d *decoder) world.Landmark {
				return world.Landmark{ID: int(d.u64()), Pos: geom.V(d.f64(), d.f64()), Radius: d.f64()}
			})
		case flagMarkers:
			lg.Header.Markers = parseItems(payload, count, itemSize, markerItemLen, func(d *decoder) geom.Vec {
				d.u64()
				return geom.V(d.f64(), d.f64())
			})
		case flagTick:
			s, err := decodeTick(payload, lg.Header.EpisodeID, p.VerifyCRC)
			if err != nil {
				monitoring.Logf("binlog: dropping tick record: %v", err)
				lg.Corrupt++
				continue
			}
			lg.Ticks = append(lg.Ticks, s)
		}
	}
	return lg, nil
}

// parseItems decodes count fixed-size items. Items shorter than want are
// ignored; longer ones are read from their start.
func parseItems[T any](payload []byte, count, itemSize, want int, read func(*decoder) T) []T {
	if itemSize < want || count == 0 {
		return nil
	}
	out := make([]T, 0, count)
	for i := 0; i < count; i++ {
		start := i * itemSize
		end := start + itemSize
		if end > len(payload) {
			break
		}
		d := decoder{b: payload[start:end]}
		out = append(out, read(&d))
	}
	return out
}

// Stats compares truth and estimate over a log.
type Stats struct {
	Ticks          int
	PositionRMSE   float64
	HeadingRMSE    float64
	MaxPosError    float64
	FinalScore     float64
	FinalCollision int
	Applied        int
	Skipped        int
}

func (lg *Log) Stats() Stats {
	var st Stats
	var sumPos, sumHead float64
	for _, s := range lg.Ticks {
		pe := s.PositionError()
		he := s.HeadingError()
		sumPos += pe * pe
		sumHead += he * he
		st.MaxPosError = max(st.MaxPosError, pe)
		st.Applied += s.Applied
		st.Skipped += len(s.Skipped)
	}
	st.Ticks = len(lg.Ticks)
	if st.Ticks > 0 {
		st.PositionRMSE = math.Sqrt(sumPos / float64(st.Ticks))
		st.HeadingRMSE = math.Sqrt(sumHead / float64(st.Ticks))
		last := lg.Ticks[st.Ticks-1]
		st.FinalScore = last.Score
		st.FinalCollision = last.Collisions
	}
	return st
}
