package binlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"navsim-go/sim"
)

// Writer appends an episode to a tick log. It is a sim.Recorder; add it to
// the episode after WriteHeader.
type Writer struct {
	mu  sync.Mutex
	w   *bufio.Writer
	c   io.Closer
	buf []byte
}

// Create opens path for writing and emits the global header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	lw, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	lw.c = f
	return lw, nil
}

// NewWriter writes the global header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	lw := &Writer{
		w:   bufio.NewWriter(w),
		buf: make([]byte, 32), // reused buffer for headers
	}
	if err := lw.writeGlobalHeader(); err != nil {
		return nil, err
	}
	return lw, nil
}

func (lw *Writer) writeGlobalHeader() error {
	// Magic(4), Major(2), Minor(2), Zone(4), Sig(4), Snap(4), Link(4)
	b := make([]byte, pcapGlobalLen)
	binary.LittleEndian.PutUint32(b[0:], PcapMagic)
	binary.LittleEndian.PutUint16(b[4:], 2)
	binary.LittleEndian.PutUint16(b[6:], 4)
	binary.LittleEndian.PutUint32(b[16:], 65535)
	binary.LittleEndian.PutUint32(b[20:], linkTypeUser0)
	_, err := lw.w.Write(b)
	return err
}

// WriteHeader records the episode description and its map blocks.
func (lw *Writer) WriteHeader(h Header) error {
	for _, c := range []struct {
		what string
		n    int
	}{{"walls", len(h.Walls)}, {"landmarks", len(h.Landmarks)}, {"markers", len(h.Markers)}} {
		if c.n > math.MaxUint16 {
			return fmt.Errorf("%w: %d %s", ErrTooLarge, c.n, c.what)
		}
	}
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if err := lw.writeBlock(0, flagEpisode, 1, 0, encodeEpisode(h)); err != nil {
		return err
	}

	var e encoder
	for _, w := range h.Walls {
		e.f64(w.A.X)
		e.f64(w.A.Y)
		e.f64(w.B.X)
		e.f64(w.B.Y)
	}
	if err := lw.writeBlock(0, flagWalls, len(h.Walls), wallItemLen, e.b); err != nil {
		return err
	}

	e.b = e.b[:0]
	for _, l := range h.Landmarks {
		e.u64(uint64(l.ID))
		e.f64(l.Pos.X)
		e.f64(l.Pos.Y)
		e.f64(l.Radius)
	}
	if err := lw.writeBlock(0, flagLandmarks, len(h.Landmarks), landmarkItemLen, e.b); err != nil {
		return err
	}

	e.b = e.b[:0]
	for i, m := range h.Markers {
		e.u64(uint64(i))
		e.f64(m.X)
		e.f64(m.Y)
	}
	return lw.writeBlock(0, flagMarkers, len(h.Markers), markerItemLen, e.b)
}

// Record appends one tick. Record timestamps are simulated time, so two
// runs of the same episode produce identical files.
func (lw *Writer) Record(s sim.Snapshot) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	b, err := encodeTick(s)
	if err != nil {
		return fmt.Errorf("tick %d: %w", s.Tick, err)
	}
	return lw.writeBlock(s.Time, flagTick, 1, 0, b)
}

// writeBlock frames one payload. The second header carries the block flag,
// item count and item size.
func (lw *Writer) writeBlock(ts float64, flag uint16, count, itemSize int, data []byte) error {
	if count > math.MaxUint16 {
		return fmt.Errorf("%w: block 0x%02x holds %d items", ErrTooLarge, flag, count)
	}
	if len(data)+phdr2Len > maxRecordLen {
		return fmt.Errorf("%w: block 0x%02x payload of %d bytes", ErrTooLarge, flag, len(data))
	}
	sec, frac := math.Modf(ts)
	totalLen := uint32(len(data) + phdr2Len)

	// ts_sec(4), ts_usec(4), incl_len(4), orig_len(4)
	binary.LittleEndian.PutUint32(lw.buf[0:], uint32(sec))
	binary.LittleEndian.PutUint32(lw.buf[4:], uint32(math.Round(frac*1e6)))
	binary.LittleEndian.PutUint32(lw.buf[8:], totalLen)
	binary.LittleEndian.PutUint32(lw.buf[12:], totalLen)
	if _, err := lw.w.Write(lw.buf[:pcapRecordLen]); err != nil {
		return err
	}

	// flag(2), count(2), item size(4)
	binary.LittleEndian.PutUint16(lw.buf[0:], flag)
	binary.LittleEndian.PutUint16(lw.buf[2:], uint16(count))
	binary.LittleEndian.PutUint32(lw.buf[4:], uint32(itemSize))
	if _, err := lw.w.Write(lw.buf[:phdr2Len]); err != nil {
		return err
	}

	_, err := lw.w.Write(data)
	return err
}

// Flush pushes buffered records to the underlying writer.
func (lw *Writer) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Flush()
}

// Close flushes and closes the file opened by Create.
func (lw *Writer) Close() error {
	err := lw.Flush()
	if lw.c != nil {
		if cerr := lw.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
