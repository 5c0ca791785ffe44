package world

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"navsim-go/geom"
	"navsim-go/monitoring"
)

// LoadXML reads a hand-authored map:
//
//	<map landmarkRadius="3">
//	  <wall posgroup="0,0;300,0"/>
//	  <landmark pos="150,150"/>
//	  <marker pos="50,50"/>
//	  <start pos="50,50" theta="0"/>
//	</map>
//
// Without landmark elements the wall corners become landmarks. Malformed
// elements are logged and skipped.
func LoadXML(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeXML(f)
}

// DecodeXML is LoadXML over an arbitrary reader.
func DecodeXML(r io.Reader) (*Map, error) {
	dec := xml.NewDecoder(r)
	var (
		walls     []geom.Segment
		landmarks []geom.Vec
		markers   []geom.Vec
		radius    float64
		start     *geom.Pose
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode map: %w", err)
		}
		t, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch t.Name.Local {
		case "map":
			if v, ok := parseFloatAttr(t, "landmarkRadius"); ok {
				radius = v
			}
		case "wall":
			pg, _ := attrValue(t, "posgroup")
			pts := parsePoints(pg)
			if len(pts) != 2 {
				monitoring.Logf("world: skipping wall with posgroup %q", pg)
				continue
			}
			walls = append(walls, geom.Segment{A: pts[0], B: pts[1]})
		case "landmark", "marker", "start":
			pos, _ := attrValue(t, "pos")
			pts := parsePoints(pos)
			if len(pts) != 1 {
				monitoring.Logf("world: skipping %s with pos %q", t.Name.Local, pos)
				continue
			}
			switch t.Name.Local {
			case "landmark":
				landmarks = append(landmarks, pts[0])
			case "marker":
				markers = append(markers, pts[0])
			default:
				theta, _ := parseFloatAttr(t, "theta")
				start = &geom.Pose{X: pts[0].X, Y: pts[0].Y, Theta: geom.WrapAngle(theta)}
			}
		}
	}
	m, err := NewMap(walls, landmarks, markers, radius)
	if err != nil {
		return nil, err
	}
	if start != nil {
		m.start = *start
	}
	return m, nil
}

// WriteXML encodes m in the format LoadXML reads. Marker flags are not
// persisted.
func (m *Map) WriteXML(w io.Writer) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	radius := 0.0
	if len(m.landmarks) > 0 {
		radius = m.landmarks[0].Radius
	}
	root := xml.StartElement{Name: xml.Name{Local: "map"}, Attr: []xml.Attr{
		{Name: xml.Name{Local: "landmarkRadius"}, Value: formatFloat(radius)},
	}}
	if err := enc.EncodeToken(root); err != nil {
		return err
	}
	empty := func(name string, attrs ...xml.Attr) error {
		el := xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs}
		if err := enc.EncodeToken(el); err != nil {
			return err
		}
		return enc.EncodeToken(el.End())
	}
	for _, wl := range m.walls {
		if err := empty("wall", xml.Attr{Name: xml.Name{Local: "posgroup"}, Value: formatPoint(wl.Seg.A) + ";" + formatPoint(wl.Seg.B)}); err != nil {
			return err
		}
	}
	for _, l := range m.landmarks {
		if err := empty("landmark", xml.Attr{Name: xml.Name{Local: "pos"}, Value: formatPoint(l.Pos)}); err != nil {
			return err
		}
	}
	for _, mk := range m.markers {
		if err := empty("marker", xml.Attr{Name: xml.Name{Local: "pos"}, Value: formatPoint(mk.Pos)}); err != nil {
			return err
		}
	}
	if err := empty("start",
		xml.Attr{Name: xml.Name{Local: "pos"}, Value: formatPoint(m.start.Pos())},
		xml.Attr{Name: xml.Name{Local: "theta"}, Value: formatFloat(m.start.Theta)},
	); err != nil {
		return err
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return err
	}
	return enc.Flush()
}

func attrValue(start xml.StartElement, name string) (string, bool) {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func parseFloatAttr(start xml.StartElement, name string) (float64, bool) {
	if v, ok := attrValue(start, name); ok {
		val, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return val, true
		}
	}
	return 0, false
}

// parsePoints reads "x,y;x,y;..." and drops malformed pairs.
func parsePoints(val string) []geom.Vec {
	var pts []geom.Vec
	for _, p := range strings.Split(val, ";") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		toks := strings.Split(p, ",")
		if len(toks) != 2 {
			continue
		}
		x, err1 := strconv.ParseFloat(strings.TrimSpace(toks[0]), 64)
		y, err2 := strconv.ParseFloat(strings.TrimSpace(toks[1]), 64)
		if err1 == nil && err2 == nil {
			pts = append(pts, geom.V(x, y))
		}
	}
	return pts
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func formatPoint(p geom.Vec) string { return formatFloat(p.X) + "," + formatFloat(p.Y) }
