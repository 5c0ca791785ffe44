package world

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navsim-go/geom"
	"navsim-go/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func TestGenerateDeterministic(t *testing.T) {
	p := DefaultGenParams()
	p.Seed = 42
	a, err := Generate(p)
	require.NoError(t, err)
	b, err := Generate(p)
	require.NoError(t, err)
	if diff := cmp.Diff(a.Walls(), b.Walls()); diff != "" {
		t.Fatalf("same seed produced different walls (-a +b):\n%s", diff)
	}
	assert.Equal(t, a.Landmarks(), b.Landmarks())
}

func TestGenerateAlwaysConnected(t *testing.T) {
	for seed := uint64(0); seed < 20; seed++ {
		for _, dims := range [][2]int{{1, 1}, {1, 5}, {3, 3}, {4, 6}} {
			p := GenParams{Rows: dims[0], Cols: dims[1], CellSize: 50, Seed: seed}
			p.Complexity = p.MaxComplexity()
			m, err := Generate(p)
			require.NoError(t, err)
			assert.Equal(t, dims[0]*dims[1], m.ReachableCells(), "seed %d grid %v", seed, dims)
			assert.GreaterOrEqual(t, len(m.Walls()), 4)
		}
	}
}

func TestGenerateComplexityMonotonic(t *testing.T) {
	p := GenParams{Rows: 4, Cols: 4, CellSize: 10, Seed: 7}
	boundary := 2*p.Rows + 2*p.Cols
	prev := map[geom.Segment]bool{}
	for k := 0; k <= p.MaxComplexity(); k++ {
		p.Complexity = k
		m, err := Generate(p)
		require.NoError(t, err)
		assert.Len(t, m.Walls(), boundary+k)
		cur := map[geom.Segment]bool{}
		for _, w := range m.Walls() {
			cur[w.Seg] = true
		}
		for s := range prev {
			assert.True(t, cur[s], "wall %v dropped at complexity %d", s, k)
		}
		prev = cur
	}
}

func TestGenerateClampsComplexity(t *testing.T) {
	p := GenParams{Rows: 3, Cols: 3, CellSize: 100, Complexity: 1000}
	m, err := Generate(p)
	require.NoError(t, err)
	assert.Len(t, m.Walls(), 12+p.MaxComplexity())

	p.Complexity = -5
	m, err = Generate(p)
	require.NoError(t, err)
	assert.Len(t, m.Walls(), 12)
	assert.Equal(t, 9, m.ReachableCells())
}

func TestGenerateInvalidParams(t *testing.T) {
	tests := []struct {
		name string
		p    GenParams
	}{
		{"zero rows", GenParams{Rows: 0, Cols: 3, CellSize: 1}},
		{"zero cell size", GenParams{Rows: 3, Cols: 3}},
		{"negative markers", GenParams{Rows: 3, Cols: 3, CellSize: 1, MarkersPerSide: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(tt.p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidParams))
		})
	}
}

func TestGenerateLandmarksAndMarkers(t *testing.T) {
	p := GenParams{Rows: 3, Cols: 3, CellSize: 100, MarkersPerSide: 2, LandmarkRadius: 3}
	m, err := Generate(p)
	require.NoError(t, err)

	// Open room: the 12 boundary grid nodes are the only wall endpoints.
	lms := m.Landmarks()
	require.Len(t, lms, 12)
	for i, l := range lms {
		assert.Equal(t, i, l.ID)
		assert.Equal(t, 3.0, l.Radius)
		if i > 0 {
			assert.True(t, lms[i-1].Pos.Less(l.Pos))
		}
	}
	assert.Equal(t, geom.V(0, 0), lms[0].Pos)

	assert.Equal(t, 36, m.TotalMarkers(), "2x2 markers in each of 9 cells")
	assert.Equal(t, geom.V(25, 25), m.Markers()[0].Pos)
	assert.Equal(t, geom.Pose{X: 50, Y: 50}, m.StartPose())
	assert.Equal(t, geom.V(250, 150), m.CellCenter(1, 2))
	assert.Equal(t, Rect{Min: geom.V(0, 0), Max: geom.V(300, 300)}, m.Bounds())
}

func TestLandmarksNearStableOrder(t *testing.T) {
	m, err := Generate(GenParams{Rows: 3, Cols: 3, CellSize: 100})
	require.NoError(t, err)
	near := m.LandmarksNear(geom.V(0, 0), 150)
	var ids []int
	for _, l := range near {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []int{0, 1, 4}, ids)
	assert.Equal(t, near, m.LandmarksNear(geom.V(0, 0), 150))

	def, err := Generate(DefaultGenParams())
	require.NoError(t, err)
	assert.Equal(t, 3.0, def.LandmarkRadius())
	for _, l := range def.Landmarks() {
		assert.Equal(t, def.LandmarkRadius(), l.Radius)
	}
}

func TestMarkCollectedIdempotent(t *testing.T) {
	m, err := Generate(GenParams{Rows: 1, Cols: 1, CellSize: 10, MarkersPerSide: 1})
	require.NoError(t, err)
	assert.True(t, m.MarkCollected(0))
	assert.False(t, m.MarkCollected(0))
	assert.False(t, m.MarkCollected(99))
	assert.Equal(t, 1, m.CollectedMarkers())
	assert.Equal(t, 1.0, m.Coverage())
	assert.True(t, m.Markers()[0].Collected)
}

func TestSnapshotsDoNotAlias(t *testing.T) {
	m, err := Generate(DefaultGenParams())
	require.NoError(t, err)
	ws := m.Walls()
	ws[0].Seg = geom.Seg(9, 9, 9, 9)
	assert.NotEqual(t, ws[0], m.Walls()[0])
	mk := m.Markers()
	mk[0].Collected = true
	assert.False(t, m.Markers()[0].Collected)
}

func TestNewMapRequiresWalls(t *testing.T) {
	_, err := NewMap(nil, nil, nil, 0)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestXMLRoundTrip(t *testing.T) {
	p := DefaultGenParams()
	p.Seed = 3
	m, err := Generate(p)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.WriteXML(&buf))
	path := filepath.Join(t.TempDir(), "maze.xml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	got, err := LoadXML(path)
	require.NoError(t, err)
	assert.Equal(t, m.Segments(), got.Segments())
	assert.Equal(t, m.Landmarks(), got.Landmarks())
	assert.Equal(t, m.TotalMarkers(), got.TotalMarkers())
	assert.Equal(t, m.StartPose(), got.StartPose())
}

func TestDecodeXMLSkipsMalformed(t *testing.T) {
	doc := `<map>
  <wall posgroup="0,0;10,0"/>
  <wall posgroup="bogus"/>
  <wall posgroup="10,0;10,10"/>
  <marker pos="5,5"/>
</map>`
	m, err := DecodeXML(bytes.NewBufferString(doc))
	require.NoError(t, err)
	assert.Len(t, m.Walls(), 2)
	assert.Equal(t, []geom.Vec{geom.V(0, 0), geom.V(10, 0), geom.V(10, 10)}, landmarkPositions(m))
	assert.Equal(t, 1, m.TotalMarkers())
}

func landmarkPositions(m *Map) []geom.Vec {
	var out []geom.Vec
	for _, l := range m.Landmarks() {
		out = append(out, l.Pos)
	}
	return out
}
