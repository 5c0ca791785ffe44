package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"navsim-go/geom"
)

func TestBestShiftRMSE(t *testing.T) {
	var ref []geom.Vec
	for i := 0; i < 50; i++ {
		ref = append(ref, geom.Vec{X: float64(i * i), Y: 1})
	}
	pred := append([]geom.Vec{{}, {}, {}}, ref...)

	rmse, shift := bestShiftRMSE(pred, ref, 5)
	assert.Equal(t, 3, shift)
	assert.Zero(t, rmse)

	rmse, shift = bestShiftRMSE(ref, pred, 5)
	assert.Equal(t, -3, shift)
	assert.Zero(t, rmse)

	rmse, _ = bestShiftRMSE(nil, ref, 2)
	assert.True(t, rmse > 1e300, "no overlap")
}
