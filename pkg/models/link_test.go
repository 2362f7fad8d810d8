package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampConfidence(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{name: "in range", in: 0.5, want: 0.5},
		{name: "negative", in: -1, want: 0},
		{name: "above one", in: 2, want: 1},
		{name: "positive infinity", in: math.Inf(1), want: 1},
		{name: "negative infinity", in: math.Inf(-1), want: 0},
		{name: "nan", in: math.NaN(), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampConfidence(tt.in))
		})
	}
}

func TestNewLinkClampsNaN(t *testing.T) {
	l := NewLink("acc", "t1", StrategyClientField, math.NaN())
	assert.Equal(t, 0.0, l.Confidence)

	tl := NewThemeLink("gps", "t1", math.NaN())
	assert.Equal(t, 0.0, tl.Confidence)
}
