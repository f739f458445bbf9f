package blink

import (
	"slices"
	"testing"
)

func TestUpdate(t *testing.T) {
	tests := []struct {
		name   string
		ratios []float64
		blinks []int // 1-based sample numbers that complete a blink
	}{
		{
			name:   "single blink",
			ratios: []float64{0.30, 0.10, 0.10, 0.30},
			blinks: []int{4},
		},
		{
			name:   "eyes stay open",
			ratios: []float64{0.30, 0.30, 0.30},
			blinks: nil,
		},
		{
			name:   "starts closed, every reopening counts",
			ratios: []float64{0.10, 0.30, 0.10, 0.30},
			blinks: []int{2, 4},
		},
		{
			name:   "noise above threshold",
			ratios: []float64{0.31, 0.26, 0.29, 0.25, 0.27},
			blinks: nil,
		},
		{
			name:   "eyes stay closed",
			ratios: []float64{0.30, 0.10, 0.05, 0.0},
			blinks: nil,
		},
		{
			name:   "two blinks",
			ratios: []float64{0.3, 0.2, 0.3, 0.3, 0.1, 0.3},
			blinks: []int{3, 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(0.25)
			var got []int
			for i, r := range tt.ratios {
				if d.Update(r) {
					got = append(got, i+1)
				}
			}
			if !slices.Equal(got, tt.blinks) {
				t.Errorf("blinks at %v, want %v", got, tt.blinks)
			}
		})
	}
}

// The first open sample after a closed start emits exactly one event.
func TestUpdateStartsClosedFirstEvent(t *testing.T) {
	d := New(DefaultThreshold)
	ratios := []float64{0.10, 0.30, 0.10, 0.30}

	if d.Update(ratios[0]) {
		t.Fatal("closing edge emitted an event")
	}
	if !d.Closed() {
		t.Fatal("detector not closed after a low ratio")
	}
	if !d.Update(ratios[1]) {
		t.Fatal("no event on the 2nd sample")
	}
	if d.Closed() {
		t.Fatal("detector still closed after the opening edge")
	}
}

func TestNewDefaultsThreshold(t *testing.T) {
	for _, threshold := range []float64{0, -1} {
		if got := New(threshold).Threshold(); got != DefaultThreshold {
			t.Errorf("New(%v).Threshold() = %v, want %v", threshold, got, DefaultThreshold)
		}
	}
	if got := New(0.2).Threshold(); got != 0.2 {
		t.Errorf("New(0.2).Threshold() = %v", got)
	}
}

func TestUpdateCustomThreshold(t *testing.T) {
	d := New(0.15)
	for _, r := range []float64{0.3, 0.2, 0.3} {
		if d.Update(r) {
			t.Fatalf("ratio %v above a 0.15 threshold produced a blink", r)
		}
	}
	d.Update(0.1)
	if !d.Update(0.3) {
		t.Error("no blink after crossing the custom threshold")
	}
}
