package frame

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	valid := &Frame{
		Width:  4,
		Height: 2,
		Format: FormatGray8,
		Planes: []Plane{{Data: make([]byte, 8), RowStride: 4}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Expected valid frame, got error: %v", err)
	}

	tests := []struct {
		name  string
		frame *Frame
	}{
		{"nil frame", nil},
		{"no planes", &Frame{Width: 4, Height: 2}},
		{"zero width", &Frame{Width: 0, Height: 2, Planes: []Plane{{Data: []byte{1}, RowStride: 1}}}},
		{"zero height", &Frame{Width: 4, Height: 0, Planes: []Plane{{Data: []byte{1}, RowStride: 1}}}},
		{"empty primary plane", &Frame{Width: 4, Height: 2, Planes: []Plane{{Data: nil, RowStride: 4}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("Expected ErrInvalidFrame, got %v", err)
			}
		})
	}
}

func TestTotalBytes(t *testing.T) {
	f := &Frame{
		Width:  4,
		Height: 2,
		Planes: []Plane{
			{Data: make([]byte, 8), RowStride: 4},
			{Data: make([]byte, 2), RowStride: 2},
			{Data: make([]byte, 2), RowStride: 2},
		},
	}
	if got := f.TotalBytes(); got != 12 {
		t.Errorf("Expected 12 total bytes, got %d", got)
	}
}

func TestEffectiveRotation(t *testing.T) {
	tests := []struct {
		name         string
		mounting     int
		facing       Facing
		compensation bool
		want         int
	}{
		{"back sensor unrotated", 0, FacingBack, true, 0},
		{"back sensor mounted at 90", 90, FacingBack, true, 90},
		{"front sensor gets +90", 0, FacingFront, true, 90},
		{"front sensor wraps past 360", 270, FacingFront, true, 0},
		{"front sensor at 180", 180, FacingFront, true, 270},
		{"front sensor compensation disabled", 0, FacingFront, false, 0},
		{"negative mounting normalized", -90, FacingBack, true, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveRotation(tt.mounting, tt.facing, tt.compensation)
			if got != tt.want {
				t.Errorf("EffectiveRotation(%d, %s, %v) = %d, want %d",
					tt.mounting, tt.facing, tt.compensation, got, tt.want)
			}
		})
	}
}
