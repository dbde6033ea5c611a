package geometry

import (
	"math"
	"testing"
)

func TestNormalizeDeskewAngle(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{7, 7},
		{-7, -7},
		{45, 45},
		{46, -44},
		{-45, 45},
		{88, -2},
		{-88, 2},
		{90, 0},
		{-90, 0},
		{183, 3},
	}
	for _, tc := range cases {
		got := NormalizeDeskewAngle(tc.in)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("NormalizeDeskewAngle(%v) = %v, want %v", tc.in, got, tc.want)
		}
		if got <= -45 || got > 45 {
			t.Errorf("NormalizeDeskewAngle(%v) = %v outside (-45, 45]", tc.in, got)
		}
	}
}

func TestRectIntExpandClamp(t *testing.T) {
	r := RectInt{X: 10, Y: 10, Width: 100, Height: 150}
	e := r.Expand(20)
	if e.X != -10 || e.Y != -10 || e.Width != 140 || e.Height != 190 {
		t.Fatalf("Expand: got %+v", e)
	}
	c := e.ClampTo(120, 200)
	if c.X != 0 || c.Y != 0 {
		t.Fatalf("ClampTo origin: got %+v", c)
	}
	if c.X+c.Width > 120 || c.Y+c.Height > 200 {
		t.Fatalf("ClampTo exceeds image: got %+v", c)
	}
}

func TestFracRectApply(t *testing.T) {
	f := FracRect{XStart: 0.0, XEnd: 0.4, YStart: 0.9, YEnd: 1.0}
	if !f.Valid() {
		t.Fatal("expected valid bounds")
	}
	r := f.Apply(1000, 1400)
	if r.X != 0 || r.Width != 400 {
		t.Errorf("x bounds: got %+v", r)
	}
	if r.Y != 1260 || r.Height != 140 {
		t.Errorf("y bounds: got %+v", r)
	}

	bad := FracRect{XStart: 0.5, XEnd: 0.2, YStart: 0, YEnd: 1}
	if bad.Valid() {
		t.Error("expected inverted bounds to be invalid")
	}
}

func TestRectIntAspectRatio(t *testing.T) {
	r := RectInt{Width: 630, Height: 880}
	if math.Abs(r.AspectRatio()-CardAspectRatio) > 1e-9 {
		t.Errorf("aspect ratio: got %v", r.AspectRatio())
	}
	if (RectInt{}).AspectRatio() != 0 {
		t.Error("degenerate rect should report 0")
	}
}
