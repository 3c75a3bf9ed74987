package capture

import (
	"image"
	"image/color"
	"testing"
)

func markedImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	return img
}

func TestOrient(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}

	testCases := []struct {
		name     string
		src      image.Point
		conn     Connection
		wantSize image.Point
		wantRed  image.Point
	}{
		{
			name:     "landscape rotated to portrait",
			src:      image.Pt(4, 2),
			conn:     Connection{Orientation: OrientationPortrait},
			wantSize: image.Pt(2, 4),
			wantRed:  image.Pt(1, 0),
		},
		{
			name:     "portrait unchanged",
			src:      image.Pt(2, 4),
			conn:     Connection{Orientation: OrientationPortrait},
			wantSize: image.Pt(2, 4),
			wantRed:  image.Pt(0, 0),
		},
		{
			name:     "mirrored portrait",
			src:      image.Pt(2, 4),
			conn:     Connection{Orientation: OrientationPortrait, Mirrored: true},
			wantSize: image.Pt(2, 4),
			wantRed:  image.Pt(1, 0),
		},
		{
			name:     "landscape rotated and mirrored",
			src:      image.Pt(4, 2),
			conn:     Connection{Orientation: OrientationPortrait, Mirrored: true},
			wantSize: image.Pt(2, 4),
			wantRed:  image.Pt(0, 0),
		},
		{
			name:     "landscape kept",
			src:      image.Pt(4, 2),
			conn:     Connection{Orientation: OrientationLandscapeRight},
			wantSize: image.Pt(4, 2),
			wantRed:  image.Pt(0, 0),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := Orient(markedImage(tc.src.X, tc.src.Y), tc.conn)
			if got := out.Bounds().Size(); got != tc.wantSize {
				t.Fatalf("size = %v, want %v", got, tc.wantSize)
			}
			if got := out.RGBAAt(tc.wantRed.X, tc.wantRed.Y); got != red {
				t.Errorf("pixel at %v = %v, want red", tc.wantRed, got)
			}
		})
	}
}

func TestOrient_SubImageOrigin(t *testing.T) {
	base := image.NewRGBA(image.Rect(0, 0, 10, 10))
	base.SetRGBA(5, 5, color.RGBA{G: 255, A: 255})
	sub := base.SubImage(image.Rect(5, 5, 7, 9))

	out := Orient(sub, Connection{Orientation: OrientationPortrait})
	if out.Bounds().Min != (image.Point{}) {
		t.Fatalf("Expected origin-based output, got %v", out.Bounds())
	}
	if out.RGBAAt(0, 0).G != 255 {
		t.Error("Expected sub-image content to be preserved")
	}
}

func TestOrient_DoesNotAliasInput(t *testing.T) {
	testCases := []struct {
		name string
		conn Connection
	}{
		{"portrait unchanged", Connection{Orientation: OrientationPortrait}},
		{"mirrored", Connection{Orientation: OrientationPortrait, Mirrored: true}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			src := markedImage(2, 4)
			out := Orient(src, tc.conn)
			if out == src {
				t.Fatal("Orient returned the input buffer")
			}

			before := append([]uint8(nil), out.Pix...)
			for i := range src.Pix {
				src.Pix[i] = 0x7f
			}
			for i := range out.Pix {
				if out.Pix[i] != before[i] {
					t.Fatal("Output changed after the producer reused its buffer")
				}
			}
		})
	}
}

func TestOrient_RotationIsExact(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 5, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			src.SetRGBA(x, y, color.RGBA{R: uint8(x * 40), G: uint8(y * 80), A: 255})
		}
	}

	out := Orient(src, Connection{Orientation: OrientationPortrait})
	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			if got, want := out.RGBAAt(2-y, x), src.RGBAAt(x, y); got != want {
				t.Fatalf("pixel (%d,%d) moved to (%d,%d) = %v, want %v", x, y, 2-y, x, got, want)
			}
		}
	}
}
