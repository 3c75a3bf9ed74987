package composite

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

func near(a, b color.RGBA, tol int) bool {
	d := func(x, y uint8) bool {
		diff := int(x) - int(y)
		if diff < 0 {
			diff = -diff
		}
		return diff <= tol
	}
	return d(a.R, b.R) && d(a.G, b.G) && d(a.B, b.B) && d(a.A, b.A)
}

var (
	red   = color.RGBA{R: 200, A: 255}
	blue  = color.RGBA{B: 200, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

func TestOverlayRect(t *testing.T) {
	base := image.Pt(1000, 2000)

	tests := []struct {
		name   string
		layout func(l *Layout)
		want   image.Rectangle
	}{
		{
			name:   "右上",
			layout: func(l *Layout) {},
			want:   image.Rect(684, 16, 984, 616),
		},
		{
			name:   "右下",
			layout: func(l *Layout) { l.Corner = CornerBottomTrailing },
			want:   image.Rect(684, 1384, 984, 1984),
		},
		{
			name:   "余白なし",
			layout: func(l *Layout) { l.Padding = 0 },
			want:   image.Rect(700, 0, 1000, 600),
		},
		{
			name:   "余白が大きすぎる場合は画像内に収める",
			layout: func(l *Layout) { l.Scale = 1; l.Padding = 50 },
			want:   image.Rect(0, 50, 1000, 2000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLayout()
			tt.layout(&l)
			got := OverlayRect(base, l)
			if got != tt.want {
				t.Errorf("OverlayRect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverlayRect_WithinBounds(t *testing.T) {
	bases := []image.Point{{1, 1}, {7, 3}, {64, 48}, {480, 640}, {1920, 1080}}
	scales := []float64{0.01, 0.25, 0.3, 0.5, 0.99, 1}
	paddings := []int{0, 5, 16, 100, 5000}
	corners := []Corner{CornerTopTrailing, CornerBottomTrailing}

	for _, b := range bases {
		bounds := image.Rect(0, 0, b.X, b.Y)
		for _, s := range scales {
			for _, p := range paddings {
				for _, c := range corners {
					l := Layout{Scale: s, Padding: p, Corner: c}
					r := OverlayRect(b, l)
					if !r.In(bounds) {
						t.Errorf("base=%v scale=%v padding=%d corner=%s: %v not in %v", b, s, p, c, r, bounds)
					}
				}
			}
		}
	}
}

func TestLayout_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(l *Layout)
		wantErr bool
	}{
		{name: "標準", modify: func(l *Layout) {}},
		{name: "倍率0", modify: func(l *Layout) { l.Scale = 0 }, wantErr: true},
		{name: "倍率が1を超える", modify: func(l *Layout) { l.Scale = 1.5 }, wantErr: true},
		{name: "負の余白", modify: func(l *Layout) { l.Padding = -1 }, wantErr: true},
		{name: "負の半径", modify: func(l *Layout) { l.CornerRadius = -2 }, wantErr: true},
		{name: "負の枠線", modify: func(l *Layout) { l.BorderWidth = -1 }, wantErr: true},
		{name: "不明な配置", modify: func(l *Layout) { l.Corner = Corner(9) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := DefaultLayout()
			tt.modify(&l)
			err := l.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseCorner(t *testing.T) {
	for _, c := range []Corner{CornerTopTrailing, CornerBottomTrailing} {
		got, err := ParseCorner(c.String())
		if err != nil || got != c {
			t.Errorf("ParseCorner(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseCorner("left"); err == nil {
		t.Error("不明な配置でエラーになるべきです")
	}
}

func TestCompose(t *testing.T) {
	base := solid(400, 800, red)
	overlay := solid(300, 400, blue)
	l := DefaultLayout()

	got, err := Compose(base, overlay, l)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if got.Bounds() != base.Bounds() {
		t.Fatalf("キャンバスのサイズ = %v, want %v", got.Bounds(), base.Bounds())
	}

	rect := OverlayRect(base.Bounds().Size(), l)
	center := image.Pt((rect.Min.X+rect.Max.X)/2, (rect.Min.Y+rect.Max.Y)/2)

	checks := []struct {
		name string
		at   image.Point
		want color.RGBA
	}{
		{name: "オーバーレイ外はベース", at: image.Pt(10, 400), want: red},
		{name: "オーバーレイの中心", at: center, want: blue},
		{name: "上辺の枠線", at: image.Pt(center.X, rect.Min.Y+1), want: white},
		{name: "左辺の枠線", at: image.Pt(rect.Min.X+1, center.Y), want: white},
		{name: "角丸の外側はベース", at: rect.Min, want: red},
		{name: "右下の角丸の外側はベース", at: rect.Max.Sub(image.Pt(1, 1)), want: red},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if px := got.RGBAAt(c.at.X, c.at.Y); !near(px, c.want, 2) {
				t.Errorf("pixel %v = %v, want %v", c.at, px, c.want)
			}
		})
	}
}

func TestCompose_NoBorder(t *testing.T) {
	base := solid(200, 200, red)
	overlay := solid(50, 50, blue)
	l := DefaultLayout()
	l.BorderWidth = 0
	l.CornerRadius = 0

	got, err := Compose(base, overlay, l)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	rect := OverlayRect(base.Bounds().Size(), l)
	// 角丸も枠線もなければ矩形の角までオーバーレイになる
	if px := got.RGBAAt(rect.Min.X, rect.Min.Y); !near(px, blue, 2) {
		t.Errorf("pixel %v = %v, want %v", rect.Min, px, blue)
	}
	if px := got.RGBAAt(rect.Min.X-1, rect.Min.Y); !near(px, red, 2) {
		t.Errorf("矩形の外側 = %v, want %v", px, red)
	}
}

func TestCompose_Deterministic(t *testing.T) {
	base := solid(320, 240, red)
	overlay := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			overlay.SetRGBA(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	l := DefaultLayout()

	first, err := Compose(base, overlay, l)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Compose(base, overlay, l)
		if err != nil {
			t.Fatalf("Compose() error = %v", err)
		}
		if !bytes.Equal(first.Pix, again.Pix) {
			t.Fatalf("%d回目の合成結果が一致しません", i+2)
		}
	}
}

func TestCompose_DoesNotModifyInputs(t *testing.T) {
	base := solid(100, 100, red)
	overlay := solid(40, 40, blue)
	baseCopy := append([]uint8(nil), base.Pix...)
	overlayCopy := append([]uint8(nil), overlay.Pix...)

	if _, err := Compose(base, overlay, DefaultLayout()); err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if !bytes.Equal(base.Pix, baseCopy) || !bytes.Equal(overlay.Pix, overlayCopy) {
		t.Error("入力画像が変更されています")
	}
}

func TestCompose_OffsetBaseBounds(t *testing.T) {
	base := solid(100, 100, red).SubImage(image.Rect(20, 20, 80, 80))
	got, err := Compose(base, solid(10, 10, blue), DefaultLayout())
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if got.Bounds() != image.Rect(0, 0, 60, 60) {
		t.Errorf("キャンバスのサイズ = %v", got.Bounds())
	}
}

func TestCompose_Errors(t *testing.T) {
	valid := solid(10, 10, red)

	tests := []struct {
		name    string
		base    image.Image
		overlay image.Image
		layout  Layout
	}{
		{name: "ベースなし", overlay: valid, layout: DefaultLayout()},
		{name: "オーバーレイなし", base: valid, layout: DefaultLayout()},
		{name: "空のベース", base: image.NewRGBA(image.Rect(0, 0, 0, 0)), overlay: valid, layout: DefaultLayout()},
		{name: "不正なレイアウト", base: valid, overlay: valid, layout: Layout{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compose(tt.base, tt.overlay, tt.layout); err == nil {
				t.Error("エラーになるべきです")
			}
		})
	}
}
