package composite

import (
	"errors"
	"image"
	"math"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

// kappa は円弧を3次ベジェで近似するときの制御点の係数
const kappa = 0.5522847498

// Image は合成結果（生成後は変更しない）
type Image struct {
	RequestID  string
	Canvas     *image.RGBA
	Layout     Layout
	ComposedAt time.Time
}

// Compose はベース画像の上にオーバーレイをレイアウトに従って描いた新しい画像を返す
// 同じ入力からは常に同じ画素が得られる
func Compose(base, overlay image.Image, l Layout) (*image.RGBA, error) {
	if base == nil || overlay == nil {
		return nil, errors.New("合成する画像がありません")
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}

	bb := base.Bounds()
	if bb.Empty() {
		return nil, errors.New("ベース画像が空です")
	}

	// キャンバスはベース画像と同じ大きさで、原点にベースを描く
	canvas := image.NewRGBA(image.Rect(0, 0, bb.Dx(), bb.Dy()))
	draw.Draw(canvas, canvas.Bounds(), base, bb.Min, draw.Src)

	rect := OverlayRect(canvas.Bounds().Size(), l)
	if rect.Empty() || overlay.Bounds().Empty() {
		return canvas, nil
	}

	radius := clampRadius(l.CornerRadius, rect)

	// オーバーレイを矩形に合わせて拡縮する（縦横比は矩形に従う）
	scaled := image.NewRGBA(rect)
	draw.BiLinear.Scale(scaled, rect, overlay, overlay.Bounds(), draw.Src, nil)

	// 角丸矩形で切り抜いて描く
	mask := roundedMask(canvas.Bounds().Size(), rect, radius)
	draw.DrawMask(canvas, rect, scaled, rect.Min, mask, rect.Min, draw.Over)

	// 枠線は矩形の内側に描く
	if l.BorderWidth > 0 {
		drawBorder(canvas, rect, radius, l)
	}

	return canvas, nil
}

// roundedMask は角丸矩形の内側を不透明にしたマスクを作成する
func roundedMask(size image.Point, rect image.Rectangle, radius float64) *image.Alpha {
	z := vector.NewRasterizer(size.X, size.Y)
	z.DrawOp = draw.Src
	roundedRectPath(z, toFloatRect(rect), radius, false)

	mask := image.NewAlpha(image.Rect(0, 0, size.X, size.Y))
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

// drawBorder は外周と内周の間の帯を塗る
func drawBorder(canvas *image.RGBA, rect image.Rectangle, radius float64, l Layout) {
	outer := toFloatRect(rect)
	width := math.Min(l.BorderWidth, math.Min(outer.w(), outer.h())/2)
	inner := floatRect{
		x0: outer.x0 + width,
		y0: outer.y0 + width,
		x1: outer.x1 - width,
		y1: outer.y1 - width,
	}

	size := canvas.Bounds().Size()
	z := vector.NewRasterizer(size.X, size.Y)
	roundedRectPath(z, outer, radius, false)
	if inner.w() > 0 && inner.h() > 0 {
		// 逆回りの内周で穴をあける
		roundedRectPath(z, inner, math.Max(radius-width, 0), true)
	}
	z.Draw(canvas, canvas.Bounds(), image.NewUniform(l.BorderColor), image.Point{})
}

type floatRect struct {
	x0, y0, x1, y1 float64
}

func (r floatRect) w() float64 { return r.x1 - r.x0 }
func (r floatRect) h() float64 { return r.y1 - r.y0 }

func toFloatRect(r image.Rectangle) floatRect {
	return floatRect{
		x0: float64(r.Min.X),
		y0: float64(r.Min.Y),
		x1: float64(r.Max.X),
		y1: float64(r.Max.Y),
	}
}

func clampRadius(radius float64, rect image.Rectangle) float64 {
	limit := math.Min(float64(rect.Dx()), float64(rect.Dy())) / 2
	return math.Max(0, math.Min(radius, limit))
}

// roundedRectPath は角丸矩形の閉路を追加する
// reverseがtrueなら反時計回りに辿る
func roundedRectPath(z *vector.Rasterizer, r floatRect, radius float64, reverse bool) {
	f := func(v float64) float32 { return float32(v) }
	k := radius * kappa

	x0, y0, x1, y1 := r.x0, r.y0, r.x1, r.y1
	if !reverse {
		z.MoveTo(f(x0+radius), f(y0))
		z.LineTo(f(x1-radius), f(y0))
		z.CubeTo(f(x1-radius+k), f(y0), f(x1), f(y0+radius-k), f(x1), f(y0+radius))
		z.LineTo(f(x1), f(y1-radius))
		z.CubeTo(f(x1), f(y1-radius+k), f(x1-radius+k), f(y1), f(x1-radius), f(y1))
		z.LineTo(f(x0+radius), f(y1))
		z.CubeTo(f(x0+radius-k), f(y1), f(x0), f(y1-radius+k), f(x0), f(y1-radius))
		z.LineTo(f(x0), f(y0+radius))
		z.CubeTo(f(x0), f(y0+radius-k), f(x0+radius-k), f(y0), f(x0+radius), f(y0))
	} else {
		z.MoveTo(f(x0+radius), f(y0))
		z.CubeTo(f(x0+radius-k), f(y0), f(x0), f(y0+radius-k), f(x0), f(y0+radius))
		z.LineTo(f(x0), f(y1-radius))
		z.CubeTo(f(x0), f(y1-radius+k), f(x0+radius-k), f(y1), f(x0+radius), f(y1))
		z.LineTo(f(x1-radius), f(y1))
		z.CubeTo(f(x1-radius+k), f(y1), f(x1), f(y1-radius+k), f(x1), f(y1-radius))
		z.LineTo(f(x1), f(y0+radius))
		z.CubeTo(f(x1), f(y0+radius-k), f(x1-radius+k), f(y0), f(x1-radius), f(y0))
	}
	z.ClosePath()
}
