package capture

import (
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Orient はコネクションの向き・反転情報を画素に適用する
// 縦向き指定で横長の画像は時計回りに90度回転し、Mirroredなら左右反転する
// 戻り値は常に新しいバッファで、入力画像とは共有しない
func Orient(img image.Image, conn Connection) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// s2d は入力の座標を出力の座標へ写す
	s2d := f64.Aff3{
		1, 0, float64(-b.Min.X),
		0, 1, float64(-b.Min.Y),
	}
	size := image.Pt(w, h)

	if conn.Orientation == OrientationPortrait && w > h {
		// (x, y) -> (h - y, x)
		s2d = mul(f64.Aff3{0, -1, float64(h), 1, 0, 0}, s2d)
		size = image.Pt(h, w)
	}
	if conn.Mirrored {
		// (x, y) -> (w - x, y)
		s2d = mul(f64.Aff3{-1, 0, float64(size.X), 0, 1, 0}, s2d)
	}

	dst := image.NewRGBA(image.Rectangle{Max: size})
	draw.NearestNeighbor.Transform(dst, s2d, img, b, draw.Src, nil)
	return dst
}

// mul はbを適用した後にaを適用する変換を返す
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}
}
