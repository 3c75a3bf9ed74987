// Package composite は2枚の画像をピクチャーインピクチャーで1枚に合成する
package composite

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
)

// Corner はオーバーレイを置く角
type Corner int

const (
	CornerTopTrailing    Corner = iota // 右上
	CornerBottomTrailing               // 右下
)

func (c Corner) String() string {
	switch c {
	case CornerTopTrailing:
		return "top_trailing"
	case CornerBottomTrailing:
		return "bottom_trailing"
	default:
		return fmt.Sprintf("corner(%d)", int(c))
	}
}

// ParseCorner は文字列から角を得る
func ParseCorner(s string) (Corner, error) {
	switch s {
	case "top_trailing":
		return CornerTopTrailing, nil
	case "bottom_trailing":
		return CornerBottomTrailing, nil
	}
	return 0, fmt.Errorf("不明な配置: %q", s)
}

// Layout はオーバーレイの配置・大きさ・装飾
type Layout struct {
	Scale        float64    // ベース画像の幅・高さに対する倍率
	Corner       Corner     // 配置する角
	Padding      int        // ベース画像の端からの余白（px）
	CornerRadius float64    // 角丸の半径（px）
	BorderWidth  float64    // 枠線の太さ（px、0で描かない）
	BorderColor  color.RGBA // 枠線の色
}

// ErrInvalidLayout はレイアウトの値が不正なことを表す
var ErrInvalidLayout = errors.New("レイアウトが不正です")

// DefaultLayout は標準のレイアウトを返す
func DefaultLayout() Layout {
	return Layout{
		Scale:        0.3,
		Corner:       CornerTopTrailing,
		Padding:      16,
		CornerRadius: 12,
		BorderWidth:  3,
		BorderColor:  color.RGBA{R: 255, G: 255, B: 255, A: 255},
	}
}

// Validate はレイアウトの妥当性を検証する
func (l Layout) Validate() error {
	if l.Scale <= 0 || l.Scale > 1 || math.IsNaN(l.Scale) {
		return fmt.Errorf("%w: 倍率は0より大きく1以下: %v", ErrInvalidLayout, l.Scale)
	}
	if l.Padding < 0 {
		return fmt.Errorf("%w: 余白が負の値です: %d", ErrInvalidLayout, l.Padding)
	}
	if l.CornerRadius < 0 || math.IsNaN(l.CornerRadius) {
		return fmt.Errorf("%w: 角丸の半径が負の値です: %v", ErrInvalidLayout, l.CornerRadius)
	}
	if l.BorderWidth < 0 || math.IsNaN(l.BorderWidth) {
		return fmt.Errorf("%w: 枠線の太さが負の値です: %v", ErrInvalidLayout, l.BorderWidth)
	}
	if l.Corner != CornerTopTrailing && l.Corner != CornerBottomTrailing {
		return fmt.Errorf("%w: 不明な配置 %s", ErrInvalidLayout, l.Corner)
	}
	return nil
}

// OverlayRect はベース画像サイズに対するオーバーレイの矩形を返す
// 結果は常に [0, base.X] × [0, base.Y] に収まる
func OverlayRect(base image.Point, l Layout) image.Rectangle {
	if base.X <= 0 || base.Y <= 0 {
		return image.Rectangle{}
	}

	scale := math.Min(math.Max(l.Scale, 0), 1)
	w := int(math.Round(scale * float64(base.X)))
	h := int(math.Round(scale * float64(base.Y)))
	padding := l.Padding
	if padding < 0 {
		padding = 0
	}

	x := base.X - w - padding
	y := padding
	if l.Corner == CornerBottomTrailing {
		y = base.Y - h - padding
	}

	r := image.Rect(x, y, x+w, y+h)
	// 余白が大きすぎる場合も画像内に収める
	if r.Min.X < 0 {
		r = r.Add(image.Pt(-r.Min.X, 0))
	}
	if r.Min.Y < 0 {
		r = r.Add(image.Pt(0, -r.Min.Y))
	}
	return r.Intersect(image.Rect(0, 0, base.X, base.Y))
}
