// Package storage は合成した静止画をJPEGとして保存する
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"dualcam/internal/composite"
)

// DefaultQuality は標準のJPEG品質
const DefaultQuality = 90

var (
	// ErrEncodingFailure は静止画のエンコードに失敗したことを表す（撮影ごとの回復可能なエラー）
	ErrEncodingFailure = errors.New("静止画のエンコードに失敗しました")
	// ErrNoStill は保存済みの静止画がないことを表す
	ErrNoStill = errors.New("保存済みの静止画がありません")
)

// Record は保存した静止画の情報
type Record struct {
	RequestID string    `json:"request_id"`
	Path      string    `json:"path,omitempty"`
	Size      int       `json:"size"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"created_at"`
}

// Saver は合成画像の保存先
type Saver interface {
	// SaveStill は合成画像1枚につき1回だけ呼ばれる
	SaveStill(ctx context.Context, img composite.Image) (Record, error)
}

// Library は直近に保存した静止画を参照できる保存先
type Library interface {
	Saver
	Latest() ([]byte, Record, error)
}

// Encode は画像を指定品質のJPEGにエンコードする
func Encode(img image.Image, quality int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: 画像がありません", ErrEncodingFailure)
	}
	if err := ValidateQuality(quality); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailure, err)
	}
	return buf.Bytes(), nil
}

// ValidateQuality はJPEG品質が1〜100の範囲か検証する
func ValidateQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return fmt.Errorf("JPEG品質は1〜100の範囲で指定してください: %d", quality)
	}
	return nil
}

func newRecord(img composite.Image, size int) Record {
	created := img.ComposedAt
	if created.IsZero() {
		created = time.Now()
	}
	r := Record{
		RequestID: img.RequestID,
		Size:      size,
		CreatedAt: created,
	}
	if img.Canvas != nil {
		b := img.Canvas.Bounds()
		r.Width, r.Height = b.Dx(), b.Dy()
	}
	return r
}
