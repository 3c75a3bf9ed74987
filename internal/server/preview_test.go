package server

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"dualcam/internal/camera"
	"dualcam/internal/capture"
)

func solidFrame(pos camera.Position, seq uint64, c color.RGBA) capture.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return capture.Frame{
		Position:   pos,
		Kind:       capture.SinkPreview,
		Image:      img,
		CapturedAt: time.Now(),
		Seq:        seq,
	}
}

func decodeCenter(t *testing.T, data []byte) color.RGBA {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("JPEGのデコードに失敗: %v", err)
	}
	r, g, b, _ := img.At(4, 4).RGBA()
	return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255}
}

func TestPreviewStore_NoFrame(t *testing.T) {
	store := NewPreviewStore(80)
	if _, _, err := store.JPEG(camera.PositionBack); !errors.Is(err, ErrNoPreview) {
		t.Errorf("フレームなしのエラー = %v, want ErrNoPreview", err)
	}
	if got := store.Seq(camera.PositionBack); got != 0 {
		t.Errorf("Seq() = %d, want 0", got)
	}
}

// 配信を再開してフレームの連番が戻っても、新しいフレームを返すこと
func TestPreviewStore_SequenceRestart(t *testing.T) {
	store := NewPreviewStore(90)
	pos := camera.PositionFront

	store.PresentPreview(solidFrame(pos, 1, color.RGBA{R: 255, A: 255}))
	first, _, err := store.JPEG(pos)
	if err != nil {
		t.Fatalf("JPEG() error = %v", err)
	}
	firstSeq := store.Seq(pos)

	store.PresentPreview(solidFrame(pos, 1, color.RGBA{B: 255, A: 255}))
	second, _, err := store.JPEG(pos)
	if err != nil {
		t.Fatalf("JPEG() error = %v", err)
	}

	if bytes.Equal(first, second) {
		t.Fatal("再開後も前のフレームのJPEGが返されました")
	}
	if c := decodeCenter(t, second); c.B < 200 || c.R > 50 {
		t.Errorf("再開後のフレームの色 = %v, want 青", c)
	}
	if got := store.Seq(pos); got <= firstSeq {
		t.Errorf("Seq() = %d, want > %d", got, firstSeq)
	}
}

func TestPreviewStore_ReusesEncoding(t *testing.T) {
	store := NewPreviewStore(90)
	pos := camera.PositionBack
	store.PresentPreview(solidFrame(pos, 7, color.RGBA{G: 255, A: 255}))

	a, _, err := store.JPEG(pos)
	if err != nil {
		t.Fatalf("JPEG() error = %v", err)
	}
	b, _, err := store.JPEG(pos)
	if err != nil {
		t.Fatalf("JPEG() error = %v", err)
	}
	if &a[0] != &b[0] {
		t.Error("同じフレームのエンコード結果が再利用されていません")
	}
	if _, _, err := store.JPEG(camera.PositionFront); !errors.Is(err, ErrNoPreview) {
		t.Errorf("前面のエラー = %v, want ErrNoPreview", err)
	}
}
