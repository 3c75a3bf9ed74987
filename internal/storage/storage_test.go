package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dualcam/internal/composite"
)

func testImage(w, h int) composite.Image {
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			canvas.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return composite.Image{
		RequestID:  "req-1",
		Canvas:     canvas,
		Layout:     composite.DefaultLayout(),
		ComposedAt: time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC),
	}
}

func TestEncode(t *testing.T) {
	img := testImage(64, 48)

	data, err := Encode(img.Canvas, DefaultQuality)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("JPEGとしてデコードできません: %v", err)
	}
	if decoded.Bounds().Size() != image.Pt(64, 48) {
		t.Errorf("サイズ = %v", decoded.Bounds().Size())
	}
}

func TestEncode_Failure(t *testing.T) {
	tests := []struct {
		name    string
		img     image.Image
		quality int
		wantEnc bool
	}{
		{name: "画像なし", img: nil, quality: 90, wantEnc: true},
		{name: "JPEGの上限を超える幅", img: image.NewRGBA(image.Rect(0, 0, 70000, 1)), quality: 90, wantEnc: true},
		{name: "品質が範囲外", img: image.NewRGBA(image.Rect(0, 0, 2, 2)), quality: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.img, tt.quality)
			if err == nil {
				t.Fatal("エラーになるべきです")
			}
			if got := errors.Is(err, ErrEncodingFailure); got != tt.wantEnc {
				t.Errorf("errors.Is(err, ErrEncodingFailure) = %v, want %v (%v)", got, tt.wantEnc, err)
			}
		})
	}
}

func TestFileSaver_SaveStill(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stills")
	saver, err := NewFileSaver(dir, 80, nil)
	if err != nil {
		t.Fatalf("NewFileSaver() error = %v", err)
	}

	if _, _, err := saver.Latest(); !errors.Is(err, ErrNoStill) {
		t.Errorf("保存前のLatest() error = %v, want ErrNoStill", err)
	}

	record, err := saver.SaveStill(context.Background(), testImage(32, 32))
	if err != nil {
		t.Fatalf("SaveStill() error = %v", err)
	}
	if record.RequestID != "req-1" || record.Width != 32 || record.Height != 32 {
		t.Errorf("record = %+v", record)
	}
	if !strings.HasPrefix(filepath.Base(record.Path), "still_20240501_123045.000_") {
		t.Errorf("ファイル名 = %s", filepath.Base(record.Path))
	}

	onDisk, err := os.ReadFile(record.Path)
	if err != nil {
		t.Fatalf("保存したファイルが読めません: %v", err)
	}
	if len(onDisk) != record.Size {
		t.Errorf("ファイルサイズ = %d, want %d", len(onDisk), record.Size)
	}
	if _, err := os.Stat(record.Path + ".tmp"); !os.IsNotExist(err) {
		t.Error("一時ファイルが残っています")
	}

	latest, info, err := saver.Latest()
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if !bytes.Equal(latest, onDisk) || info.Path != record.Path {
		t.Error("Latest() が保存した静止画と一致しません")
	}

	records, err := saver.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 || records[0].RequestID != "req-1" {
		t.Errorf("List() = %+v", records)
	}
}

func TestFileSaver_SaveStill_EncodingFailure(t *testing.T) {
	saver, err := NewFileSaver(t.TempDir(), 90, nil)
	if err != nil {
		t.Fatalf("NewFileSaver() error = %v", err)
	}

	img := composite.Image{RequestID: "big", Canvas: image.NewRGBA(image.Rect(0, 0, 70000, 1))}
	if _, err := saver.SaveStill(context.Background(), img); !errors.Is(err, ErrEncodingFailure) {
		t.Errorf("SaveStill() error = %v, want ErrEncodingFailure", err)
	}
	if records, _ := saver.List(); len(records) != 0 {
		t.Errorf("失敗時にファイルが作成されています: %+v", records)
	}
}

func TestNewFileSaver_Invalid(t *testing.T) {
	if _, err := NewFileSaver("", 90, nil); err == nil {
		t.Error("ディレクトリ未指定でエラーになるべきです")
	}
	if _, err := NewFileSaver(t.TempDir(), 101, nil); err == nil {
		t.Error("品質が範囲外でエラーになるべきです")
	}
}

func TestMemorySaver(t *testing.T) {
	saver := NewMemorySaver(0)

	first := testImage(8, 8)
	second := testImage(16, 8)
	second.RequestID = "req-2"

	for _, img := range []composite.Image{first, second} {
		if _, err := saver.SaveStill(context.Background(), img); err != nil {
			t.Fatalf("SaveStill() error = %v", err)
		}
	}

	records := saver.Records()
	if len(records) != 2 {
		t.Fatalf("保存数 = %d, want 2", len(records))
	}
	_, latest, err := saver.Latest()
	if err != nil || latest.RequestID != "req-2" || latest.Width != 16 {
		t.Errorf("Latest() = %+v, %v", latest, err)
	}

	injected := errors.New("disk full")
	saver.SetError(injected)
	if _, err := saver.SaveStill(context.Background(), first); !errors.Is(err, injected) {
		t.Errorf("SaveStill() error = %v, want %v", err, injected)
	}
}

func TestRequestIDFromFilename(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"still_20240501_123045.000_abc-def.jpg", "abc-def"},
		{"other.jpg", ""},
		{"still_x.jpg", ""},
	}
	for _, tt := range tests {
		if got := requestIDFromFilename(tt.name); got != tt.want {
			t.Errorf("requestIDFromFilename(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
