package server

import (
	"errors"
	"sync"
	"time"

	"dualcam/internal/camera"
	"dualcam/internal/capture"
	"dualcam/internal/storage"
)

// ErrNoPreview はプレビューフレームがまだ届いていないことを表す
var ErrNoPreview = errors.New("プレビューフレームがありません")

// PreviewStore はストリームごとに最新のプレビューフレームを保持する
// session.PreviewSink として配信ゴルーチンから呼ばれる
type PreviewStore struct {
	quality int

	mu      sync.RWMutex
	frames  [2]capture.Frame
	version [2]uint64
	encoded [2][]byte
	encVer  [2]uint64
}

// NewPreviewStore は新しいPreviewStoreを作成する
func NewPreviewStore(quality int) *PreviewStore {
	if storage.ValidateQuality(quality) != nil {
		quality = storage.DefaultQuality
	}
	return &PreviewStore{quality: quality}
}

// PresentPreview は最新フレームを差し替える
func (p *PreviewStore) PresentPreview(frame capture.Frame) {
	if frame.Position != camera.PositionBack && frame.Position != camera.PositionFront {
		return
	}

	p.mu.Lock()
	p.frames[frame.Position] = frame
	p.version[frame.Position]++
	p.encoded[frame.Position] = nil
	p.mu.Unlock()
}

// Seq は指定位置のフレームを受け取った回数を返す（フレームがなければ0）
// フレーム自身の連番と異なり、配信を再開しても戻らない
func (p *PreviewStore) Seq(pos camera.Position) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version[pos]
}

// JPEG は指定位置の最新フレームをJPEGで返す
// 同じフレームのエンコード結果は再利用する
func (p *PreviewStore) JPEG(pos camera.Position) ([]byte, time.Time, error) {
	p.mu.RLock()
	if p.version[pos] == 0 {
		p.mu.RUnlock()
		return nil, time.Time{}, ErrNoPreview
	}
	frame, ver := p.frames[pos], p.version[pos]
	if p.encoded[pos] != nil && p.encVer[pos] == ver {
		data := p.encoded[pos]
		p.mu.RUnlock()
		return data, frame.CapturedAt, nil
	}
	p.mu.RUnlock()

	data, err := storage.Encode(frame.Image, p.quality)
	if err != nil {
		return nil, time.Time{}, err
	}

	p.mu.Lock()
	if p.version[pos] == ver {
		p.encoded[pos] = data
		p.encVer[pos] = ver
	}
	p.mu.Unlock()

	return data, frame.CapturedAt, nil
}
