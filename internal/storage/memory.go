package storage

import (
	"context"
	"fmt"
	"sync"

	"dualcam/internal/composite"
)

// MemorySaver は静止画をメモリ上に保持する
type MemorySaver struct {
	quality int

	mu      sync.Mutex
	records []Record
	latest  []byte
	err     error
}

// NewMemorySaver は新しいMemorySaverを作成する
func NewMemorySaver(quality int) *MemorySaver {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &MemorySaver{quality: quality}
}

// SaveStill は合成画像をエンコードして保持する
func (s *MemorySaver) SaveStill(ctx context.Context, img composite.Image) (Record, error) {
	s.mu.Lock()
	injected := s.err
	s.mu.Unlock()
	if injected != nil {
		return Record{}, injected
	}
	if img.Canvas == nil {
		return Record{}, fmt.Errorf("%w: 画像がありません", ErrEncodingFailure)
	}

	data, err := Encode(img.Canvas, s.quality)
	if err != nil {
		return Record{}, err
	}
	record := newRecord(img, len(data))

	s.mu.Lock()
	s.records = append(s.records, record)
	s.latest = data
	s.mu.Unlock()
	return record, nil
}

// Latest は直近に保存した静止画を返す
func (s *MemorySaver) Latest() ([]byte, Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) == 0 {
		return nil, Record{}, ErrNoStill
	}
	return s.latest, s.records[len(s.records)-1], nil
}

// Records は保存した静止画の一覧を返す
func (s *MemorySaver) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// SetError は以降のSaveStillが返すエラーを設定する（nilで解除）
func (s *MemorySaver) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
