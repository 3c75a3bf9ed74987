package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"dualcam/internal/composite"
)

// FileSaver は静止画をディレクトリにJPEGファイルとして保存する
type FileSaver struct {
	dir     string
	quality int
	logger  *slog.Logger

	mu         sync.RWMutex
	latest     []byte
	latestInfo Record
	hasLatest  bool
}

// NewFileSaver は新しいFileSaverを作成し、出力ディレクトリを用意する
func NewFileSaver(dir string, quality int, logger *slog.Logger) (*FileSaver, error) {
	if dir == "" {
		return nil, fmt.Errorf("出力ディレクトリが指定されていません")
	}
	if err := ValidateQuality(quality); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSaver{dir: dir, quality: quality, logger: logger}, nil
}

// Dir は出力ディレクトリを返す
func (s *FileSaver) Dir() string {
	return s.dir
}

// SaveStill は合成画像をエンコードしてファイルに書き込む
func (s *FileSaver) SaveStill(ctx context.Context, img composite.Image) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if img.Canvas == nil {
		return Record{}, fmt.Errorf("%w: 画像がありません", ErrEncodingFailure)
	}

	data, err := Encode(img.Canvas, s.quality)
	if err != nil {
		return Record{}, err
	}

	record := newRecord(img, len(data))
	name := stillFilename(record)
	path := filepath.Join(s.dir, name)

	// 途中のファイルが見えないよう一時ファイルから置き換える
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return Record{}, fmt.Errorf("静止画の書き込みに失敗: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Record{}, fmt.Errorf("静止画の書き込みに失敗: %w", err)
	}
	record.Path = path

	s.mu.Lock()
	s.latest = data
	s.latestInfo = record
	s.hasLatest = true
	s.mu.Unlock()

	s.logger.Info("静止画を保存しました", "path", path, "size", len(data))
	return record, nil
}

// Latest は直近に保存した静止画を返す
func (s *FileSaver) Latest() ([]byte, Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasLatest {
		return nil, Record{}, ErrNoStill
	}
	return s.latest, s.latestInfo, nil
}

// List は出力ディレクトリ内の静止画を名前順に返す
func (s *FileSaver) List() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ディレクトリの読み取りに失敗: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jpg" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("ファイル情報の取得に失敗", "name", entry.Name(), "error", err)
			continue
		}
		records = append(records, Record{
			RequestID: requestIDFromFilename(entry.Name()),
			Path:      filepath.Join(s.dir, entry.Name()),
			Size:      int(info.Size()),
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Path < records[j].Path
	})
	return records, nil
}

// stillFilename は still_20060102_150405.000_<request>.jpg 形式のファイル名を返す
func stillFilename(r Record) string {
	id := r.RequestID
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("still_%s_%s.jpg", r.CreatedAt.Format("20060102_150405.000"), id)
}

func requestIDFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.SplitN(base, "_", 4)
	if len(parts) != 4 || parts[0] != "still" {
		return ""
	}
	return parts[3]
}
