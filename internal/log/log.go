// Package log はslogを薄くラップした構造化ログを提供する
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger *slog.Logger
	once   sync.Once
)

// Init はグローバルロガーを指定レベルで初期化する
// 有効なレベル: "debug", "info", "warn", "error"
// formatが空のときはGO_ENV=productionでJSON、それ以外はテキストで出力する
func Init(level, format string) {
	once.Do(func() {
		logger = New(os.Stdout, level, useJSON(format))
		slog.SetDefault(logger)
	})
}

func useJSON(format string) bool {
	switch strings.ToLower(format) {
	case "json":
		return true
	case "text":
		return false
	default:
		return os.Getenv("GO_ENV") == "production"
	}
}

// New は出力先を指定してロガーを作成する
func New(w io.Writer, level string, jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel はレベル文字列をslog.Levelに変換する（不明な値はinfo）
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L はグローバルロガーを返す
// Init前に呼ばれた場合はinfoレベルで初期化する
func L() *slog.Logger {
	Init("info", "")
	return logger
}

// With は属性付きのロガーを返す
func With(args ...any) *slog.Logger {
	return L().With(args...)
}

// Discard は何も出力しないロガーを返す（テスト用）
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
