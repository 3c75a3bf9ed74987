package main

import (
	"context"
	"log/slog"
	"os"

	"dualcam/internal/app"
	"dualcam/internal/config"
	"dualcam/internal/log"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		slog.Error("設定の読み込みに失敗しました", "error", err)
		os.Exit(1)
	}
	log.Init(cfg.Log.Level, cfg.Log.Format)

	// アプリケーションを組み立てる
	a, err := app.New(cfg, log.L())
	if err != nil {
		log.L().Error("アプリケーションの作成に失敗しました", "error", err)
		os.Exit(1)
	}

	// サーバーを起動
	if err := a.Run(context.Background()); err != nil {
		log.L().Error("サーバーの起動に失敗しました", "error", err)
		os.Exit(1)
	}
}
