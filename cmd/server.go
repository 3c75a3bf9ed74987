// Package main はdualcamサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"dualcam/internal/app"
	"dualcam/internal/config"
	"dualcam/internal/log"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		configPath = flag.String("config", "", "設定ファイルのパス (環境変数 DUALCAM_CONFIG より優先)")
		backend    = flag.String("backend", "", "カメラのバックエンド (simulated または v4l2)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("dualcam")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *configPath != "" {
		os.Setenv(config.ConfigPathEnv, *configPath)
	}

	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		slog.Error("設定の読み込みに失敗しました", "error", err)
		os.Exit(1)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *backend != "" {
		cfg.Camera.Backend = *backend
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("設定が不正です", "error", err)
		os.Exit(1)
	}
	log.Init(cfg.Log.Level, cfg.Log.Format)

	a, err := app.New(cfg, log.L())
	if err != nil {
		log.L().Error("アプリケーションの作成に失敗しました", "error", err)
		os.Exit(1)
	}

	// サーバーを起動
	log.L().Info("dualcam サーバーを起動します", "addr", cfg.ServerAddress(), "backend", cfg.Camera.Backend)
	if err := a.Run(context.Background()); err != nil {
		log.L().Error("サーバーの起動に失敗しました", "error", err)
		os.Exit(1)
	}
}
