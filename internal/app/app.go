// Package app は設定から各コンポーネントを組み立ててサーバーを起動する
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dualcam/internal/camera"
	"dualcam/internal/capture"
	"dualcam/internal/config"
	"dualcam/internal/server"
	"dualcam/internal/session"
	"dualcam/internal/storage"
)

// App は組み立て済みのアプリケーション
type App struct {
	Config     *config.Config
	Controller *session.Controller
	Server     *server.Server
	Library    storage.Library

	logger *slog.Logger
}

// New は設定に従ってアプリケーションを組み立てる
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	discovery, backend := newCameraBackend(cfg, logger)

	library, err := newLibrary(cfg, logger)
	if err != nil {
		return nil, err
	}

	layout, err := cfg.Composite.Layout()
	if err != nil {
		return nil, fmt.Errorf("レイアウトの設定が不正です: %w", err)
	}
	overlay, err := cfg.Session.OverlayPosition()
	if err != nil {
		return nil, err
	}
	authStatus, err := session.ParseAuthorizationStatus(cfg.Session.Authorization)
	if err != nil {
		return nil, err
	}

	previews := server.NewPreviewStore(cfg.Storage.Quality)
	ctrl, err := session.New(session.Options{
		Registry:   camera.NewRegistry(discovery, logger.With("component", "camera")),
		Backend:    backend,
		Authorizer: session.NewStaticAuthorizer(authStatus, true),
		Saver:      library,
		Preview:    previews,
		Layout:     layout,
		Overlay:    overlay,
		Logger:     logger.With("component", "session"),
	})
	if err != nil {
		return nil, fmt.Errorf("セッションの作成に失敗: %w", err)
	}

	srv := server.New(cfg, ctrl, library, previews, logger.With("component", "server"))

	return &App{
		Config:     cfg,
		Controller: ctrl,
		Server:     srv,
		Library:    library,
		logger:     logger,
	}, nil
}

// Run はサーバーを起動し、終了するまで戻らない
// auto_start が有効なら先にセッションを構成・開始する
func (a *App) Run(ctx context.Context) error {
	defer a.Controller.Close()

	if a.Config.Session.AutoStart {
		a.autoStart(ctx)
	}
	return a.Server.Start(ctx)
}

// autoStart は失敗しても起動を続ける（状態はAPIで確認できる）
func (a *App) autoStart(ctx context.Context) {
	mode, err := a.Config.Session.ParseMode()
	if err != nil {
		a.logger.Error("撮影構成が不正です", "error", err)
		return
	}
	if err := a.Controller.Configure(ctx, mode); err != nil {
		a.logger.Error("セッションの自動構成に失敗しました", "error", err)
		return
	}
	if err := a.Controller.Start(ctx); err != nil {
		a.logger.Error("セッションの自動開始に失敗しました", "error", err)
	}
}

func newCameraBackend(cfg *config.Config, logger *slog.Logger) (camera.Discovery, capture.Backend) {
	c := cfg.Camera
	if c.Backend == config.BackendV4L2 {
		return camera.NewV4L2Discovery(c.BackDevice, c.FrontDevice),
			capture.NewV4L2Platform(c.Width, c.Height, c.FPS, logger.With("component", "v4l2"))
	}

	return camera.NewMockDualDiscovery(),
		capture.NewSimulatedPlatform(
			capture.WithFrameSize(c.Width, c.Height),
			capture.WithFrameInterval(time.Second/time.Duration(c.FPS)),
		)
}

func newLibrary(cfg *config.Config, logger *slog.Logger) (storage.Library, error) {
	if cfg.Storage.Dir == "" {
		return storage.NewMemorySaver(cfg.Storage.Quality), nil
	}
	saver, err := storage.NewFileSaver(cfg.Storage.Dir, cfg.Storage.Quality, logger.With("component", "storage"))
	if err != nil {
		return nil, fmt.Errorf("保存先の作成に失敗: %w", err)
	}
	return saver, nil
}
