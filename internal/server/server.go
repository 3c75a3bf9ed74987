package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"dualcam/internal/config"
	"dualcam/internal/pairing"
	"dualcam/internal/session"
	"dualcam/internal/storage"
)

// Controller はサーバーから操作するセッション
type Controller interface {
	Configure(ctx context.Context, mode session.Mode) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	BeginCapture(ctx context.Context) (pairing.RequestID, error)
	Status() session.Status
	Subscribe(fn func(session.Event)) func()
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	controller Controller
	library    storage.Library
	previews   *PreviewStore
	hub        *Hub
	logger     *slog.Logger

	router     *gin.Engine
	httpServer *http.Server

	hubCancel    context.CancelFunc
	unsubscribe  func()
	shutdownOnce sync.Once
}

// New は新しいServerインスタンスを作成する
// previewsはnilでもよい（プレビューの配信を無効にする）
func New(cfg *config.Config, controller Controller, library storage.Library, previews *PreviewStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := NewHub(logger)
	go hub.Run(hubCtx)

	s := &Server{
		config:     cfg,
		controller: controller,
		library:    library,
		previews:   previews,
		hub:        hub,
		logger:     logger,
		router:     router,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		hubCancel: hubCancel,
	}

	// 状態イベントをWebSocketクライアントへ中継する
	s.unsubscribe = controller.Subscribe(func(e session.Event) {
		if err := hub.BroadcastJSON(e); err != nil {
			logger.Warn("イベントのエンコードに失敗", "error", err)
		}
	})

	s.setupRoutes()
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.router.GET("/health", s.handleHealth)

	// APIエンドポイント
	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)

		api.POST("/session/configure", s.handleConfigure)
		api.POST("/session/start", s.handleStart)
		api.POST("/session/stop", s.handleStop)

		api.POST("/captures", s.handleBeginCapture)
		api.GET("/captures/latest", s.handleLatestCapture)

		api.GET("/preview/:position", s.handlePreview)
		api.GET("/preview/:position/stream", s.handlePreviewStream)
	}

	// 状態ストリーム
	s.router.GET("/ws/status", s.handleStatusWebSocket)

	// ルートハンドラ（簡単な確認用）
	s.router.GET("/", s.handleRoot)
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", "addr", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", "signal", sig)
	case err := <-shutdownCh:
		s.closeHub()
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info("サーバーをシャットダウンしています...")

		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.closeHub()
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("サーバーのシャットダウンに失敗: %w", shutdownErr)
			return
		}

		s.logger.Info("サーバーが正常にシャットダウンされました")
	})
	return err
}

func (s *Server) closeHub() {
	s.unsubscribe()
	s.hubCancel()
}

// requestLogger はリクエストごとにslogで1行出力するミドルウェア
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("HTTPリクエスト",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
