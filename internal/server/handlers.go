package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dualcam/internal/camera"
	"dualcam/internal/session"
	"dualcam/internal/storage"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string          `json:"error"`
	Message   string          `json:"message"`
	Status    *session.Status `json:"status,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバー情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StatusResponse はシステム状態のレスポンス
type StatusResponse struct {
	Session   session.Status `json:"session"`
	Server    ServerInfo     `json:"server"`
	Backend   string         `json:"backend"`
	Clients   int            `json:"clients"`
	Timestamp time.Time      `json:"timestamp"`
}

// ConfigureRequest は構成リクエスト（本文は省略可能）
type ConfigureRequest struct {
	Mode string `json:"mode"`
}

// CaptureResponse は撮影要求のレスポンス
type CaptureResponse struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はステータス確認エンドポイント
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Session: s.controller.Status(),
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		Backend:   s.config.Camera.Backend,
		Clients:   s.hub.ClientCount(),
		Timestamp: time.Now(),
	})
}

// handleConfigure はセッションを構成する
func (s *Server) handleConfigure(c *gin.Context) {
	req := ConfigureRequest{Mode: s.config.Session.Mode}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.Mode == "" {
		req.Mode = s.config.Session.Mode
	}

	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid_mode", err)
		return
	}

	if err := s.controller.Configure(c.Request.Context(), mode); err != nil {
		s.respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.controller.Status())
}

// handleStart はフレーム配信を開始する
func (s *Server) handleStart(c *gin.Context) {
	if err := s.controller.Start(c.Request.Context()); err != nil {
		s.respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.controller.Status())
}

// handleStop はフレーム配信を停止する
func (s *Server) handleStop(c *gin.Context) {
	if err := s.controller.Stop(c.Request.Context()); err != nil {
		s.respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.controller.Status())
}

// handleBeginCapture は撮影要求を開始する（結果は状態ストリームで通知）
func (s *Server) handleBeginCapture(c *gin.Context) {
	id, err := s.controller.BeginCapture(c.Request.Context())
	if err != nil {
		s.respondSessionError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, CaptureResponse{
		RequestID: string(id),
		Timestamp: time.Now(),
	})
}

// handleLatestCapture は直近に保存した静止画を返す
func (s *Server) handleLatestCapture(c *gin.Context) {
	data, record, err := s.library.Latest()
	if err != nil {
		if errors.Is(err, storage.ErrNoStill) {
			s.respondError(c, http.StatusNotFound, "no_capture", err)
			return
		}
		s.respondError(c, http.StatusInternalServerError, "internal", err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Request-ID", record.RequestID)
	c.Data(http.StatusOK, "image/jpeg", data)
}

// handlePreview は指定カメラの最新プレビューをJPEGで返す
func (s *Server) handlePreview(c *gin.Context) {
	pos, ok := s.previewPosition(c)
	if !ok {
		return
	}

	data, capturedAt, err := s.previews.JPEG(pos)
	if err != nil {
		if errors.Is(err, ErrNoPreview) {
			s.respondError(c, http.StatusNotFound, "no_preview", err)
			return
		}
		s.respondError(c, http.StatusInternalServerError, "internal", err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Last-Modified", capturedAt.UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, "image/jpeg", data)
}

// handlePreviewStream は指定カメラのプレビューをMJPEGで配信する
func (s *Server) handlePreviewStream(c *gin.Context) {
	pos, ok := s.previewPosition(c)
	if !ok {
		return
	}

	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	writer := c.Writer
	interval := time.Second / time.Duration(max(s.config.Camera.FPS, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()

	var lastSeq uint64
	for {
		select {
		case <-clientGone:
			return

		case <-ticker.C:
			seq := s.previews.Seq(pos)
			if seq == 0 || seq == lastSeq {
				continue
			}
			frame, _, err := s.previews.JPEG(pos)
			if err != nil {
				continue
			}
			lastSeq = seq

			// MJPEGフレームを書き込み
			if _, err := fmt.Fprintf(writer, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return
			}
			if _, err := writer.Write(frame); err != nil {
				return
			}
			if _, err := writer.Write([]byte("\r\n")); err != nil {
				return
			}

			// バッファをフラッシュ
			writer.Flush()
		}
	}
}

// handleStatusWebSocket は状態イベントをWebSocketで配信する
// 接続直後に現在の状態を1件送る
func (s *Server) handleStatusWebSocket(c *gin.Context) {
	initial, err := json.Marshal(s.controller.Status())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	if err := s.hub.ServeWS(c.Writer, c.Request, initial); err != nil {
		s.logger.Warn("WebSocketへの切り替えに失敗", "error", err)
	}
}

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, `<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>dualcam - デュアルカメラ撮影</title>
</head>
<body>
    <h1>dualcam デュアルカメラ撮影</h1>
    <p>サーバーが正常に起動しています。</p>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>直近の静止画: <a href="/api/captures/latest">/api/captures/latest</a></p>
    <p>プレビュー: <a href="/api/preview/back/stream">背面</a> / <a href="/api/preview/front/stream">前面</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`)
}

// previewPosition はパスのカメラ位置を解析する（失敗時はレスポンス済み）
func (s *Server) previewPosition(c *gin.Context) (camera.Position, bool) {
	if s.previews == nil {
		s.respondError(c, http.StatusNotFound, "preview_disabled", errors.New("プレビューの配信は無効です"))
		return 0, false
	}
	pos, err := camera.ParsePosition(c.Param("position"))
	if err != nil {
		s.respondError(c, http.StatusBadRequest, "invalid_position", err)
		return 0, false
	}
	return pos, true
}

// respondSessionError はセッションのエラーをHTTPステータスに対応付けて返す
func (s *Server) respondSessionError(c *gin.Context, err error) {
	code, name := sessionErrorStatus(err)
	status := s.controller.Status()
	c.JSON(code, ErrorResponse{
		Error:     name,
		Message:   err.Error(),
		Status:    &status,
		Timestamp: time.Now(),
	})
}

func (s *Server) respondError(c *gin.Context, code int, name string, err error) {
	c.JSON(code, ErrorResponse{
		Error:     name,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// sessionErrorStatus はエラーからHTTPステータスとエラー名を得る
func sessionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrInvalidMode):
		return http.StatusBadRequest, "invalid_mode"
	case errors.Is(err, session.ErrAlreadyConfigured):
		return http.StatusConflict, "already_configured"
	case errors.Is(err, session.ErrNotConfigured):
		return http.StatusConflict, "not_configured"
	case errors.Is(err, session.ErrNotRunning):
		return http.StatusConflict, "not_running"
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable, "closed"
	}

	// 構成エラーは理由ごとに返す
	if reason := session.Classify(err); reason != session.ReasonInternal {
		return http.StatusServiceUnavailable, reason.String()
	}
	return http.StatusInternalServerError, "internal"
}
