package config

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dualcam/internal/camera"
	"dualcam/internal/composite"
	"dualcam/internal/session"
	"dualcam/internal/storage"
)

// ConfigPathEnv は設定ファイルのパスを指定する環境変数
const ConfigPathEnv = "DUALCAM_CONFIG"

// カメラのバックエンド
const (
	BackendSimulated = "simulated"
	BackendV4L2      = "v4l2"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Camera    CameraConfig    `yaml:"camera"`
	Session   SessionConfig   `yaml:"session"`
	Composite CompositeConfig `yaml:"composite"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // 読み込みタイムアウト
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // 書き込みタイムアウト
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // 終了処理の待ち時間
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Backend     string `yaml:"backend"`      // simulated または v4l2
	BackDevice  string `yaml:"back_device"`  // 背面カメラのデバイスパス (例: /dev/video0)
	FrontDevice string `yaml:"front_device"` // 前面カメラのデバイスパス (例: /dev/video2)

	FPS    int `yaml:"fps"`    // フレームレート (fps)
	Width  int `yaml:"width"`  // センサー出力の幅
	Height int `yaml:"height"` // センサー出力の高さ
}

// SessionConfig はセッションの設定
type SessionConfig struct {
	Mode          string `yaml:"mode"`          // preview または photo
	Overlay       string `yaml:"overlay"`       // 小窓に表示するカメラ (front/back)
	AutoStart     bool   `yaml:"auto_start"`    // 起動時に構成・開始する
	Authorization string `yaml:"authorization"` // カメラへのアクセス権 (authorized/not_determined/denied/restricted)
}

// CompositeConfig は合成レイアウトの設定
type CompositeConfig struct {
	Scale        float64 `yaml:"scale"`
	Corner       string  `yaml:"corner"` // top_trailing または bottom_trailing
	Padding      int     `yaml:"padding"`
	CornerRadius float64 `yaml:"corner_radius"`
	BorderWidth  float64 `yaml:"border_width"`
	BorderColor  string  `yaml:"border_color"` // #RRGGBB
}

// StorageConfig は静止画の保存設定
type StorageConfig struct {
	Dir     string `yaml:"dir"`     // 保存先ディレクトリ（空ならメモリ上のみ）
	Quality int    `yaml:"quality"` // JPEG品質 (1-100)
}

// LogConfig はログの設定
type LogConfig struct {
	Level  string `yaml:"level"`  // debug/info/warn/error
	Format string `yaml:"format"` // text または json（空ならGO_ENVで決める）
}

// Default はデフォルト設定を返す
func Default() *Config {
	layout := composite.DefaultLayout()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // WebSocket用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
		},
		Camera: CameraConfig{
			Backend:     BackendSimulated,
			BackDevice:  "/dev/video0",
			FrontDevice: "/dev/video2",
			FPS:         15,
			Width:       1280,
			Height:      720,
		},
		Session: SessionConfig{
			Mode:          session.ModePhoto.String(),
			Overlay:       camera.PositionFront.String(),
			AutoStart:     false,
			Authorization: session.AuthorizationAuthorized.String(),
		},
		Composite: CompositeConfig{
			Scale:        layout.Scale,
			Corner:       layout.Corner.String(),
			Padding:      layout.Padding,
			CornerRadius: layout.CornerRadius,
			BorderWidth:  layout.BorderWidth,
			BorderColor:  "#ffffff",
		},
		Storage: StorageConfig{
			Dir:     "./stills",
			Quality: storage.DefaultQuality,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load は設定を読み込む
// デフォルト値に DUALCAM_CONFIG のYAMLファイルと環境変数を順に重ねる
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigPathEnv); path != "" {
		if err := cfg.merge(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// LoadFile はデフォルト値にYAMLファイルを重ねて読み込む
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.merge(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return cfg, nil
}

// merge はYAMLファイルの値で上書きする（書かれていない項目は元の値のまま）
func (c *Config) merge(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("SERVER_PORT", c.Server.Port)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Camera.Backend = getEnvOrDefault("CAMERA_BACKEND", c.Camera.Backend)
	c.Storage.Dir = getEnvOrDefault("STILLS_DIR", c.Storage.Dir)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("タイムアウトに負の値は指定できません"))
	}

	// カメラ設定の検証
	switch c.Camera.Backend {
	case BackendSimulated:
	case BackendV4L2:
		if c.Camera.BackDevice == "" || c.Camera.FrontDevice == "" {
			errs = append(errs, errors.New("v4l2では背面・前面のデバイスパスが必要です"))
		} else if c.Camera.BackDevice == c.Camera.FrontDevice {
			errs = append(errs, fmt.Errorf("背面と前面に同じデバイスは指定できません: %s", c.Camera.BackDevice))
		}
	default:
		errs = append(errs, fmt.Errorf("不明なカメラバックエンド: %q", c.Camera.Backend))
	}
	if c.Camera.FPS <= 0 || c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		errs = append(errs, fmt.Errorf("無効な映像設定: %dx%d@%dfps", c.Camera.Width, c.Camera.Height, c.Camera.FPS))
	}

	// セッション設定の検証
	if _, err := c.Session.ParseMode(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Session.OverlayPosition(); err != nil {
		errs = append(errs, err)
	}
	if _, err := session.ParseAuthorizationStatus(c.Session.Authorization); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.Composite.Layout(); err != nil {
		errs = append(errs, err)
	}
	if err := storage.ValidateQuality(c.Storage.Quality); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("不明なログ形式: %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ParseMode は撮影構成を返す
func (s SessionConfig) ParseMode() (session.Mode, error) {
	return session.ParseMode(s.Mode)
}

// OverlayPosition は小窓に表示するカメラの位置を返す
func (s SessionConfig) OverlayPosition() (camera.Position, error) {
	return camera.ParsePosition(s.Overlay)
}

// Layout は合成レイアウトを返す
func (c CompositeConfig) Layout() (composite.Layout, error) {
	corner, err := composite.ParseCorner(c.Corner)
	if err != nil {
		return composite.Layout{}, err
	}
	border, err := parseHexColor(c.BorderColor)
	if err != nil {
		return composite.Layout{}, err
	}

	layout := composite.Layout{
		Scale:        c.Scale,
		Corner:       corner,
		Padding:      c.Padding,
		CornerRadius: c.CornerRadius,
		BorderWidth:  c.BorderWidth,
		BorderColor:  border,
	}
	if err := layout.Validate(); err != nil {
		return composite.Layout{}, err
	}
	return layout, nil
}

// parseHexColor は #RRGGBB 形式の色を解析する
func parseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("無効な色: %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("無効な色: %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
