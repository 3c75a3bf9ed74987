package session

import (
	"errors"
	"fmt"
	"time"

	"dualcam/internal/camera"
	"dualcam/internal/capture"
	"dualcam/internal/storage"
)

// State はセッションの状態
type State int

const (
	StateUnconfigured State = iota
	StateConfiguring
	StateRunning
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText はJSONで文字列として出力するために使う
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reason はFailedの理由
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUnsupportedHardware
	ReasonPermissionDenied
	ReasonMissingInputs
	ReasonDeviceUnavailable
	ReasonConnectionRejected
	ReasonInternal
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonUnsupportedHardware:
		return "unsupported_hardware"
	case ReasonPermissionDenied:
		return "permission_denied"
	case ReasonMissingInputs:
		return "missing_inputs"
	case ReasonDeviceUnavailable:
		return "device_unavailable"
	case ReasonConnectionRejected:
		return "connection_rejected"
	case ReasonInternal:
		return "internal"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// MarshalText はJSONで文字列として出力するために使う
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Terminal は再構成しても回復しない理由かを返す
func (r Reason) Terminal() bool {
	return r == ReasonUnsupportedHardware
}

// Mode はセッションの撮影構成
type Mode int

const (
	ModePreview Mode = iota // プレビューのフレームから合成する
	ModePhoto               // 両カメラの静止画から合成する
)

func (m Mode) String() string {
	switch m {
	case ModePreview:
		return "preview"
	case ModePhoto:
		return "photo"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText はJSONで文字列として出力するために使う
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode は文字列から撮影構成を得る
func ParseMode(s string) (Mode, error) {
	switch s {
	case "preview":
		return ModePreview, nil
	case "photo":
		return ModePhoto, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Kinds は撮影構成に必要なシンク種別を返す
func (m Mode) Kinds() ([]capture.SinkKind, error) {
	switch m {
	case ModePreview:
		return append([]capture.SinkKind(nil), capture.ConfigPreview...), nil
	case ModePhoto:
		return append([]capture.SinkKind(nil), capture.ConfigPhoto...), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidMode, m)
}

// pairKind は対にするフレームのシンク種別を返す
func (m Mode) pairKind() capture.SinkKind {
	if m == ModePhoto {
		return capture.SinkStill
	}
	return capture.SinkPreview
}

var (
	ErrPermissionDenied    = errors.New("カメラへのアクセスが許可されていません")
	ErrUnsupportedHardware = errors.New("この端末は2台同時のキャプチャに対応していません")
	ErrAlreadyConfigured   = errors.New("セッションは構成済みです")
	ErrNotConfigured       = errors.New("セッションが構成されていません")
	ErrNotRunning          = errors.New("セッションが動作していません")
	ErrInvalidMode         = errors.New("不明な撮影構成です")
	ErrCaptureBacklog      = errors.New("合成待ちの撮影が多すぎます")
	ErrClosed              = errors.New("セッションは終了しています")
)

// Classify は構成エラーをFailedの理由に対応付ける
func Classify(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrUnsupportedHardware), errors.Is(err, camera.ErrUnsupportedHardware):
		return ReasonUnsupportedHardware
	case errors.Is(err, ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, camera.ErrMissingInputs):
		return ReasonMissingInputs
	case errors.Is(err, capture.ErrDeviceUnavailable), errors.Is(err, capture.ErrStreamEnded):
		return ReasonDeviceUnavailable
	case errors.Is(err, capture.ErrInputRejected),
		errors.Is(err, capture.ErrOutputRejected),
		errors.Is(err, capture.ErrConnectionRejected):
		return ReasonConnectionRejected
	default:
		return ReasonInternal
	}
}

// EventKind はイベントの種類
type EventKind int

const (
	EventState         EventKind = iota // 状態の変化
	EventCaptured                       // 合成画像を保存した
	EventCaptureFailed                  // 撮影の合成・保存に失敗した（セッションは継続）
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventCaptured:
		return "captured"
	case EventCaptureFailed:
		return "capture_failed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// MarshalText はJSONで文字列として出力するために使う
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event は状態ストリームに流れる通知
type Event struct {
	Kind      EventKind       `json:"kind"`
	State     State           `json:"state"`
	Reason    Reason          `json:"reason,omitempty"`
	Error     string          `json:"error,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Record    *storage.Record `json:"record,omitempty"`
	At        time.Time       `json:"at"`
}

// UnmarshalText はMarshalTextの逆変換
func (s *State) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, s, []State{StateUnconfigured, StateConfiguring, StateRunning, StateStopped, StateFailed})
}

// UnmarshalText はMarshalTextの逆変換
func (r *Reason) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, r, []Reason{
		ReasonNone,
		ReasonUnsupportedHardware,
		ReasonPermissionDenied,
		ReasonMissingInputs,
		ReasonDeviceUnavailable,
		ReasonConnectionRejected,
		ReasonInternal,
	})
}

// UnmarshalText はMarshalTextの逆変換
func (m *Mode) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, m, []Mode{ModePreview, ModePhoto})
}

// UnmarshalText はMarshalTextの逆変換
func (k *EventKind) UnmarshalText(text []byte) error {
	return unmarshalEnum(text, k, []EventKind{EventState, EventCaptured, EventCaptureFailed})
}

func unmarshalEnum[T fmt.Stringer](text []byte, dst *T, values []T) error {
	for _, v := range values {
		if v.String() == string(text) {
			*dst = v
			return nil
		}
	}
	return fmt.Errorf("不明な値: %q", text)
}
