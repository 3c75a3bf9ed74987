package capture

import (
	"errors"
	"fmt"
	"image"
	"time"

	"dualcam/internal/camera"
)

var (
	// ErrDeviceUnavailable はデバイスの入力を作成できないことを表す
	ErrDeviceUnavailable = errors.New("カメラデバイスが利用できません")

	// ErrInputRejected はグラフが入力の追加を拒否したことを表す
	ErrInputRejected = errors.New("入力を追加できません")

	// ErrOutputRejected はグラフが出力シンクの追加を拒否したことを表す
	ErrOutputRejected = errors.New("出力シンクを追加できません")

	// ErrConnectionRejected はグラフがコネクションの追加を拒否したことを表す
	ErrConnectionRejected = errors.New("コネクションを追加できません")

	// ErrCommitFailed は構成のコミットに失敗したことを表す
	ErrCommitFailed = errors.New("キャプチャグラフのコミットに失敗")

	// ErrNotRunning はグラフが動作していないことを表す
	ErrNotRunning = errors.New("キャプチャグラフが動作していません")

	// ErrNoStillSink は静止画シンクが構成されていないことを表す
	ErrNoStillSink = errors.New("静止画シンクが構成されていません")

	// ErrStreamEnded は配信中のストリームが予期せず終了したことを表す
	ErrStreamEnded = errors.New("ストリームが終了しました")
)

// SinkKind は出力シンクの種類
type SinkKind int

const (
	SinkPreview SinkKind = iota // プレビュー表示
	SinkStill                   // 静止画撮影
)

func (k SinkKind) String() string {
	switch k {
	case SinkPreview:
		return "preview"
	case SinkStill:
		return "still"
	default:
		return fmt.Sprintf("sink(%d)", int(k))
	}
}

var (
	// ConfigPreview はストリームごとにプレビューシンクのみを持つ構成
	ConfigPreview = []SinkKind{SinkPreview}
	// ConfigPhoto はプレビューと静止画の両シンクを持つ同期撮影用の構成
	ConfigPhoto = []SinkKind{SinkPreview, SinkStill}
)

// MediaType はポートが運ぶメディアの種類
type MediaType int

const (
	MediaVideo MediaType = iota
	MediaMetadata
)

// Orientation はコネクションの映像の向き
type Orientation int

const (
	OrientationPortrait       Orientation = iota // 縦向き
	OrientationLandscapeRight                    // センサー本来の横向き
)

// Port は入力が持つポート
type Port struct {
	ID    string
	Media MediaType
}

// Input はカメラ1台分の映像入力
type Input struct {
	ID     string
	Device camera.Device
	Ports  []Port
}

// VideoPort は映像を運ぶポートを返す
func (in Input) VideoPort() (Port, bool) {
	for _, p := range in.Ports {
		if p.Media == MediaVideo {
			return p, true
		}
	}
	return Port{}, false
}

// Sink はストリーム1本に属する出力シンク
type Sink struct {
	ID       string
	Kind     SinkKind
	Position camera.Position
}

// Connection は入力ポートと出力シンクを結ぶ辺
type Connection struct {
	ID          string
	InputID     string
	PortID      string
	SinkID      string
	Kind        SinkKind
	Position    camera.Position
	Orientation Orientation
	Mirrored    bool
}

// Graph はコミット済みのキャプチャグラフ（コミット後は変更しない）
type Graph struct {
	Inputs      []Input
	Sinks       []Sink
	Connections []Connection
}

// Connection は位置とシンク種別に対応するコネクションを返す
func (g *Graph) Connection(pos camera.Position, kind SinkKind) (Connection, bool) {
	if g == nil {
		return Connection{}, false
	}
	for _, c := range g.Connections {
		if c.Position == pos && c.Kind == kind {
			return c, true
		}
	}
	return Connection{}, false
}

// HasSink は指定種別のシンクがあるかを返す
func (g *Graph) HasSink(kind SinkKind) bool {
	if g == nil {
		return false
	}
	for _, s := range g.Sinks {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

// Frame はシンクから配信される1枚の画像
type Frame struct {
	Position   camera.Position
	Kind       SinkKind
	Image      image.Image
	CapturedAt time.Time
	Seq        uint64
}

// DeliverFunc はフレームを受け取るコールバック
// ストリームごとの別ゴルーチンから並行して呼ばれる
type DeliverFunc func(Frame)

// StreamErrorFunc はストリームが停止要求なしに終了したときに呼ばれる
// errはErrStreamEndedを含む
type StreamErrorFunc func(pos camera.Position, err error)
