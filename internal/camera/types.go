package camera

import (
	"context"
	"errors"
	"fmt"
)

// Position はカメラの物理的な取り付け位置を表す
// ストリームの識別はハンドルの同一性ではなく常にこの値で行う
type Position int

const (
	PositionBack  Position = iota // 背面カメラ
	PositionFront                 // 前面カメラ
)

// Positions は2ストリームの固定順序（背面、前面）
var Positions = [2]Position{PositionBack, PositionFront}

func (p Position) String() string {
	switch p {
	case PositionBack:
		return "back"
	case PositionFront:
		return "front"
	default:
		return fmt.Sprintf("position(%d)", int(p))
	}
}

// ParsePosition は文字列から位置を得る
func ParsePosition(s string) (Position, error) {
	switch s {
	case "back":
		return PositionBack, nil
	case "front":
		return PositionFront, nil
	}
	return 0, fmt.Errorf("不明なカメラ位置: %q", s)
}

// DeviceType はカメラの種類を表す
type DeviceType string

const (
	DeviceTypeWideAngle DeviceType = "wide_angle" // 広角カメラ
	DeviceTypeTelephoto DeviceType = "telephoto"  // 望遠カメラ
	DeviceTypeUltraWide DeviceType = "ultra_wide" // 超広角カメラ
)

// Resolution はカメラの解像度を表す
type Resolution struct {
	Width  int // 幅
	Height int // 高さ
}

// Capabilities はデバイスの能力を表す
type Capabilities struct {
	MaxResolution Resolution // 最大解像度
	SupportsVideo bool       // 映像ストリームに対応
	SupportsStill bool       // 静止画撮影に対応
}

// Device は列挙されたカメラデバイスの情報を表す
type Device struct {
	ID           string       // 安定したデバイスID
	Name         string       // 表示名
	Path         string       // プラットフォーム上のハンドル（例: /dev/video0）
	Position     Position     // 取り付け位置
	Type         DeviceType   // カメラの種類
	Capabilities Capabilities // 能力
}

// Pair は選択された背面・前面カメラの組
type Pair struct {
	Back  Device
	Front Device
}

// Get は位置に対応するデバイスを返す
func (p Pair) Get(pos Position) Device {
	if pos == PositionFront {
		return p.Front
	}
	return p.Back
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]Device, error)

	// IsMultiCamSupported は複数カメラの同時撮影に対応しているかを返す
	IsMultiCamSupported(ctx context.Context) bool
}

var (
	// ErrMissingInputs は背面または前面の広角カメラが見つからないことを表す
	ErrMissingInputs = errors.New("背面・前面の広角カメラが揃っていません")

	// ErrUnsupportedHardware はデバイスが2ストリーム同時撮影に対応していないことを表す
	ErrUnsupportedHardware = errors.New("このデバイスはデュアルカメラ撮影に対応していません")
)
