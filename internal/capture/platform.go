package capture

import (
	"context"

	"dualcam/internal/camera"
)

// Platform はキャプチャグラフのハードウェア側の操作を提供する
type Platform interface {
	// OpenInput はデバイスの映像入力を作成する
	OpenInput(ctx context.Context, device camera.Device) (Input, error)

	// CanAddInput は入力をグラフに追加できるかを返す
	CanAddInput(input Input) bool

	// CanAddSink は出力シンクをグラフに追加できるかを返す
	CanAddSink(sink Sink) bool

	// CanAddConnection はコネクションをグラフに追加できるかを返す
	CanAddConnection(conn Connection) bool

	// Commit は構成全体を一度に反映する
	Commit(ctx context.Context, graph *Graph) error

	// Release はグラフが保持する資源を解放する
	Release(ctx context.Context, graph *Graph)
}

// Streamer はコミット済みグラフからフレームを配信する
type Streamer interface {
	// StartRunning はフレーム配信を開始する
	StartRunning(ctx context.Context, graph *Graph, deliver DeliverFunc) error

	// StopRunning はフレーム配信を停止する
	StopRunning(ctx context.Context) error

	// CaptureStill は指定位置の静止画シンクへ1枚撮影を要求する（結果は非同期に配信）
	CaptureStill(ctx context.Context, pos camera.Position) error
}

// StreamErrorReporter はストリームの異常終了を通知できるStreamer
type StreamErrorReporter interface {
	// SetStreamErrorHandler は異常終了時のコールバックを設定する
	SetStreamErrorHandler(fn StreamErrorFunc)
}

// Backend はグラフ構築とフレーム配信の両方を提供する
type Backend interface {
	Platform
	Streamer
}
