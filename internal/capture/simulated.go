package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/google/uuid"

	"dualcam/internal/camera"
)

// SimulatedPlatform はテストパターンを配信する仮想プラットフォーム
// 入力・シンク・コネクションの拒否を設定してグラフ構築の異常系を再現できる
type SimulatedPlatform struct {
	mu sync.Mutex

	width, height int
	interval      time.Duration

	unavailable       map[string]bool
	rejectInputs      map[camera.Position]bool
	rejectSinks       map[SinkKind]bool
	rejectConnections map[camera.Position]bool
	stalled           map[camera.Position]bool
	commitErr         error

	committed *Graph
	opens     int
	commits   int
	releases  int

	running bool
	deliver DeliverFunc
	onError StreamErrorFunc
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	seq     [2]uint64
}

// SimulatedOption はSimulatedPlatformの設定
type SimulatedOption func(*SimulatedPlatform)

// WithFrameSize はセンサーの出力サイズ（横長）を設定する
func WithFrameSize(width, height int) SimulatedOption {
	return func(p *SimulatedPlatform) {
		p.width, p.height = width, height
	}
}

// WithFrameInterval はプレビューフレームの配信間隔を設定する（0で配信しない）
func WithFrameInterval(d time.Duration) SimulatedOption {
	return func(p *SimulatedPlatform) {
		p.interval = d
	}
}

// NewSimulatedPlatform は新しいSimulatedPlatformを作成する
func NewSimulatedPlatform(opts ...SimulatedOption) *SimulatedPlatform {
	p := &SimulatedPlatform{
		width:             640,
		height:            480,
		interval:          100 * time.Millisecond,
		unavailable:       make(map[string]bool),
		rejectInputs:      make(map[camera.Position]bool),
		rejectSinks:       make(map[SinkKind]bool),
		rejectConnections: make(map[camera.Position]bool),
		stalled:           make(map[camera.Position]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetDeviceUnavailable はデバイスの入力作成を失敗させる
func (p *SimulatedPlatform) SetDeviceUnavailable(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable[deviceID] = true
}

// RejectInput は指定位置の入力追加を拒否させる
func (p *SimulatedPlatform) RejectInput(pos camera.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectInputs[pos] = true
}

// RejectSink は指定種別のシンク追加を拒否させる
func (p *SimulatedPlatform) RejectSink(kind SinkKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectSinks[kind] = true
}

// RejectConnection は指定位置のコネクション追加を拒否させる
func (p *SimulatedPlatform) RejectConnection(pos camera.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectConnections[pos] = true
}

// FailCommit はコミットを失敗させる
func (p *SimulatedPlatform) FailCommit(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commitErr = err
}

// Stall は指定位置のストリームからのフレーム配信を止める
func (p *SimulatedPlatform) Stall(pos camera.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stalled[pos] = true
}

// ClearFaults は設定した拒否・失敗をすべて解除する
func (p *SimulatedPlatform) ClearFaults() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable = make(map[string]bool)
	p.rejectInputs = make(map[camera.Position]bool)
	p.rejectSinks = make(map[SinkKind]bool)
	p.rejectConnections = make(map[camera.Position]bool)
	p.stalled = make(map[camera.Position]bool)
	p.commitErr = nil
}

// Opens は入力作成の試行回数を返す
func (p *SimulatedPlatform) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

// Committed はコミット中のグラフを返す
func (p *SimulatedPlatform) Committed() *Graph {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.committed
}

// Commits はコミットの成功回数を返す
func (p *SimulatedPlatform) Commits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commits
}

// Releases は解放の回数を返す
func (p *SimulatedPlatform) Releases() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases
}

// Running は配信中かを返す
func (p *SimulatedPlatform) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// OpenInput は仮想の映像入力を作成する
func (p *SimulatedPlatform) OpenInput(_ context.Context, device camera.Device) (Input, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.opens++
	if p.unavailable[device.ID] {
		return Input{}, fmt.Errorf("デバイス %s を開けません", device.ID)
	}

	return Input{
		ID:     uuid.NewString(),
		Device: device,
		Ports: []Port{
			{ID: uuid.NewString(), Media: MediaMetadata},
			{ID: uuid.NewString(), Media: MediaVideo},
		},
	}, nil
}

// CanAddInput は入力の追加可否を返す
func (p *SimulatedPlatform) CanAddInput(input Input) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.rejectInputs[input.Device.Position]
}

// CanAddSink はシンクの追加可否を返す
func (p *SimulatedPlatform) CanAddSink(sink Sink) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.rejectSinks[sink.Kind]
}

// CanAddConnection はコネクションの追加可否を返す
func (p *SimulatedPlatform) CanAddConnection(conn Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.rejectConnections[conn.Position]
}

// Commit は構成を反映する
func (p *SimulatedPlatform) Commit(_ context.Context, graph *Graph) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.commitErr != nil {
		return p.commitErr
	}
	p.committed = graph
	p.commits++
	return nil
}

// Release はグラフを解放する
func (p *SimulatedPlatform) Release(_ context.Context, graph *Graph) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.committed == graph {
		p.committed = nil
	}
	p.releases++
}

// SetStreamErrorHandler はストリーム異常終了時のコールバックを設定する
func (p *SimulatedPlatform) SetStreamErrorHandler(fn StreamErrorFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = fn
}

// FailStream は配信中のストリームを異常終了させる
// 以降その位置のフレームは届かない
func (p *SimulatedPlatform) FailStream(pos camera.Position, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.stalled[pos] = true
	onError := p.onError
	if onError == nil {
		return
	}
	err := fmt.Errorf("%w: %s: %w", ErrStreamEnded, pos, cause)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		onError(pos, err)
	}()
}

// StartRunning はプレビューフレームの配信を開始する
func (p *SimulatedPlatform) StartRunning(ctx context.Context, graph *Graph, deliver DeliverFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.committed == nil || p.committed != graph {
		return fmt.Errorf("%w: コミットされていないグラフです", ErrNotRunning)
	}
	if p.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.deliver = deliver
	p.running = true

	if p.interval > 0 {
		for _, pos := range camera.Positions {
			conn, ok := graph.Connection(pos, SinkPreview)
			if !ok {
				continue
			}
			p.wg.Add(1)
			go p.previewLoop(runCtx, conn)
		}
	}

	return nil
}

// StopRunning はフレーム配信を停止する
func (p *SimulatedPlatform) StopRunning(_ context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// CaptureStill は静止画を1枚生成して非同期に配信する
func (p *SimulatedPlatform) CaptureStill(_ context.Context, pos camera.Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrNotRunning
	}
	conn, ok := p.committed.Connection(pos, SinkStill)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoStillSink, pos)
	}
	if p.stalled[pos] {
		return nil
	}

	frame := p.nextFrameLocked(conn)
	deliver := p.deliver
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		deliver(frame)
	}()
	return nil
}

func (p *SimulatedPlatform) previewLoop(ctx context.Context, conn Connection) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.stalled[conn.Position] {
				p.mu.Unlock()
				continue
			}
			frame := p.nextFrameLocked(conn)
			deliver := p.deliver
			p.mu.Unlock()

			deliver(frame)
		}
	}
}

// nextFrameLocked はテストパターンのフレームを作成する（ロック済み前提）
func (p *SimulatedPlatform) nextFrameLocked(conn Connection) Frame {
	p.seq[conn.Position]++
	seq := p.seq[conn.Position]

	return Frame{
		Position:   conn.Position,
		Kind:       conn.Kind,
		Image:      Orient(TestPattern(conn.Position, p.width, p.height, seq), conn),
		CapturedAt: time.Now(),
		Seq:        seq,
	}
}

// TestPattern は位置ごとに色の異なる、連番で縦帯が動くテスト画像を作成する
func TestPattern(pos camera.Position, width, height int, seq uint64) *image.RGBA {
	bg := color.RGBA{R: 30, G: 60, B: 140, A: 255}
	if pos == camera.PositionFront {
		bg = color.RGBA{R: 150, G: 70, B: 30, A: 255}
	}
	bar := color.RGBA{R: 240, G: 240, B: 240, A: 255}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barWidth := width / 16
	if barWidth < 1 {
		barWidth = 1
	}
	barX := int(seq*uint64(barWidth)) % width

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := bg
			// 左上の目印で反転を確認できるようにする
			if (x >= barX && x < barX+barWidth) || (x < width/8 && y < height/8) {
				c = bar
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
