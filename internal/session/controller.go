package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dualcam/internal/camera"
	"dualcam/internal/capture"
	"dualcam/internal/composite"
	"dualcam/internal/pairing"
	"dualcam/internal/storage"
)

// captureBacklog は合成待ちとして保持できる対の数
const captureBacklog = 4

// PreviewSink は向きを揃えたプレビューフレームを表示する協力者
// ストリームごとの配信ゴルーチンから呼ばれる
type PreviewSink interface {
	PresentPreview(frame capture.Frame)
}

// Options はControllerの依存と設定
type Options struct {
	Registry   *camera.Registry
	Backend    capture.Backend
	Authorizer Authorizer
	Saver      storage.Saver
	Preview    PreviewSink
	Layout     composite.Layout
	// Overlay は小窓に表示する側（もう一方がベース）
	Overlay camera.Position
	Logger  *slog.Logger
}

// Status はセッションの現在の状態
type Status struct {
	State           State           `json:"state"`
	Reason          Reason          `json:"reason,omitempty"`
	Error           string          `json:"error,omitempty"`
	Mode            Mode            `json:"mode"`
	PendingRequest  string          `json:"pending_request,omitempty"`
	Captures        uint64          `json:"captures"`
	CaptureFailures uint64          `json:"capture_failures"`
	LastCapture     *storage.Record `json:"last_capture,omitempty"`
	Pairing         pairing.Stats   `json:"pairing"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Controller はセッションの状態遷移と撮影の流れを管理する
type Controller struct {
	registry *camera.Registry
	builder  *capture.Builder
	streamer capture.Streamer
	auth     Authorizer
	saver    storage.Saver
	preview  PreviewSink
	layout   composite.Layout
	overlay  camera.Position
	logger   *slog.Logger

	pairer    *pairing.Synchronizer
	presenter *presenter
	pairKind  atomic.Int32
	// runGen は配信の開始・停止ごとに進み、古いストリームからの通知を見分ける
	runGen atomic.Uint64

	cmds  chan func()
	pairs chan pairing.Pair

	// 以下は直列ゴルーチンのみが書き込み、mu で読み取りと保護する
	mu          sync.RWMutex
	state       State
	reason      Reason
	lastErr     error
	mode        Mode
	graph       *capture.Graph
	lastCapture *storage.Record
	updatedAt   time.Time

	captures        atomic.Uint64
	captureFailures atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New は新しいControllerを作成し、内部のゴルーチンを開始する
func New(opts Options) (*Controller, error) {
	if opts.Registry == nil {
		return nil, errors.New("カメラレジストリが指定されていません")
	}
	if opts.Backend == nil {
		return nil, errors.New("キャプチャバックエンドが指定されていません")
	}
	if opts.Saver == nil {
		return nil, errors.New("保存先が指定されていません")
	}
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	if opts.Overlay != camera.PositionBack && opts.Overlay != camera.PositionFront {
		return nil, fmt.Errorf("不明な小窓の位置: %s", opts.Overlay)
	}
	if opts.Authorizer == nil {
		opts.Authorizer = AllowAll()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		registry:  opts.Registry,
		builder:   capture.NewBuilder(opts.Backend, opts.Logger),
		streamer:  opts.Backend,
		auth:      opts.Authorizer,
		saver:     opts.Saver,
		preview:   opts.Preview,
		layout:    opts.Layout,
		overlay:   opts.Overlay,
		logger:    opts.Logger,
		presenter: newPresenter(),
		cmds:      make(chan func()),
		pairs:     make(chan pairing.Pair, captureBacklog),
		updatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.pairer = pairing.New(c.onPair, opts.Logger)
	if r, ok := opts.Backend.(capture.StreamErrorReporter); ok {
		r.SetStreamErrorHandler(c.onStreamError)
	}

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.commandLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.captureLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.presenter.run(ctx)
	}()

	return c, nil
}

// Subscribe はイベントの購読を開始し、解除する関数を返す
// fnは配信ゴルーチンから順序どおりに呼ばれる
func (c *Controller) Subscribe(fn func(Event)) func() {
	return c.presenter.subscribe(fn)
}

// Status は現在の状態を返す
func (c *Controller) Status() Status {
	c.mu.RLock()
	st := Status{
		State:       c.state,
		Reason:      c.reason,
		Mode:        c.mode,
		LastCapture: c.lastCapture,
		UpdatedAt:   c.updatedAt,
	}
	if c.lastErr != nil {
		st.Error = c.lastErr.Error()
	}
	c.mu.RUnlock()

	if id, ok := c.pairer.Pending(); ok {
		st.PendingRequest = string(id)
	}
	st.Captures = c.captures.Load()
	st.CaptureFailures = c.captureFailures.Load()
	st.Pairing = c.pairer.Stats()
	return st
}

// Graph はコミット済みのキャプチャグラフを返す（なければnil）
func (c *Controller) Graph() *capture.Graph {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph
}

// Configure は権限確認・ハードウェア判定・デバイス選択・グラフ構築を行う
// 構成エラーは状態Failedとして観測でき、戻り値でも返す
func (c *Controller) Configure(ctx context.Context, mode Mode) error {
	return c.do(ctx, func() error { return c.configure(ctx, mode) })
}

// Start はフレーム配信を開始する（動作中なら何もしない）
func (c *Controller) Start(ctx context.Context) error {
	return c.do(ctx, func() error { return c.start(ctx) })
}

// Stop はフレーム配信を停止する（動作中でなければ何もしない）
func (c *Controller) Stop(ctx context.Context) error {
	return c.do(ctx, func() error { return c.stop(ctx) })
}

// BeginCapture は新しい撮影要求を開始する
// 静止画構成では両カメラへ静止画の撮影を要求する
func (c *Controller) BeginCapture(ctx context.Context) (pairing.RequestID, error) {
	var id pairing.RequestID
	err := c.do(ctx, func() error {
		var err error
		id, err = c.beginCapture(ctx)
		return err
	})
	return id, err
}

// Close は配信を停止してグラフを解放し、内部のゴルーチンを終了する
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		ctx := context.Background()
		err = c.do(ctx, func() error {
			stopErr := c.stop(ctx)
			c.builder.Teardown(ctx)
			c.mu.Lock()
			c.graph = nil
			c.mu.Unlock()
			return stopErr
		})
		c.cancel()
		c.wg.Wait()
	})
	return err
}

// do は処理を直列ゴルーチンで実行して結果を待つ
func (c *Controller) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	cmd := func() { errc <- fn() }

	select {
	case c.cmds <- cmd:
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) commandLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case cmd := <-c.cmds:
			cmd()
		}
	}
}

func (c *Controller) configure(ctx context.Context, mode Mode) error {
	c.mu.RLock()
	state, reason := c.state, c.reason
	c.mu.RUnlock()

	switch state {
	case StateConfiguring, StateRunning, StateStopped:
		return ErrAlreadyConfigured
	case StateFailed:
		// 非対応の端末では二度とグラフを構築しない
		if reason.Terminal() {
			return ErrUnsupportedHardware
		}
	}

	kinds, err := mode.Kinds()
	if err != nil {
		return err
	}

	c.setState(StateConfiguring, ReasonNone, nil)

	if !c.registry.IsDualCaptureSupported(ctx) {
		return c.fail(ErrUnsupportedHardware)
	}
	if err := authorize(ctx, c.auth); err != nil {
		return c.fail(err)
	}

	pair, err := c.registry.SelectDevices(ctx)
	if err != nil {
		return c.fail(err)
	}

	graph, err := c.builder.Build(ctx, pair, kinds)
	if err != nil {
		return c.fail(err)
	}

	c.mu.Lock()
	c.graph = graph
	c.mode = mode
	c.mu.Unlock()
	c.pairKind.Store(int32(mode.pairKind()))

	c.logger.Info("セッションを構成しました",
		"mode", mode,
		"back", pair.Back.ID,
		"front", pair.Front.ID,
	)
	return nil
}

func (c *Controller) start(ctx context.Context) error {
	c.mu.RLock()
	state, graph := c.state, c.graph
	c.mu.RUnlock()

	switch state {
	case StateRunning:
		return nil
	case StateConfiguring, StateStopped:
		if graph == nil {
			return ErrNotConfigured
		}
	default:
		return ErrNotConfigured
	}

	c.runGen.Add(1)
	if err := c.streamer.StartRunning(ctx, graph, c.onFrame); err != nil {
		c.builder.Teardown(ctx)
		c.mu.Lock()
		c.graph = nil
		c.mu.Unlock()
		return c.fail(fmt.Errorf("フレーム配信の開始に失敗: %w", err))
	}

	c.setState(StateRunning, ReasonNone, nil)
	c.logger.Info("セッションを開始しました")
	return nil
}

func (c *Controller) stop(ctx context.Context) error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	if state != StateRunning {
		return nil
	}

	c.runGen.Add(1)
	err := c.streamer.StopRunning(ctx)
	c.pairer.Reset()
	c.setState(StateStopped, ReasonNone, nil)
	if err != nil {
		c.logger.Warn("フレーム配信の停止でエラー", "error", err)
	}
	c.logger.Info("セッションを停止しました")
	return err
}

func (c *Controller) beginCapture(ctx context.Context) (pairing.RequestID, error) {
	c.mu.RLock()
	state, mode := c.state, c.mode
	c.mu.RUnlock()

	if state != StateRunning {
		return "", ErrNotRunning
	}

	id := c.pairer.BeginCapture()
	c.logger.Debug("撮影要求を開始しました", "request", id, "mode", mode)

	if mode == ModePhoto {
		for _, pos := range camera.Positions {
			if err := c.streamer.CaptureStill(ctx, pos); err != nil {
				c.pairer.Reset()
				return "", fmt.Errorf("%s の静止画撮影に失敗: %w", pos, err)
			}
		}
	}
	return id, nil
}

// onFrame はストリームの配信ゴルーチンから呼ばれる
func (c *Controller) onFrame(frame capture.Frame) {
	if frame.Kind == capture.SinkPreview && c.preview != nil {
		c.preview.PresentPreview(frame)
	}
	if frame.Kind != capture.SinkKind(c.pairKind.Load()) {
		return
	}
	c.pairer.OnSample(frame.Position, pairing.Sample{
		Image:      frame.Image,
		CapturedAt: frame.CapturedAt,
	})
}

// onStreamError はストリームの配信ゴルーチンから呼ばれる
// 配信の停止を待つ処理と競合しないよう、直列ゴルーチンへの投入は別ゴルーチンで行う
func (c *Controller) onStreamError(pos camera.Position, err error) {
	gen := c.runGen.Load()
	go func() {
		_ = c.do(c.ctx, func() error { return c.streamFailed(gen, pos, err) })
	}()
}

// streamFailed は動作中のストリームが終了したときにグラフを解放してFailedへ遷移する
func (c *Controller) streamFailed(gen uint64, pos camera.Position, err error) error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	if state != StateRunning || gen != c.runGen.Load() {
		c.logger.Debug("古いストリームの終了通知を無視しました", "position", pos, "error", err)
		return nil
	}

	c.runGen.Add(1)
	if stopErr := c.streamer.StopRunning(c.ctx); stopErr != nil {
		c.logger.Warn("フレーム配信の停止でエラー", "error", stopErr)
	}
	c.pairer.Reset()
	c.builder.Teardown(c.ctx)
	c.mu.Lock()
	c.graph = nil
	c.mu.Unlock()

	return c.fail(err)
}

// onPair は対が揃ったゴルーチンから呼ばれ、合成ゴルーチンへ渡す
func (c *Controller) onPair(p pairing.Pair) {
	select {
	case c.pairs <- p:
	default:
		c.captureFailed(string(p.RequestID), ErrCaptureBacklog)
	}
}

func (c *Controller) captureLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case p := <-c.pairs:
			c.process(p)
		}
	}
}

// process は対を合成して保存する
func (c *Controller) process(p pairing.Pair) {
	base, overlay := p.Back, p.Front
	if c.overlay == camera.PositionBack {
		base, overlay = p.Front, p.Back
	}

	canvas, err := composite.Compose(base.Image, overlay.Image, c.layout)
	if err != nil {
		c.captureFailed(string(p.RequestID), fmt.Errorf("合成に失敗: %w", err))
		return
	}

	img := composite.Image{
		RequestID:  string(p.RequestID),
		Canvas:     canvas,
		Layout:     c.layout,
		ComposedAt: time.Now(),
	}
	record, err := c.saver.SaveStill(c.ctx, img)
	if err != nil {
		c.captureFailed(img.RequestID, err)
		return
	}

	c.captures.Add(1)
	c.mu.Lock()
	c.lastCapture = &record
	state := c.state
	c.mu.Unlock()

	c.logger.Info("撮影を保存しました", "request", img.RequestID, "size", record.Size)
	c.presenter.publish(Event{
		Kind:      EventCaptured,
		State:     state,
		RequestID: img.RequestID,
		Record:    &record,
		At:        time.Now(),
	})
}

// captureFailed は撮影ごとの失敗を通知する（状態は変えない）
func (c *Controller) captureFailed(requestID string, err error) {
	c.captureFailures.Add(1)
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	c.logger.Warn("撮影に失敗しました", "request", requestID, "error", err)
	c.presenter.publish(Event{
		Kind:      EventCaptureFailed,
		State:     state,
		Error:     err.Error(),
		RequestID: requestID,
		At:        time.Now(),
	})
}

// fail は構成エラーでFailedへ遷移してエラーを返す
func (c *Controller) fail(err error) error {
	reason := Classify(err)
	c.setState(StateFailed, reason, err)
	c.logger.Error("セッションが失敗状態になりました", "reason", reason, "error", err)
	return err
}

func (c *Controller) setState(state State, reason Reason, err error) {
	now := time.Now()

	c.mu.Lock()
	c.state = state
	c.reason = reason
	c.lastErr = err
	c.updatedAt = now
	c.mu.Unlock()

	e := Event{Kind: EventState, State: state, Reason: reason, At: now}
	if err != nil {
		e.Error = err.Error()
	}
	c.presenter.publish(e)
}
