package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"dualcam/internal/camera"
)

// Builder はキャプチャグラフを構築・保持する
// 構造の変更はBuild/Teardownのみで行い、呼び出しは直列化されている前提
type Builder struct {
	platform Platform
	logger   *slog.Logger

	mu      sync.RWMutex
	current *Graph
}

// NewBuilder は新しいBuilderを作成する
func NewBuilder(platform Platform, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		platform: platform,
		logger:   logger,
	}
}

// Current はコミット済みのグラフを返す（なければnil）
func (b *Builder) Current() *Graph {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Teardown は現在のグラフを破棄する
func (b *Builder) Teardown(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardownLocked(ctx)
}

// Build は2台のデバイスから指定種別のシンクを持つグラフを構築してコミットする
// いずれかの段階で失敗した場合はグラフを残さずエラーを返す
func (b *Builder) Build(ctx context.Context, pair camera.Pair, kinds []SinkKind) (*Graph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// 既存の入出力を取り除いてから追加する
	b.teardownLocked(ctx)

	if err := validateKinds(kinds); err != nil {
		return nil, err
	}

	tx := &Graph{}

	// 入力（コネクションなし）
	inputs := make(map[camera.Position]Input, len(camera.Positions))
	for _, pos := range camera.Positions {
		device := pair.Get(pos)
		if device.Position != pos {
			return nil, b.abort(ctx, tx, fmt.Errorf("%w: %s の位置が %s ではありません", ErrDeviceUnavailable, device.ID, pos))
		}
		if !device.Capabilities.SupportsVideo {
			return nil, b.abort(ctx, tx, fmt.Errorf("%w: %s は映像に対応していません", ErrDeviceUnavailable, device.ID))
		}

		input, err := b.platform.OpenInput(ctx, device)
		if err != nil {
			return nil, b.abort(ctx, tx, fmt.Errorf("%w: %s: %w", ErrDeviceUnavailable, device.ID, err))
		}
		tx.Inputs = append(tx.Inputs, input)

		if !b.platform.CanAddInput(input) {
			return nil, b.abort(ctx, tx, fmt.Errorf("%w: %s", ErrInputRejected, device.ID))
		}
		inputs[pos] = input
	}

	// 出力シンク（コネクションなし）
	for _, pos := range camera.Positions {
		for _, kind := range kinds {
			if kind == SinkStill && !pair.Get(pos).Capabilities.SupportsStill {
				return nil, b.abort(ctx, tx, fmt.Errorf("%w: %s は静止画に対応していません", ErrOutputRejected, pair.Get(pos).ID))
			}

			sink := Sink{ID: uuid.NewString(), Kind: kind, Position: pos}
			if !b.platform.CanAddSink(sink) {
				return nil, b.abort(ctx, tx, fmt.Errorf("%w: %s/%s", ErrOutputRejected, pos, kind))
			}
			tx.Sinks = append(tx.Sinks, sink)
		}
	}

	// 入力ポートとシンクを同じストリーム内でのみ結ぶ
	for _, sink := range tx.Sinks {
		input := inputs[sink.Position]
		port, ok := input.VideoPort()
		if !ok {
			return nil, b.abort(ctx, tx, fmt.Errorf("%w: %s に映像ポートがありません", ErrConnectionRejected, input.Device.ID))
		}

		conn := Connection{
			ID:          uuid.NewString(),
			InputID:     input.ID,
			PortID:      port.ID,
			SinkID:      sink.ID,
			Kind:        sink.Kind,
			Position:    sink.Position,
			Orientation: OrientationPortrait,
			Mirrored:    sink.Position == camera.PositionFront,
		}
		if !b.platform.CanAddConnection(conn) {
			return nil, b.abort(ctx, tx, fmt.Errorf("%w: %s → %s", ErrConnectionRejected, sink.Position, sink.Kind))
		}
		tx.Connections = append(tx.Connections, conn)
	}

	if err := b.platform.Commit(ctx, tx); err != nil {
		return nil, b.abort(ctx, tx, fmt.Errorf("%w: %w", ErrCommitFailed, err))
	}

	b.current = tx
	b.logger.Info("キャプチャグラフをコミットしました",
		"inputs", len(tx.Inputs),
		"sinks", len(tx.Sinks),
		"connections", len(tx.Connections),
	)
	return tx, nil
}

// abort は構築途中のグラフの資源を解放してエラーを返す（ロック済み前提）
func (b *Builder) abort(ctx context.Context, tx *Graph, err error) error {
	if len(tx.Inputs) > 0 {
		b.platform.Release(ctx, tx)
	}
	b.current = nil
	b.logger.Warn("キャプチャグラフの構築を中止しました", "error", err)
	return err
}

// teardownLocked は現在のグラフを解放する（ロック済み前提）
func (b *Builder) teardownLocked(ctx context.Context) {
	if b.current == nil {
		return
	}
	b.platform.Release(ctx, b.current)
	b.current = nil
}

// validateKinds はシンク種別の指定を検証する
func validateKinds(kinds []SinkKind) error {
	if len(kinds) == 0 {
		return fmt.Errorf("%w: シンクが指定されていません", ErrOutputRejected)
	}
	seen := make(map[SinkKind]bool, len(kinds))
	for _, k := range kinds {
		if k != SinkPreview && k != SinkStill {
			return fmt.Errorf("%w: 不明なシンク種別 %s", ErrOutputRejected, k)
		}
		if seen[k] {
			return fmt.Errorf("%w: シンク種別 %s が重複しています", ErrOutputRejected, k)
		}
		seen[k] = true
	}
	return nil
}
