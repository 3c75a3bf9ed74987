package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Registry は列挙済みカメラデバイスを保持し、デュアル撮影用の組を選択する
type Registry struct {
	discovery Discovery
	logger    *slog.Logger

	scanMu  sync.Mutex
	scanned bool
	devices []Device

	supportOnce sync.Once
	supported   bool
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry(discovery Discovery, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		discovery: discovery,
		logger:    logger,
	}
}

// IsDualCaptureSupported は2ストリーム同時撮影の対応可否を返す
// グラフ構築の前に必ず確認すること
func (r *Registry) IsDualCaptureSupported(ctx context.Context) bool {
	r.supportOnce.Do(func() {
		r.supported = r.discovery.IsMultiCamSupported(ctx)
		r.logger.Debug("デュアル撮影対応を確認しました", "supported", r.supported)
	})
	return r.supported
}

// Devices は列挙済みのデバイス一覧を返す
// ハードウェアへの問い合わせは成功するまで再試行し、成功後は結果を使い回す
func (r *Registry) Devices(ctx context.Context) ([]Device, error) {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	if !r.scanned {
		devices, err := r.discovery.ScanDevices(ctx)
		if err != nil {
			return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
		}
		r.devices = devices
		r.scanned = true
	}

	devices := make([]Device, len(r.devices))
	copy(devices, r.devices)
	return devices, nil
}

// SelectDevices は背面・前面の広角カメラをちょうど1台ずつ選択する
func (r *Registry) SelectDevices(ctx context.Context) (Pair, error) {
	devices, err := r.Devices(ctx)
	if err != nil {
		return Pair{}, err
	}

	var (
		pair       Pair
		backCount  int
		frontCount int
	)
	for _, d := range devices {
		if d.Type != DeviceTypeWideAngle {
			continue
		}
		switch d.Position {
		case PositionBack:
			pair.Back = d
			backCount++
		case PositionFront:
			pair.Front = d
			frontCount++
		}
	}

	if backCount != 1 || frontCount != 1 {
		return Pair{}, fmt.Errorf("%w (back=%d, front=%d)", ErrMissingInputs, backCount, frontCount)
	}

	r.logger.Info("カメラを選択しました",
		"back", pair.Back.ID,
		"front", pair.Front.ID,
	)
	return pair, nil
}
