// Package pairing は2本のストリームのサンプルを1回の撮影要求ごとに対にする
package pairing

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"dualcam/internal/camera"
)

// SlotState はストリームごとのサンプル枠の状態
type SlotState int

const (
	SlotAbsent SlotState = iota // サンプルなし
	SlotStale                   // 現在の撮影要求より前に届いたサンプル
	SlotFresh                   // 現在の撮影要求の後に届いたサンプル
)

func (s SlotState) String() string {
	switch s {
	case SlotAbsent:
		return "absent"
	case SlotStale:
		return "stale"
	case SlotFresh:
		return "fresh"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// RequestID は撮影要求の識別子
type RequestID string

// Sample はストリームから届いた1枚の画像
type Sample struct {
	Image      image.Image
	CapturedAt time.Time
}

// Pair は同じ撮影要求に属する背面・前面のサンプル
type Pair struct {
	RequestID RequestID
	Back      Sample
	Front     Sample
}

// Handler は対が揃ったときに呼ばれる
// 最後のサンプルを届けたゴルーチンから呼ばれるため、重い処理は別ゴルーチンへ渡すこと
type Handler func(Pair)

// Stats は同期処理の統計
type Stats struct {
	Requests   uint64 `json:"requests"`   // BeginCaptureの回数
	Paired     uint64 `json:"paired"`     // 対が揃った回数
	Superseded uint64 `json:"superseded"` // 揃う前に次の要求で上書きされた回数
	Samples    uint64 `json:"samples"`    // 受け取ったサンプル数
}

type request struct {
	id RequestID
}

// slot は片側1枚分のサンプル枠（書き込みは側ごとに排他）
type slot struct {
	mu     sync.Mutex
	sample Sample
	has    bool
	req    *request // サンプル到着時の撮影要求（nilは待機中に到着）
}

// Synchronizer は撮影要求ごとに背面・前面のサンプルを1組だけ取り出す
type Synchronizer struct {
	handler Handler
	logger  *slog.Logger

	// stateMu は撮影要求の切り替えと成立判定を直列化する
	// ロック順は stateMu → slot.mu
	stateMu sync.Mutex
	current atomic.Pointer[request]
	slots   [2]slot

	requests   atomic.Uint64
	paired     atomic.Uint64
	superseded atomic.Uint64
	samples    atomic.Uint64
}

// New は新しいSynchronizerを作成する
func New(handler Handler, logger *slog.Logger) *Synchronizer {
	if handler == nil {
		panic("pairing: handler is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		handler: handler,
		logger:  logger,
	}
}

// BeginCapture は両方の枠を空にして新しい撮影要求を開始する
// 成立前の要求が残っていれば上書きする
func (s *Synchronizer) BeginCapture() RequestID {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	// 先に枠を空にし、その後で要求を差し替える
	for i := range s.slots {
		s.slots[i].clear()
	}

	req := &request{id: RequestID(uuid.NewString())}
	if prev := s.current.Swap(req); prev != nil {
		s.superseded.Add(1)
		s.logger.Debug("未成立の撮影要求を上書きしました", "previous", prev.id, "request", req.id)
	}
	s.requests.Add(1)

	return req.id
}

// Reset は未成立の撮影要求を取り消して待機状態へ戻す
func (s *Synchronizer) Reset() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	for i := range s.slots {
		s.slots[i].clear()
	}
	s.current.Store(nil)
}

// OnSample は指定側の枠にサンプルを上書きで格納する
// 2本のストリームから並行に呼ばれてよい
func (s *Synchronizer) OnSample(side camera.Position, sample Sample) {
	if side != camera.PositionBack && side != camera.PositionFront {
		s.logger.Warn("不明なストリームのサンプルを破棄しました", "side", side)
		return
	}
	s.samples.Add(1)

	sl := &s.slots[side]
	sl.mu.Lock()
	req := s.current.Load()
	sl.sample = sample
	sl.has = true
	sl.req = req
	sl.mu.Unlock()

	if req != nil {
		s.tryPair(req)
	}
}

// Pending は未成立の撮影要求を返す
func (s *Synchronizer) Pending() (RequestID, bool) {
	req := s.current.Load()
	if req == nil {
		return "", false
	}
	return req.id, true
}

// SlotState は指定側の枠の状態を返す
func (s *Synchronizer) SlotState(side camera.Position) SlotState {
	if side != camera.PositionBack && side != camera.PositionFront {
		return SlotAbsent
	}

	sl := &s.slots[side]
	sl.mu.Lock()
	defer sl.mu.Unlock()

	switch {
	case !sl.has:
		return SlotAbsent
	case sl.req != nil && sl.req == s.current.Load():
		return SlotFresh
	default:
		return SlotStale
	}
}

// Stats は統計を返す
func (s *Synchronizer) Stats() Stats {
	return Stats{
		Requests:   s.requests.Load(),
		Paired:     s.paired.Load(),
		Superseded: s.superseded.Load(),
		Samples:    s.samples.Load(),
	}
}

// tryPair は両方の枠がreqのサンプルで埋まっていれば対を取り出して待機状態へ戻す
func (s *Synchronizer) tryPair(req *request) {
	s.stateMu.Lock()
	if s.current.Load() != req {
		s.stateMu.Unlock()
		return
	}

	back, okBack := s.slots[camera.PositionBack].freshFor(req)
	front, okFront := s.slots[camera.PositionFront].freshFor(req)
	if !okBack || !okFront {
		s.stateMu.Unlock()
		return
	}

	s.current.Store(nil)
	for i := range s.slots {
		s.slots[i].clear()
	}
	s.paired.Add(1)
	s.stateMu.Unlock()

	s.handler(Pair{RequestID: req.id, Back: back, Front: front})
}

func (sl *slot) freshFor(req *request) (Sample, bool) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.has || sl.req != req {
		return Sample{}, false
	}
	return sl.sample, true
}

func (sl *slot) clear() {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.sample = Sample{}
	sl.has = false
	sl.req = nil
}
