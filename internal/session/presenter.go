package session

import (
	"context"
	"sync"
)

// presenter はイベントを順序どおりに1本のゴルーチンから購読者へ届ける
// publishは呼び出し側をブロックしない
type presenter struct {
	mu     sync.Mutex
	queue  []Event
	subs   map[int]func(Event)
	nextID int
	wake   chan struct{}
}

func newPresenter() *presenter {
	return &presenter{
		subs: make(map[int]func(Event)),
		wake: make(chan struct{}, 1),
	}
}

func (p *presenter) publish(e Event) {
	p.mu.Lock()
	p.queue = append(p.queue, e)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *presenter) subscribe(fn func(Event)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

// run はctxが終了するまでイベントを配信し、終了時は残りを配信してから戻る
func (p *presenter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		case <-p.wake:
			p.flush()
		}
	}
}

func (p *presenter) flush() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		e := p.queue[0]
		p.queue = p.queue[1:]
		subs := make([]func(Event), 0, len(p.subs))
		for _, fn := range p.subs {
			subs = append(subs, fn)
		}
		p.mu.Unlock()

		for _, fn := range subs {
			fn(e)
		}
	}
}
