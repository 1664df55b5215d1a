package embermqtt

import (
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// fanPool is a bounded worker pool used to fan a single inbound PUBLISH
// out to many subscribers without spawning a goroutine per recipient.
// Work is sharded by client id so that two deliveries to the same client
// always run on the same worker and therefore never reorder relative to
// each other, matching the per-session insertion-order guarantee
// Session.Publish relies on.
type fanPool struct {
	shards []chan func()
	wg     sync.WaitGroup
}

// newFanPool starts n worker goroutines (n defaults to GOMAXPROCS when
// zero or negative, per the broker's default sizing).
func newFanPool(n int) *fanPool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p := &fanPool{shards: make([]chan func(), n)}
	for i := range p.shards {
		ch := make(chan func(), 256)
		p.shards[i] = ch
		p.wg.Add(1)
		go p.run(ch)
	}
	return p
}

func (p *fanPool) run(ch chan func()) {
	defer p.wg.Done()
	for fn := range ch {
		fn()
	}
}

// Submit schedules fn on the shard owned by key, blocking only if that
// shard's queue is full.
func (p *fanPool) Submit(key string, fn func()) {
	idx := xxhash.Sum64String(key) % uint64(len(p.shards))
	p.shards[idx] <- fn
}

// Close stops accepting work and waits for every queued task to drain.
func (p *fanPool) Close() {
	for _, ch := range p.shards {
		close(ch)
	}
	p.wg.Wait()
}
