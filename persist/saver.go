package persist

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Saver runs persistence writes in the background. Callers never wait for a
// write to finish; failures go to the error hook.
//
// Writes sharing a key run one at a time in the order they were queued.
// A barrier waits for everything queued before it and holds back everything
// queued after it, so whole-set writes never interleave with single-key ones.
type Saver struct {
	pool    *ants.Pool
	timeout time.Duration
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending []*task
	lanes   map[string]*lane
	busy    int
	fenced  bool
	onError func(*StorageError)
}

type task struct {
	op, key string
	fn      func(ctx context.Context) error
	barrier bool
	ctx     context.Context // 为空时用 Saver 的超时
	done    chan error      // 同步 barrier 的结果
}

type lane struct{ queue []*task }

func NewSaver(workers int, timeout time.Duration) (*Saver, error) {
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	return &Saver{pool: pool, timeout: timeout, lanes: make(map[string]*lane)}, nil
}

// OnError replaces the failure hook.
func (s *Saver) OnError(fn func(*StorageError)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Go queues fn behind earlier writes for the same key. A nil Saver runs
// nothing, which keeps pure in-memory stores simple.
func (s *Saver) Go(op, key string, fn func(ctx context.Context) error) {
	if s == nil {
		return
	}
	s.enqueue(&task{op: op, key: key, fn: fn})
}

// GoBarrier queues fn as a barrier without waiting for it.
func (s *Saver) GoBarrier(op string, fn func(ctx context.Context) error) {
	if s == nil {
		return
	}
	s.enqueue(&task{op: op, fn: fn, barrier: true})
}

// Barrier runs fn once every write queued so far has finished, and returns
// its error. Writes queued while fn runs start after it. Failures are returned,
// not reported to the hook.
func (s *Saver) Barrier(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if s == nil {
		return fn(ctx)
	}
	t := &task{op: op, fn: fn, barrier: true, ctx: ctx, done: make(chan error, 1)}
	s.enqueue(t)
	return <-t.done
}

// Flush blocks until every queued write has finished.
func (s *Saver) Flush() {
	if s == nil {
		return
	}
	s.wg.Wait()
}

func (s *Saver) Close() {
	if s == nil {
		return
	}
	s.Flush()
	s.pool.Release()
}

func (s *Saver) enqueue(t *task) {
	s.wg.Add(1)
	s.mu.Lock()
	s.pending = append(s.pending, t)
	ready := s.dispatchLocked()
	s.mu.Unlock()
	s.submit(ready)
}

// dispatchLocked 把 pending 头部能启动的任务交给 lane；遇到 barrier 就停下
func (s *Saver) dispatchLocked() []func() {
	var ready []func()
	for len(s.pending) > 0 && !s.fenced {
		t := s.pending[0]
		if t.barrier {
			if s.busy > 0 {
				break
			}
			s.pending = s.pending[1:]
			s.fenced = true
			s.busy++
			ready = append(ready, func() { s.runBarrier(t) })
			break
		}
		s.pending = s.pending[1:]
		if l, ok := s.lanes[t.key]; ok {
			l.queue = append(l.queue, t)
			continue
		}
		l := &lane{queue: []*task{t}}
		s.lanes[t.key] = l
		s.busy++
		ready = append(ready, func() { s.runLane(t.key, l) })
	}
	return ready
}

func (s *Saver) runLane(key string, l *lane) {
	for {
		s.mu.Lock()
		if len(l.queue) == 0 {
			delete(s.lanes, key)
			s.busy--
			ready := s.dispatchLocked()
			s.mu.Unlock()
			s.handoff(ready)
			return
		}
		t := l.queue[0]
		l.queue = l.queue[1:]
		s.mu.Unlock()
		s.run(t)
	}
}

func (s *Saver) runBarrier(t *task) {
	s.run(t)
	s.mu.Lock()
	s.fenced = false
	s.busy--
	ready := s.dispatchLocked()
	s.mu.Unlock()
	s.handoff(ready)
}

// handoff 在 worker 内部提交，不能阻塞当前 worker
func (s *Saver) handoff(ready []func()) {
	if len(ready) > 0 {
		go s.submit(ready)
	}
}

func (s *Saver) submit(ready []func()) {
	for _, fn := range ready {
		if err := s.pool.Submit(fn); err != nil {
			zap.L().Warn("save pool rejected task, running it on its own goroutine", zap.Error(err))
			go fn()
		}
	}
}

func (s *Saver) run(t *task) {
	defer s.wg.Done()
	ctx := t.ctx
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
	}
	err := t.fn(ctx)
	if t.done != nil {
		t.done <- err
		return
	}
	if err != nil {
		s.report(&StorageError{Op: t.op, Key: t.key, Err: err})
	}
}

func (s *Saver) report(se *StorageError) {
	zap.L().Error("background save failed", zap.String("op", se.Op), zap.String("key", se.Key), zap.Error(se.Err))
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(se)
	}
}
