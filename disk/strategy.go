package disk

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/util"
)

// Request is one asynchronous write.
type Request struct {
	Addr common.Daddr
	Data []byte
	// Done runs exactly once on a pool worker when the write has finished.
	// It must not block or submit further requests.
	Done func(err error)
}

// Strategy issues writes on a worker pool. At most maxOutstanding requests
// are in flight; Submit blocks for a slot when the cap is reached.
type Strategy struct {
	dev  Device
	pool *ants.Pool
	sem  *semaphore.Weighted

	mu      *sync.Mutex
	cond    *sync.Cond
	pending uint64
}

func MkStrategy(dev Device, workers int, maxOutstanding uint64) (*Strategy, error) {
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p interface{}) {
		util.Logger().Error("strategy worker panic", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, errors.Wrap(err, "strategy pool")
	}
	mu := new(sync.Mutex)
	return &Strategy{
		dev:  dev,
		pool: pool,
		sem:  semaphore.NewWeighted(int64(maxOutstanding)),
		mu:   mu,
		cond: sync.NewCond(mu),
	}, nil
}

func (s *Strategy) Device() Device {
	return s.dev
}

func (s *Strategy) Submit(req *Request) error {
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		return errors.Wrap(err, "strategy slot")
	}
	s.mu.Lock()
	s.pending += 1
	s.mu.Unlock()
	err := s.pool.Submit(func() { s.run(req) })
	if err != nil {
		s.finish()
		return errors.Wrap(err, "strategy submit")
	}
	return nil
}

func (s *Strategy) run(req *Request) {
	err := s.dev.WriteAt(req.Data, req.Addr)
	req.Done(err)
	s.finish()
}

func (s *Strategy) finish() {
	s.mu.Lock()
	s.pending -= 1
	if s.pending == 0 {
		s.cond.Broadcast()
	}
	s.mu.Unlock()
	s.sem.Release(1)
}

// Drain waits until every submitted request has completed.
func (s *Strategy) Drain() {
	s.mu.Lock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

// Barrier drains and then makes the completed writes durable.
func (s *Strategy) Barrier() error {
	s.Drain()
	return s.dev.Barrier()
}

func (s *Strategy) Close() error {
	s.Drain()
	s.pool.Release()
	return nil
}
