package render

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/snapgate/snapgate/pkg/observability"
)

// SupervisorConfig sizes the pool. Screenshot workers occupy ids
// [0, Screenshots); PDF workers [Screenshots, Screenshots+PDFs).
type SupervisorConfig struct {
	Screenshots       int
	PDFs              int
	NavigationTimeout time.Duration
}

// Supervisor owns the worker pool: it spawns one page per worker and
// replaces pages that die, keeping the live count at the configured
// size until Stop.
type Supervisor struct {
	cfg     SupervisorConfig
	queue   *Queue
	pages   PageFactory
	stores  StoreResolver
	metrics *observability.Metrics
	logger  *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	replace  chan int
	fatal    chan error
	stopping atomic.Bool
	live     atomic.Int32
	wg       sync.WaitGroup
	done     chan struct{}

	newBackOff func() backoff.BackOff // injectable for tests
}

// NewSupervisor wires the pool. Call Start to spawn workers.
func NewSupervisor(cfg SupervisorConfig, queue *Queue, pages PageFactory, stores StoreResolver, metrics *observability.Metrics, logger *slog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:     cfg,
		queue:   queue,
		pages:   pages,
		stores:  stores,
		metrics: metrics,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		replace: make(chan int, cfg.Screenshots+cfg.PDFs),
		fatal:   make(chan error, 1),
		done:    make(chan struct{}),
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

func (s *Supervisor) classOf(id int) Class {
	if id < s.cfg.Screenshots {
		return ClassScreenshot
	}
	return ClassPDF
}

// Start opens one page per worker and launches the pool. It fails if
// any initial page cannot be opened.
func (s *Supervisor) Start() error {
	total := s.cfg.Screenshots + s.cfg.PDFs
	for id := 0; id < total; id++ {
		if err := s.spawn(id); err != nil {
			s.cancel()
			return err
		}
	}
	go s.replaceLoop()
	s.logger.Info("worker pool started",
		"screenshot_workers", s.cfg.Screenshots, "pdf_workers", s.cfg.PDFs)
	return nil
}

// spawn opens a page with retry and runs worker id on it.
func (s *Supervisor) spawn(id int) error {
	var page Page
	open := func() error {
		var err error
		page, err = s.pages.NewPage(s.ctx)
		return err
	}
	policy := backoff.WithContext(s.newBackOff(), s.ctx)
	if err := backoff.Retry(open, policy); err != nil {
		return err
	}

	w := &worker{
		id:         id,
		class:      s.classOf(id),
		page:       page,
		queue:      s.queue,
		stores:     s.stores,
		metrics:    s.metrics,
		logger:     s.logger,
		navTimeout: s.cfg.NavigationTimeout,
		sleep:      sleepCtx,
	}

	s.live.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.live.Add(-1)
		if w.run(s.ctx) {
			select {
			case s.replace <- id:
			case <-s.ctx.Done():
			}
		}
	}()
	return nil
}

// replaceLoop respawns workers whose pages died. During shutdown it
// lets the pool drain instead. Respawn exhaustion means the browser
// is gone: the pool cannot return to size, so the error escalates to
// Fatal for the process to act on.
func (s *Supervisor) replaceLoop() {
	for {
		select {
		case id := <-s.replace:
			if s.stopping.Load() {
				continue
			}
			if err := s.spawn(id); err != nil {
				s.logger.Error("worker respawn failed", "worker", id, "err", err)
				select {
				case s.fatal <- err:
				default:
				}
			}
		case <-s.ctx.Done():
			close(s.done)
			return
		}
	}
}

// Fatal reports unrecoverable pool failure: a dead worker could not be
// replaced even with retries. The caller should shut the process down.
func (s *Supervisor) Fatal() <-chan error {
	return s.fatal
}

// Live reports the number of running workers.
func (s *Supervisor) Live() int {
	return int(s.live.Load())
}

// Stop closes the queue, waits for in-flight tasks to finish, then
// tears the pool down.
func (s *Supervisor) Stop() {
	s.stopping.Store(true)
	s.queue.Close()
	s.wg.Wait()
	s.cancel()
	<-s.done
	s.logger.Info("worker pool stopped")
}
