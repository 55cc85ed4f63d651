package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/healthtrack/trend-engine/internal/metrics"
	"github.com/healthtrack/trend-engine/internal/models"
)

const (
	// DefaultWorkers is the background pool size when none is configured.
	DefaultWorkers = 2
	// DefaultOffloadThreshold is the point count above which regressions are offloaded.
	DefaultOffloadThreshold = 100
	// DefaultQueueSize bounds tasks waiting for an idle worker.
	DefaultQueueSize = 64
)

var errPoolUnavailable = errors.New("worker pool unavailable")

// Worker computes a regression in the background. Implementations must not keep
// state between calls.
type Worker interface {
	Compute(points []models.Point) (models.RegressionResult, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(points []models.Point) (models.RegressionResult, error)

// Compute calls f.
func (f WorkerFunc) Compute(points []models.Point) (models.RegressionResult, error) {
	return f(points)
}

// WorkerFactory creates the worker for pool slot id.
type WorkerFactory func(id int) (Worker, error)

// RegressionWorkerFactory builds workers that run Compute.
func RegressionWorkerFactory(int) (Worker, error) {
	return WorkerFunc(Compute), nil
}

// DispatcherConfig tunes the background pool.
type DispatcherConfig struct {
	Workers          int
	OffloadThreshold int
	QueueSize        int
	Factory          WorkerFactory
}

// DispatchStats counts regressions by the path that produced them.
type DispatchStats struct {
	Inline    int64
	Offloaded int64
	Fallbacks int64
	Workers   int
}

type dispatchPath string

const (
	pathInline   dispatchPath = metrics.PathInline
	pathWorker   dispatchPath = metrics.PathWorker
	pathFallback dispatchPath = metrics.PathFallback
)

// outcome tags a dispatch result with the path that produced it.
type outcome struct {
	result models.RegressionResult
	err    error
	path   dispatchPath
}

type task struct {
	points []models.Point
	reply  chan taskReply
}

// taskReply separates regression errors (err) from worker faults (failure).
type taskReply struct {
	result  models.RegressionResult
	err     error
	failure error
}

// Dispatcher runs regressions inline or on a lazily started, bounded worker pool.
type Dispatcher struct {
	logger *slog.Logger
	cfg    DispatcherConfig

	startOnce sync.Once
	mu        sync.RWMutex
	tasks     chan task
	closed    bool
	alive     int
	wg        sync.WaitGroup

	inline    atomic.Int64
	offloaded atomic.Int64
	fallbacks atomic.Int64
}

// NewDispatcher creates a dispatcher. No worker is started until the first
// regression large enough to offload arrives.
func NewDispatcher(logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 0 {
		cfg.Workers = 0
	}
	if cfg.OffloadThreshold <= 0 {
		cfg.OffloadThreshold = DefaultOffloadThreshold
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Factory == nil {
		cfg.Factory = RegressionWorkerFactory
	}
	return &Dispatcher{logger: logger, cfg: cfg}
}

// Dispatch computes the regression of points. Worker faults are absorbed by
// recomputing inline; only regression errors and ctx cancellation are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, points []models.Point) (models.RegressionResult, error) {
	out := d.dispatch(ctx, points)
	return out.result, out.err
}

func (d *Dispatcher) dispatch(ctx context.Context, points []models.Point) outcome {
	if len(points) <= d.cfg.OffloadThreshold || !d.ensurePool() {
		return d.computeInline(points, pathInline)
	}

	reply, err := d.submit(ctx, points)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome{err: ctxErr, path: pathWorker}
		}
		return d.computeInline(points, pathInline)
	}

	select {
	case <-ctx.Done():
		return outcome{err: ctx.Err(), path: pathWorker}
	case r := <-reply:
		if r.failure != nil {
			d.logger.Warn("background regression failed, computing inline",
				slog.Int("points", len(points)), slog.Any("error", r.failure))
			d.fallbacks.Add(1)
			return d.computeInline(points, pathFallback)
		}
		d.offloaded.Add(1)
		metrics.ObserveDispatch(metrics.PathWorker)
		return outcome{result: r.result, err: r.err, path: pathWorker}
	}
}

func (d *Dispatcher) computeInline(points []models.Point, path dispatchPath) outcome {
	if path == pathInline {
		d.inline.Add(1)
	}
	metrics.ObserveDispatch(string(path))
	result, err := Compute(points)
	return outcome{result: result, err: err, path: path}
}

// ensurePool starts the workers on first use and reports whether any is running.
func (d *Dispatcher) ensurePool() bool {
	d.startOnce.Do(d.startPool)
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.closed && d.alive > 0
}

func (d *Dispatcher) startPool() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.cfg.Workers == 0 {
		return
	}

	workers := make([]Worker, 0, d.cfg.Workers)
	for id := 0; id < d.cfg.Workers; id++ {
		w, err := d.safeCreate(id)
		if err != nil {
			d.logger.Warn("worker unavailable", slog.Int("worker", id), slog.Any("error", err))
			continue
		}
		workers = append(workers, w)
	}
	if len(workers) == 0 {
		d.logger.Warn("no background workers available, regressions will run inline")
		return
	}

	d.tasks = make(chan task, d.cfg.QueueSize)
	d.alive = len(workers)
	for id, w := range workers {
		d.wg.Add(1)
		go d.run(id, w)
	}
	d.logger.Debug("worker pool started", slog.Int("workers", d.alive))
}

func (d *Dispatcher) safeCreate(id int) (w Worker, err error) {
	defer func() {
		if r := recover(); r != nil {
			w, err = nil, fmt.Errorf("worker factory panicked: %v", r)
		}
	}()
	w, err = d.cfg.Factory(id)
	if err == nil && w == nil {
		err = errors.New("worker factory returned nil worker")
	}
	return w, err
}

func (d *Dispatcher) submit(ctx context.Context, points []models.Point) (<-chan taskReply, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || d.tasks == nil {
		return nil, errPoolUnavailable
	}

	t := task{
		points: append([]models.Point(nil), points...),
		reply:  make(chan taskReply, 1),
	}
	select {
	case d.tasks <- t:
		return t.reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) run(id int, w Worker) {
	defer d.wg.Done()
	for t := range d.tasks {
		t.reply <- execute(id, w, t.points)
	}
}

func execute(id int, w Worker, points []models.Point) (reply taskReply) {
	defer func() {
		if r := recover(); r != nil {
			reply = taskReply{failure: fmt.Errorf("worker %d panicked: %v", id, r)}
		}
	}()

	result, err := w.Compute(points)
	switch {
	case err == nil:
		return taskReply{result: result}
	case isRegressionError(err):
		return taskReply{err: err}
	default:
		return taskReply{failure: fmt.Errorf("worker %d: %w", id, err)}
	}
}

// Stats returns a snapshot of the dispatch counters.
func (d *Dispatcher) Stats() DispatchStats {
	d.mu.RLock()
	alive := d.alive
	d.mu.RUnlock()
	return DispatchStats{
		Inline:    d.inline.Load(),
		Offloaded: d.offloaded.Load(),
		Fallbacks: d.fallbacks.Load(),
		Workers:   alive,
	}
}

// Close stops the workers after queued tasks drain. Later dispatches run inline.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.tasks != nil {
		close(d.tasks)
	}
	d.alive = 0
	d.mu.Unlock()
	d.wg.Wait()
}
