package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/VinByte365/Project-Pamada-sub000/internal/apperr"
	"github.com/VinByte365/Project-Pamada-sub000/internal/metrics"
	"github.com/VinByte365/Project-Pamada-sub000/internal/models"
)

// ErrQueueFull is reported when a submission finds the queue at capacity.
var ErrQueueFull = errors.New("analysis queue full")

// ErrDispatcherClosed is returned by Submit after Shutdown.
var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// errAbandoned is recorded on scans still waiting when a shutdown deadline
// cancels the workers.
var errAbandoned = errors.New("analysis abandoned at shutdown")

// Analyzer runs one analysis attempt.
type Analyzer interface {
	Analyze(ctx context.Context, scanID uuid.UUID) (*Result, error)
}

// FailureRecorder marks a scan as failed when it cannot be queued.
type FailureRecorder interface {
	MarkFailed(ctx context.Context, scanID uuid.UUID, status models.ScanStatus, reason string) error
}

// Failure describes a background analysis that did not complete.
type Failure struct {
	ScanID uuid.UUID
	Status models.ScanStatus
	Kind   apperr.Kind
	Err    error
	At     time.Time
}

// Dispatcher is a bounded worker pool for background analysis.
type Dispatcher struct {
	analyzer Analyzer
	recorder FailureRecorder
	logger   *zap.Logger

	queue    chan uuid.UUID
	failures chan Failure

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts workers goroutines reading from a queue of
// queueSize scans.
func NewDispatcher(analyzer Analyzer, recorder FailureRecorder, workers, queueSize int, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		analyzer: analyzer,
		recorder: recorder,
		logger:   logger.With(zap.String("service", "analysis-dispatcher")),
		queue:    make(chan uuid.UUID, queueSize),
		failures: make(chan Failure, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	return d
}

// Submit enqueues scanID without blocking. When the queue is full the scan
// is marked analysis_failed so it can be re-triggered later.
func (d *Dispatcher) Submit(scanID uuid.UUID) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- scanID:
		metrics.AnalysisQueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
	}

	metrics.AnalysisRejected.Inc()
	d.logger.Warn("analysis queue full", zap.String("scan_id", scanID.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.recorder.MarkFailed(ctx, scanID, models.ScanAnalysisFailed, ErrQueueFull.Error()); err != nil {
		d.logger.Error("failed to record queue rejection", zap.String("scan_id", scanID.String()), zap.Error(err))
	}
	d.report(Failure{
		ScanID: scanID,
		Status: models.ScanAnalysisFailed,
		Kind:   apperr.KindServiceUnavailable,
		Err:    ErrQueueFull,
		At:     time.Now(),
	})
	return ErrQueueFull
}

// Failures delivers background failures. Failures are dropped when nobody
// reads fast enough; they remain recorded on the scan.
func (d *Dispatcher) Failures() <-chan Failure {
	return d.failures
}

// Shutdown stops accepting work and waits for queued and in-flight
// analyses, or for ctx to end. The failure channel is closed afterwards.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		close(d.failures)
		return nil
	case <-ctx.Done():
		// abort in-flight attempts; queued scans are marked failed
		d.cancel()
		<-done
		close(d.failures)
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(n int) {
	defer d.wg.Done()
	logger := d.logger.With(zap.Int("worker", n))

	for scanID := range d.queue {
		metrics.AnalysisQueueDepth.Set(float64(len(d.queue)))
		d.process(logger, scanID)
	}
}

func (d *Dispatcher) process(logger *zap.Logger, scanID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("analysis panicked", zap.String("scan_id", scanID.String()), zap.Any("panic", r))
			d.report(Failure{
				ScanID: scanID,
				Kind:   apperr.KindInternal,
				Err:    errors.New("analysis panicked"),
				At:     time.Now(),
			})
		}
	}()

	if d.ctx.Err() != nil {
		d.abandon(logger, scanID, d.ctx.Err())
		return
	}

	_, err := d.analyzer.Analyze(d.ctx, scanID)
	if err == nil {
		return
	}

	f := Failure{ScanID: scanID, Kind: apperr.KindOf(err), Err: err, At: time.Now()}
	var ae *AnalysisError
	if errors.As(err, &ae) {
		f.Status = ae.Status
	} else if d.ctx.Err() != nil && f.Kind != apperr.KindConflict {
		// cancelled before the attempt claimed the scan
		d.abandon(logger, scanID, err)
		return
	}
	logger.Warn("background analysis did not complete",
		zap.String("scan_id", scanID.String()),
		zap.String("kind", string(f.Kind)),
		zap.Error(err),
	)
	d.report(f)
}

// abandon marks a scan that never got an attempt as analysis_failed so it
// can be re-triggered instead of staying queued.
func (d *Dispatcher) abandon(logger *zap.Logger, scanID uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(d.ctx), 5*time.Second)
	defer cancel()
	if err := d.recorder.MarkFailed(ctx, scanID, models.ScanAnalysisFailed, errAbandoned.Error()); err != nil {
		logger.Error("failed to record abandoned analysis", zap.String("scan_id", scanID.String()), zap.Error(err))
	}
	logger.Warn("analysis abandoned at shutdown", zap.String("scan_id", scanID.String()), zap.Error(cause))
	d.report(Failure{
		ScanID: scanID,
		Status: models.ScanAnalysisFailed,
		Kind:   apperr.KindServiceUnavailable,
		Err:    errors.Join(errAbandoned, cause),
		At:     time.Now(),
	})
}

func (d *Dispatcher) report(f Failure) {
	select {
	case d.failures <- f:
	default:
	}
}
