/*
scheduler.go - Periodic integrity scan

PURPOSE:
  Periodically scans all Sales for references that no longer resolve and
  keeps the latest report for GET /api/integrity. On a healthy backend the
  report is always clean; a dangling reference means something wrote
  around the services (manual SQL, a partial DynamoDB restore).

DESIGN:
  - One goroutine per Start; Stop cancels an in-flight scan and joins it
  - First scan right after Start, then one per CheckInterval
  - A failed scan is logged; LastReport keeps the previous result

CONFIGURATION:
  - CheckInterval: default 1 hour, from integrity.interval
  - Enabled: false from NewIntegrityScheduler; serve sets it from
    integrity.enabled

USAGE:
  scheduler := NewIntegrityScheduler(services.Scanner, logger)
  scheduler.CheckInterval = cfg.Integrity.Interval
  scheduler.Enabled = true
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GetIntegrityReport, RunIntegrityScan endpoints
  - retail/scan.go: Scanner
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/retail-records/retail"
)

// IntegrityScheduler runs integrity scans on an interval.
type IntegrityScheduler struct {
	Scanner       *retail.Scanner
	CheckInterval time.Duration
	Enabled       bool
	Logger        *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex

	reportMu sync.RWMutex
	last     *retail.Report
}

// NewIntegrityScheduler creates a disabled scheduler over scanner.
func NewIntegrityScheduler(scanner *retail.Scanner, logger *slog.Logger) *IntegrityScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityScheduler{
		Scanner:       scanner,
		CheckInterval: 1 * time.Hour,
		Logger:        logger,
	}
}

// Start begins the scheduler. Starting a running scheduler is a no-op.
func (s *IntegrityScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("[Integrity] Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}
	if s.CheckInterval <= 0 {
		s.Logger.Warn("[Integrity] Non-positive interval, not starting", "interval", s.CheckInterval)
		return
	}

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(ctx, s.ticker, s.stop)

	s.Logger.Info("[Integrity] Started", "interval", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight scan to finish.
func (s *IntegrityScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.cancel()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("[Integrity] Stopped")
}

func (s *IntegrityScheduler) run(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.scan(ctx)

	for {
		select {
		case <-ticker.C:
			s.scan(ctx)
		case <-stop:
			return
		}
	}
}

func (s *IntegrityScheduler) scan(ctx context.Context) {
	if _, err := s.RunNow(ctx); err != nil && ctx.Err() == nil {
		s.Logger.Error("[Integrity] Scan failed", "err", err)
	}
}

// RunNow performs a scan immediately and records its report.
func (s *IntegrityScheduler) RunNow(ctx context.Context) (*retail.Report, error) {
	report, err := s.Scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}

	s.reportMu.Lock()
	s.last = report
	s.reportMu.Unlock()

	if !report.Clean() {
		s.Logger.Warn("[Integrity] Dangling references found",
			"scan", report.ID,
			"orphans", len(report.Orphans))
	}
	return report, nil
}

// LastReport returns the most recent successful scan, or nil.
func (s *IntegrityScheduler) LastReport() *retail.Report {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	return s.last
}

// GetNextRunTime returns when the next scheduled check will occur.
func (s *IntegrityScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(s.CheckInterval)
}
