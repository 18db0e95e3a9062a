package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeps drives the two periodic jobs: gateway-session reconciliation
// and the overdue-borrowings report.
type Sweeps struct {
	svc Service
	cfg Config
	log *zap.Logger
}

type Service interface {
	ReconcileExpiredSessions(ctx context.Context) error
	ComposeOverdueReport(ctx context.Context) error
}

type Config struct {
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"10m"`
	ReportInterval    time.Duration `envconfig:"REPORT_INTERVAL" default:"24h"`
}

func New(svc Service, cfg Config, log *zap.Logger) *Sweeps {
	return &Sweeps{
		svc: svc,
		cfg: cfg,
		log: log.Named("worker"),
	}
}

// Run blocks until ctx is canceled. A failed sweep is logged and the
// next tick runs regardless.
func (w *Sweeps) Run(ctx context.Context) {
	reconcile := time.NewTicker(w.cfg.ReconcileInterval)
	defer reconcile.Stop()
	report := time.NewTicker(w.cfg.ReportInterval)
	defer report.Stop()

	for {
		select {
		case <-reconcile.C:
			if err := w.svc.ReconcileExpiredSessions(ctx); err != nil {
				w.log.Error("reconcile expired sessions", zap.Error(err))
			}
		case <-report.C:
			if err := w.svc.ComposeOverdueReport(ctx); err != nil {
				w.log.Error("compose overdue report", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
