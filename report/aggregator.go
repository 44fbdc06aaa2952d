package report

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/pciledger/audit"
	"github.com/GoCodeAlone/pciledger/metrics"
	"github.com/GoCodeAlone/pciledger/review"
	"github.com/GoCodeAlone/pciledger/savings"
	"github.com/GoCodeAlone/pciledger/settings"
	"github.com/GoCodeAlone/pciledger/task"
)

// TaskLister lists tasks.
type TaskLister interface {
	List(ctx context.Context, filter task.Filter) ([]*task.Task, error)
}

// FlagLister lists flags.
type FlagLister interface {
	ListFlags(ctx context.Context, filter review.FlagFilter) ([]*review.Flag, error)
}

// SettingsSource resolves an account's settings.
type SettingsSource interface {
	Get(ctx context.Context, accountID string) (settings.Settings, error)
}

// Aggregator loads snapshots and runs the report functions over them.
type Aggregator struct {
	tasks    TaskLister
	audit    audit.Store
	flags    FlagLister
	settings SettingsSource
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMetrics records report durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithClock overrides the time source used for GeneratedAt and trend windows.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an Aggregator.
func NewAggregator(tasks TaskLister, auditStore audit.Store, flags FlagLister, st SettingsSource, logger *slog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		tasks:    tasks,
		audit:    auditStore,
		flags:    flags,
		settings: st,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Snapshot loads tasks, audit entries, flags and settings concurrently.
func (a *Aggregator) Snapshot(ctx context.Context, accountID string) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Tasks, err = a.tasks.List(gctx, task.Filter{})
		return err
	})
	g.Go(func() error {
		var err error
		snap.Audit, err = a.audit.List(gctx, audit.Query{})
		return err
	})
	g.Go(func() error {
		var err error
		snap.Flags, err = a.flags.ListFlags(gctx, review.FlagFilter{})
		return err
	})
	g.Go(func() error {
		var err error
		snap.Settings, err = a.settings.Get(gctx, accountID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// GenerateReport validates f and builds a report.
func (a *Aggregator) GenerateReport(ctx context.Context, accountID string, f Filter) (ReportData, error) {
	if err := f.Validate(); err != nil {
		return ReportData{}, err
	}
	defer a.metrics.ObserveReport("report", time.Now())
	snap, err := a.Snapshot(ctx, accountID)
	if err != nil {
		return ReportData{}, err
	}
	return Generate(snap, f, a.now()), nil
}

// GetTrends builds the trend series for p.
func (a *Aggregator) GetTrends(ctx context.Context, accountID string, p Period) (TrendData, error) {
	defer a.metrics.ObserveReport("trends", time.Now())
	snap, err := a.Snapshot(ctx, accountID)
	if err != nil {
		return TrendData{}, err
	}
	return Trends(snap, p, a.now()), nil
}

// GetKPIs builds the KPI snapshot.
func (a *Aggregator) GetKPIs(ctx context.Context, accountID string) (KPIData, error) {
	defer a.metrics.ObserveReport("kpis", time.Now())
	snap, err := a.Snapshot(ctx, accountID)
	if err != nil {
		return KPIData{}, err
	}
	return ComputeKPIs(snap), nil
}

// GetSavings computes the savings breakdown over all live tasks.
func (a *Aggregator) GetSavings(ctx context.Context, accountID string) (savings.Breakdown, error) {
	defer a.metrics.ObserveReport("savings", time.Now())
	snap, err := a.Snapshot(ctx, accountID)
	if err != nil {
		return savings.Breakdown{}, err
	}
	return savings.Compute(snap.Tasks, snap.Settings), nil
}

// Dashboard is the combined payload of one dashboard load.
type Dashboard struct {
	Report ReportData `json:"report"`
	Trends TrendData  `json:"trends"`
	KPIs   KPIData    `json:"kpis"`
}

// Dashboard runs the report, trends and KPIs concurrently over one snapshot.
func (a *Aggregator) Dashboard(ctx context.Context, accountID string, f Filter, p Period) (Dashboard, error) {
	if err := f.Validate(); err != nil {
		return Dashboard{}, err
	}
	defer a.metrics.ObserveReport("dashboard", time.Now())
	snap, err := a.Snapshot(ctx, accountID)
	if err != nil {
		return Dashboard{}, err
	}
	now := a.now()

	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.Report = Generate(snap, f, now)
		return gctx.Err()
	})
	g.Go(func() error {
		d.Trends = Trends(snap, p, now)
		return gctx.Err()
	})
	g.Go(func() error {
		d.KPIs = ComputeKPIs(snap)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	a.logger.Debug("dashboard built", "tasks", len(snap.Tasks), "audit_entries", len(snap.Audit))
	return d, nil
}

// Export loads the report and the live tasks for an export.
func (a *Aggregator) Export(ctx context.Context, accountID string, f Filter) (ReportData, []*task.Task, error) {
	if err := f.Validate(); err != nil {
		return ReportData{}, nil, err
	}
	defer a.metrics.ObserveReport("export", time.Now())
	snap, err := a.Snapshot(ctx, accountID)
	if err != nil {
		return ReportData{}, nil, err
	}
	return Generate(snap, f, a.now()), FilterTasks(snap.Tasks, f), nil
}
