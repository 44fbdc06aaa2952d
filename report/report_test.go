package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/goleak"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/audit"
	"github.com/GoCodeAlone/pciledger/formula"
	"github.com/GoCodeAlone/pciledger/kv"
	"github.com/GoCodeAlone/pciledger/review"
	"github.com/GoCodeAlone/pciledger/settings"
	"github.com/GoCodeAlone/pciledger/task"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var now = time.Date(2026, 6, 15, 13, 30, 0, 0, time.UTC)

func ptr(v float64) *float64 { return &v }

func mkTask(id string, created time.Time, status task.AuditStatus, aas *float64, f formula.Factors) *task.Task {
	t := &task.Task{ID: id, Name: "task " + id, Factors: f, AAS: aas, AuditStatus: status, CreatedAt: created}
	t.Recompute()
	return t
}

func fixtureSnapshot() Snapshot {
	ref := formula.Factors{ISR: 5, CF: 1.4, UXI: 1.3, RCF: 1.5, AEP: 6, L: 1, MLW: 1.3, CGW: 1.2, RF: 1.2, S: 1.1, GLRI: 1.3}
	a := mkTask("a", now.Add(-48*time.Hour), task.StatusApproved, ptr(92), ref)
	a.AIVerifiedUnits = ptr(18)
	b := mkTask("b", now.Add(-24*time.Hour), task.StatusPending, ptr(70), formula.DefaultFactors())
	c := mkTask("c", now.Add(-time.Hour), task.StatusRejected, nil, formula.DefaultFactors())
	d := mkTask("d", now.Add(-2*time.Hour), task.StatusApproved, ptr(0), formula.DefaultFactors())
	gone := mkTask("gone", now.Add(-time.Hour), task.StatusApproved, ptr(10), ref)
	gone.Deleted = true

	entries := []*audit.Entry{
		{ID: "1", UserID: "alice", Action: audit.ActionCreate, EntityType: audit.EntityTask, EntityID: "a", Timestamp: now.Add(-48 * time.Hour)},
		{ID: "2", UserID: "bob", Action: audit.ActionApprove, EntityType: audit.EntityTask, EntityID: "a", Timestamp: now.Add(-47 * time.Hour)},
		{ID: "3", UserID: "alice", Action: audit.ActionCreate, EntityType: audit.EntityTask, EntityID: "b", Timestamp: now.Add(-24 * time.Hour)},
		{ID: "4", UserID: "alice", Action: audit.ActionFlag, EntityType: audit.EntityFlag, EntityID: "f1", Timestamp: now.Add(-time.Minute)},
	}
	flags := []*review.Flag{
		{ID: "f1", TaskID: "b", Status: review.FlagOpen},
		{ID: "f2", TaskID: "a", Status: review.FlagResolved},
	}
	return Snapshot{
		Tasks:    []*task.Task{a, b, c, d, gone},
		Audit:    entries,
		Flags:    flags,
		Settings: settings.Defaults("acme"),
	}
}

func TestGenerate_Summary(t *testing.T) {
	snap := fixtureSnapshot()
	r := Generate(snap, Filter{IncludeAudit: true}, now)

	s := r.Summary
	assert.Equal(t, 4, s.TotalTasks, "deleted tasks are excluded")
	assert.Equal(t, 2, s.ApprovedTasks)
	assert.Equal(t, 1, s.PendingTasks)
	assert.Equal(t, 1, s.RejectedTasks)
	assert.InDelta(t, 20.402+4+4+4, s.TotalPCI, 1e-9)
	assert.InDelta(t, (92.0+70+0)/3, s.AverageAAS, 1e-9, "tasks without aas are left out of the mean")
	assert.InDelta(t, 1800, s.VerifiedCost, 1e-9)
	assert.Equal(t, "USD", s.Currency)
	assert.Len(t, r.TaskBreakdown, 4)

	require.NotNil(t, r.AuditMetrics)
	assert.Equal(t, 4, r.AuditMetrics.TotalEntries)
	assert.Equal(t, 2, r.AuditMetrics.ByAction["create"])
	assert.Equal(t, 3, r.AuditMetrics.ByUser["alice"])
	assert.Equal(t, "4", r.AuditMetrics.Recent[0].ID, "most recent first")
}

func TestGenerate_CategoriesSumToTotalPCI(t *testing.T) {
	r := Generate(fixtureSnapshot(), Filter{}, now)
	assert.InDelta(t, r.Summary.TotalPCI, r.CategoryDistribution.Total(), 1e-9)
	assert.Nil(t, r.AuditMetrics)
}

func TestGenerate_Filter(t *testing.T) {
	snap := fixtureSnapshot()
	approved := task.StatusApproved
	r := Generate(snap, Filter{Status: &approved}, now)
	assert.Equal(t, 2, r.Summary.TotalTasks)

	start := now.Add(-3 * time.Hour)
	r = Generate(snap, Filter{StartDate: &start, IncludeAudit: true}, now)
	assert.Equal(t, 2, r.Summary.TotalTasks)
	assert.Equal(t, 1, r.AuditMetrics.TotalEntries)
}

func TestGenerate_Idempotent(t *testing.T) {
	snap := fixtureSnapshot()
	f := Filter{IncludeAudit: true}
	first := Generate(snap, f, now)
	for i := 0; i < 5; i++ {
		if diff := cmp.Diff(first, Generate(snap, f, now)); diff != "" {
			t.Fatalf("report changed between runs (-first +again):\n%s", diff)
		}
	}
}

func TestFilter_Validate(t *testing.T) {
	start, end := now, now.Add(-time.Hour)
	assert.ErrorIs(t, Filter{StartDate: &start, EndDate: &end}.Validate(), apperr.ErrValidation)
	bogus := task.AuditStatus("archived")
	assert.ErrorIs(t, Filter{Status: &bogus}.Validate(), apperr.ErrValidation)
	assert.NoError(t, Filter{}.Validate())
}

func TestComputeKPIs(t *testing.T) {
	k := ComputeKPIs(fixtureSnapshot()).KPIs
	assert.Equal(t, 4, k.TotalTasks)
	assert.InDelta(t, 2.0/4*100, k.ApprovalRate, 1e-9)
	assert.Equal(t, 1, k.TotalLowAAS, "only 0 < aas < 85 counts")
	assert.Equal(t, 1, k.OpenFlags)
	assert.InDelta(t, 32.402, k.TotalPCI, 1e-9)

	assert.Equal(t, KPIs{}, ComputeKPIs(Snapshot{}).KPIs)
}

func TestTrends(t *testing.T) {
	snap := fixtureSnapshot()
	for _, p := range []Period{PeriodWeek, PeriodMonth, PeriodQuarter} {
		got := Trends(snap, p, now).Trends
		require.Len(t, got, p.Days(), "period %s", p)
		assert.Equal(t, "2026-06-15", got[len(got)-1].Period)
	}

	week := Trends(snap, PeriodWeek, now).Trends
	assert.Equal(t, "2026-06-09", week[0].Period)
	assert.Zero(t, week[0].AAS)
	assert.Zero(t, week[0].Tasks)

	today := week[6]
	assert.Equal(t, 2, today.Tasks, "c and d were created today")
	assert.Equal(t, 0.0, today.AAS, "d has aas 0, c has none")
	assert.Equal(t, 1, today.AuditActivity)

	yesterday := week[5]
	assert.Equal(t, 1, yesterday.Tasks)
	assert.Equal(t, 70.0, yesterday.AAS)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, PeriodWeek, p)
	p, err = ParsePeriod("Quarter")
	require.NoError(t, err)
	assert.Equal(t, PeriodQuarter, p)
	_, err = ParsePeriod("year")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestWriteCSV(t *testing.T) {
	snap := fixtureSnapshot()
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, snap.Tasks))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5, "header plus four live tasks")
	assert.Equal(t, CSVHeader, records[0])
	assert.Len(t, records[0], 16)

	first := records[1]
	assert.Equal(t, "task a", first[0])
	assert.Equal(t, "5.00", first[1])
	assert.Equal(t, "20.40", first[12])
	assert.Equal(t, "18.00", first[13])
	assert.Equal(t, "92.00", first[14])
	assert.Equal(t, "approved", first[15])

	var again bytes.Buffer
	require.NoError(t, WriteCSV(&again, snap.Tasks))
	records2, _ := csv.NewReader(&again).ReadAll()
	assert.Equal(t, records, records2)
}

func TestWriteXLSX(t *testing.T) {
	snap := fixtureSnapshot()
	r := Generate(snap, Filter{}, now)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, r, snap.Tasks))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SheetTasks, SheetSummary, SheetCategories}, f.GetSheetList())

	rows, err := f.GetRows(SheetTasks)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	assert.Equal(t, "name", rows[0][0])

	v, err := f.GetCellValue(SheetSummary, "B3")
	require.NoError(t, err)
	assert.Equal(t, "4", v)
}

// fakeSources serve a fixed snapshot to the aggregator.
type fakeSources struct {
	snap    Snapshot
	listErr error
}

func (f fakeSources) List(context.Context, task.Filter) ([]*task.Task, error) {
	return f.snap.Tasks, f.listErr
}

func (f fakeSources) ListFlags(context.Context, review.FlagFilter) ([]*review.Flag, error) {
	return f.snap.Flags, nil
}

func (f fakeSources) Get(context.Context, string) (settings.Settings, error) {
	return f.snap.Settings, nil
}

func newAuditStore(t *testing.T, entries []*audit.Entry) audit.Store {
	t.Helper()
	s := audit.NewKVStore(kv.NewMemoryStore())
	for _, e := range entries {
		require.NoError(t, s.Append(context.Background(), e))
	}
	return s
}

func TestAggregator_Dashboard(t *testing.T) {
	ctx := context.Background()
	snap := fixtureSnapshot()
	src := fakeSources{snap: snap}
	agg := NewAggregator(src, newAuditStore(t, snap.Audit), src, src, nil, WithClock(func() time.Time { return now }))

	d, err := agg.Dashboard(ctx, "acme", Filter{IncludeAudit: true}, PeriodWeek)
	require.NoError(t, err)

	if diff := cmp.Diff(Generate(snap, Filter{IncludeAudit: true}, now).Summary, d.Report.Summary); diff != "" {
		t.Errorf("dashboard report differs (-want +got):\n%s", diff)
	}
	assert.Len(t, d.Trends.Trends, 7)
	assert.Equal(t, ComputeKPIs(snap), d.KPIs)

	sv, err := agg.GetSavings(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, d.Report.Summary.Savings, sv)
}

func TestAggregator_PropagatesErrors(t *testing.T) {
	ctx := context.Background()
	boom := apperr.Storage("test", fmt.Errorf("offline"))
	src := fakeSources{snap: fixtureSnapshot(), listErr: boom}
	agg := NewAggregator(src, newAuditStore(t, nil), src, src, nil)

	_, err := agg.GetKPIs(ctx, "acme")
	assert.ErrorIs(t, err, apperr.ErrStorage)

	start, end := now, now.Add(-time.Hour)
	_, err = agg.GenerateReport(ctx, "acme", Filter{StartDate: &start, EndDate: &end})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRolledBackEntriesAreExcluded(t *testing.T) {
	snap := fixtureSnapshot()
	snap.Audit = append(snap.Audit,
		&audit.Entry{ID: "5", UserID: "bob", Action: audit.ActionApprove, EntityType: audit.EntityTask, EntityID: "b", Timestamp: now.Add(-30 * time.Minute)},
		&audit.Entry{ID: "6", UserID: "bob", Action: audit.ActionApprove, EntityType: audit.EntityTask, EntityID: "b", Timestamp: now.Add(-30 * time.Minute),
			Metadata: map[string]string{audit.MetaEvent: audit.EventRolledBack, audit.MetaRolledBackOf: "5"}},
	)

	m := Generate(snap, Filter{IncludeAudit: true}, now).AuditMetrics
	assert.Equal(t, 4, m.TotalEntries)
	assert.Equal(t, 1, m.ByAction["approve"])
	assert.Equal(t, 1, m.ByUser["bob"])

	week := Trends(snap, PeriodWeek, now).Trends
	assert.Equal(t, 1, week[6].AuditActivity)
}

func TestComputeKPIs_IgnoresFlagsOnDeletedTasks(t *testing.T) {
	snap := fixtureSnapshot()
	snap.Flags = append(snap.Flags, &review.Flag{ID: "f3", TaskID: "gone", Status: review.FlagOpen})
	assert.Equal(t, 1, ComputeKPIs(snap).KPIs.OpenFlags)
}

func TestWriteCSV_QuotesFormulaNames(t *testing.T) {
	var tasks []*task.Task
	for i, name := range []string{"=HYPERLINK(\"x\")", "+1", "-2", "@SUM(A1)", "plain"} {
		tk := mkTask(fmt.Sprintf("t%d", i), now.Add(time.Duration(i)*time.Minute), task.StatusPending, nil, formula.DefaultFactors())
		tk.Name = name
		tasks = append(tasks, tk)
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tasks))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)

	var names []string
	for _, r := range records[1:] {
		names = append(names, r[0])
	}
	want := []string{"'=HYPERLINK(\"x\")", "'+1", "'-2", "'@SUM(A1)", "plain"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
}
