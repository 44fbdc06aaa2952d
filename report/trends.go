package report

import (
	"strings"
	"time"

	"github.com/GoCodeAlone/pciledger/apperr"
	"github.com/GoCodeAlone/pciledger/audit"
)

// Period selects the length of a trend series.
type Period string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
)

// Days returns the number of daily buckets for p.
func (p Period) Days() int {
	switch p {
	case PeriodWeek:
		return 7
	case PeriodMonth:
		return 30
	case PeriodQuarter:
		return 90
	}
	return 0
}

// ParsePeriod parses a period name. Empty means week.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return PeriodWeek, nil
	}
	if p.Days() == 0 {
		return "", apperr.Validation("report.period", "unknown period %q (want week, month or quarter)", s)
	}
	return p, nil
}

// TrendPoint is one daily bucket.
type TrendPoint struct {
	Period        string  `json:"period"` // YYYY-MM-DD
	AAS           float64 `json:"aas"`
	Tasks         int     `json:"tasks"`
	AuditActivity int     `json:"auditActivity"`
}

// TrendData is a fixed-length series, oldest bucket first.
type TrendData struct {
	Trends []TrendPoint `json:"trends"`
}

const dayLayout = "2006-01-02"

// Trends buckets tasks by creation day and audit entries by timestamp over
// the p.Days() UTC days ending on now's day. Every bucket is present, with
// aas 0 when no scored task was created that day.
func Trends(snap Snapshot, p Period, now time.Time) TrendData {
	days := p.Days()
	if days == 0 {
		days = PeriodWeek.Days()
	}
	end := truncateDay(now)
	start := end.AddDate(0, 0, -(days - 1))

	points := make([]TrendPoint, days)
	aasSum := make([]float64, days)
	aasN := make([]int, days)
	for i := range points {
		points[i].Period = start.AddDate(0, 0, i).Format(dayLayout)
	}

	index := func(ts time.Time) (int, bool) {
		d := truncateDay(ts)
		if d.Before(start) || d.After(end) {
			return 0, false
		}
		// Calendar day difference; UTC has no DST so hours divide evenly.
		return int(d.Sub(start).Hours() / 24), true
	}

	for _, t := range snap.Tasks {
		if t == nil || t.Deleted {
			continue
		}
		i, ok := index(t.CreatedAt)
		if !ok {
			continue
		}
		points[i].Tasks++
		if t.AAS != nil {
			aasSum[i] += *t.AAS
			aasN[i]++
		}
	}
	for _, e := range audit.Committed(snap.Audit) {
		if i, ok := index(e.Timestamp); ok {
			points[i].AuditActivity++
		}
	}
	for i := range points {
		if aasN[i] > 0 {
			points[i].AAS = aasSum[i] / float64(aasN[i])
		}
	}
	return TrendData{Trends: points}
}

func truncateDay(ts time.Time) time.Time {
	u := ts.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
