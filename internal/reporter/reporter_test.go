package reporter

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lereldarion/xstalker/internal/aggregate"
	"github.com/lereldarion/xstalker/internal/database"
	"github.com/lereldarion/xstalker/internal/models"
	"github.com/lereldarion/xstalker/internal/query"
)

func testReporter(t *testing.T, fill func(*aggregate.Table)) *Reporter {
	t.Helper()
	db, err := database.Connect(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { _ = db.Close() })

	table := aggregate.NewTable(time.Hour)
	if fill != nil {
		fill(table)
	}
	return New(query.NewService(database.NewRepository(db), table))
}

func TestPeriodFor(t *testing.T) {
	// A Wednesday afternoon.
	now := time.Date(2025, 3, 12, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		periodType string
		wantStart  time.Time
		wantEnd    time.Time
	}{
		{
			periodType: "day",
			wantStart:  time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
			wantEnd:    time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC),
		},
		{
			periodType: "today",
			wantStart:  time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
			wantEnd:    time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC),
		},
		{
			periodType: "week",
			wantStart:  time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), // Monday
			wantEnd:    time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			periodType: "month",
			wantStart:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:    time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.periodType, func(t *testing.T) {
			period, err := periodFor(tt.periodType, now)
			require.NoError(t, err)
			assert.True(t, period.Start.Equal(tt.wantStart), "start: got %v", period.Start)
			assert.True(t, period.End.Equal(tt.wantEnd), "end: got %v", period.End)
			assert.Equal(t, tt.periodType, period.Type)
		})
	}
}

func TestPeriodForSundayBelongsToCurrentWeek(t *testing.T) {
	sunday := time.Date(2025, 3, 16, 10, 0, 0, 0, time.UTC)

	period, err := periodFor("week", sunday)
	require.NoError(t, err)
	assert.True(t, period.Start.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)))
}

func TestPeriodForInvalidType(t *testing.T) {
	_, err := periodFor("fortnight", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid period type")
}

func TestGenerateReportFor(t *testing.T) {
	base := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	r := testReporter(t, func(table *aggregate.Table) {
		table.Apply(aggregate.Fold("code", base, base.Add(90*time.Minute), time.Hour))
		table.Apply(aggregate.Fold("web", base.Add(2*time.Hour), base.Add(2*time.Hour+30*time.Minute), time.Hour))
	})

	report, err := r.GenerateReportFor(&models.ReportPeriod{
		Start: time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC),
		Type:  "day",
	})
	require.NoError(t, err)

	require.Len(t, report.Categories, 2)
	assert.Equal(t, "code", report.Categories[0].Category)
	assert.Equal(t, 90*60.0, report.Categories[0].TotalSeconds)
	assert.InDelta(t, 75.0, report.Categories[0].Percentage, 0.001)
	assert.Equal(t, "web", report.Categories[1].Category)
	assert.InDelta(t, 25.0, report.Categories[1].Percentage, 0.001)

	assert.Equal(t, 120*60.0, report.TotalSeconds)
	assert.InDelta(t, 2.0, report.TotalHours, 0.001)
}

func TestGenerateReportForEmptyPeriod(t *testing.T) {
	r := testReporter(t, nil)

	report, err := r.GenerateReportFor(&models.ReportPeriod{
		Start: time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC),
		Type:  "day",
	})
	require.NoError(t, err)
	assert.Empty(t, report.Categories)
	assert.Equal(t, 0.0, report.TotalSeconds)

	text := r.FormatReportText(report)
	assert.Contains(t, text, "No activity recorded")
}

func TestFormatReportText(t *testing.T) {
	r := testReporter(t, nil)

	report := &models.Report{
		Period: models.ReportPeriod{
			Start: time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC),
			Type:  "day",
		},
		Categories: []models.CategorySummary{
			{Category: "code", TotalSeconds: 5400, TotalMinutes: 90, TotalHours: 1.5, Percentage: 75},
			{Category: "a-very-long-category-name-that-keeps-going", TotalSeconds: 1800, TotalMinutes: 30, TotalHours: 0.5, Percentage: 25},
		},
		TotalSeconds: 7200,
		TotalHours:   2,
	}

	text := r.FormatReportText(report)
	assert.Contains(t, text, "Activity Report - day")
	assert.Contains(t, text, "Total Time: 2.00h (120m)")
	assert.Contains(t, text, "Category")
	assert.Contains(t, text, "code")
	assert.Contains(t, text, "75.0%")
	// Long names are truncated to fit the column.
	assert.Contains(t, text, "a-very-long-category-name-t...")
}

func TestFormatReportJSON(t *testing.T) {
	base := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	r := testReporter(t, func(table *aggregate.Table) {
		table.Apply(aggregate.Fold("code", base, base.Add(time.Hour), time.Hour))
	})

	report, err := r.GenerateReportFor(&models.ReportPeriod{
		Start: time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC),
		Type:  "day",
	})
	require.NoError(t, err)

	out, err := r.FormatReportJSON(report)
	require.NoError(t, err)

	var decoded models.Report
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.Categories, 1)
	assert.Equal(t, "code", decoded.Categories[0].Category)
	assert.Equal(t, 3600.0, decoded.Categories[0].TotalSeconds)
}
