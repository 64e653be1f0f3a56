package reporter

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lereldarion/xstalker/internal/models"
	"github.com/lereldarion/xstalker/internal/query"
)

// Reporter handles report generation
type Reporter struct {
	query *query.Service
}

// New creates a new reporter
func New(q *query.Service) *Reporter {
	return &Reporter{query: q}
}

// GenerateReport generates a report for the specified period
func (r *Reporter) GenerateReport(periodType string) (*models.Report, error) {
	period, err := periodFor(periodType, time.Now())
	if err != nil {
		return nil, err
	}
	return r.GenerateReportFor(period)
}

// GenerateReportFor generates a report over an explicit period.
func (r *Reporter) GenerateReportFor(period *models.ReportPeriod) (*models.Report, error) {
	totals, err := r.query.Totals(period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query category totals: %w", err)
	}

	summaries := make([]models.CategorySummary, 0, len(totals))
	var totalSeconds float64
	for category, d := range totals {
		seconds := d.Seconds()
		summaries = append(summaries, models.CategorySummary{
			Category:     category,
			TotalSeconds: seconds,
			TotalMinutes: seconds / 60.0,
			TotalHours:   seconds / 3600.0,
		})
		totalSeconds += seconds
	}

	// Largest first; ties resolved by name for stable output.
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].TotalSeconds != summaries[j].TotalSeconds {
			return summaries[i].TotalSeconds > summaries[j].TotalSeconds
		}
		return summaries[i].Category < summaries[j].Category
	})

	if totalSeconds > 0 {
		for i := range summaries {
			summaries[i].Percentage = (summaries[i].TotalSeconds / totalSeconds) * 100.0
		}
	}

	return &models.Report{
		Period:       *period,
		Categories:   summaries,
		TotalSeconds: totalSeconds,
		TotalHours:   totalSeconds / 3600.0,
		GeneratedAt:  time.Now(),
	}, nil
}

// periodFor calculates the time range for the report
func periodFor(periodType string, now time.Time) (*models.ReportPeriod, error) {
	var start, end time.Time

	switch periodType {
	case "day", "today":
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		end = start.Add(24 * time.Hour)

	case "week":
		// Start of week (Monday)
		weekday := int(now.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday = 7
		}
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(weekday - 1))
		end = start.AddDate(0, 0, 7)

	case "month":
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		end = start.AddDate(0, 1, 0)

	default:
		return nil, fmt.Errorf("invalid period type: %s (valid: day, week, month)", periodType)
	}

	return &models.ReportPeriod{
		Start: start,
		End:   end,
		Type:  periodType,
	}, nil
}

// FormatReportText formats the report as human-readable text
func (r *Reporter) FormatReportText(report *models.Report) string {
	output := fmt.Sprintf("Activity Report - %s\n", report.Period.Type)
	output += fmt.Sprintf("Period: %s to %s\n",
		report.Period.Start.Format("2006-01-02 15:04"),
		report.Period.End.Format("2006-01-02 15:04"))
	output += fmt.Sprintf("Total Time: %.2fh (%.0fm)\n\n", report.TotalHours, report.TotalSeconds/60.0)

	if len(report.Categories) == 0 {
		output += "No activity recorded for this period.\n"
		return output
	}

	output += fmt.Sprintf("%-30s %10s %10s %10s\n", "Category", "Hours", "Minutes", "Percent")
	output += fmt.Sprintf("%s\n", "--------------------------------------------------------------------------------")

	for _, cat := range report.Categories {
		output += fmt.Sprintf("%-30s %10.2f %10.0f %9.1f%%\n",
			truncate(cat.Category, 30),
			cat.TotalHours,
			cat.TotalMinutes,
			cat.Percentage)
	}

	return output
}

// FormatReportJSON formats the report as JSON
func (r *Reporter) FormatReportJSON(report *models.Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// truncate truncates a string to the specified length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
