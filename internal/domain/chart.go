package domain

import "fmt"

// Period selects the time window of a chart series.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown period %q", ErrInvalidInput, s)
}

// BucketCount returns the fixed number of points a series for the period has.
func (p Period) BucketCount() int {
	switch p {
	case PeriodDay:
		return 24
	case PeriodWeek:
		return 8
	case PeriodMonth:
		return 31
	}
	return 0
}

// ChartPoint is one bucket of an aggregated chart series.
type ChartPoint struct {
	Key    string  `json:"fullDate"` // "HH:00" or "YYYY-MM-DD"; sorts chronologically
	Label  string  `json:"name"`
	Calls  int     `json:"calls"`
	Orders int     `json:"orders"`
	Drafts int     `json:"drafts"`
	Sales  float64 `json:"sales"`
}
