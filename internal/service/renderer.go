package service

import (
	"fmt"
	"strings"

	"github.com/nanoassist/dashboard/internal/domain"
)

// barWidth is the width of the longest bar in a rendered chart.
const barWidth = 40

// RenderProfileText renders the authorization context of a user as text.
func RenderProfileText(p *domain.Profile) string {
	if p == nil {
		return "profile: unresolved"
	}

	var sb strings.Builder
	name := p.FullName
	if name == "" {
		name = p.Email
	}
	fmt.Fprintf(&sb, "%s <%s>\n", name, p.Email)
	fmt.Fprintf(&sb, "role: %s\n", p.Role)

	stores := "none"
	if len(p.Stores) > 0 {
		stores = strings.Join(p.Stores, ", ")
	}
	fmt.Fprintf(&sb, "stores: %s", stores)
	return sb.String()
}

// RenderChartText renders a chart series as one labelled bar per bucket,
// scaled to the busiest bucket. Snapshot counters are appended when any
// bucket carries them.
func RenderChartText(store string, period domain.Period, points []domain.ChartPoint) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s)\n", store, period)
	if len(points) == 0 {
		sb.WriteString("no data")
		return sb.String()
	}

	maxCalls, labelWidth, withSnapshots := 0, 0, false
	for _, p := range points {
		maxCalls = max(maxCalls, p.Calls)
		labelWidth = max(labelWidth, len(p.Label))
		if p.Orders > 0 || p.Drafts > 0 || p.Sales > 0 {
			withSnapshots = true
		}
	}

	lines := make([]string, 0, len(points))
	for _, p := range points {
		line := fmt.Sprintf("%-*s %5d %s", labelWidth, p.Label, p.Calls, bar(p.Calls, maxCalls))
		if withSnapshots {
			line = fmt.Sprintf("%s  orders=%d drafts=%d sales=%.2f", strings.TrimRight(line, " "), p.Orders, p.Drafts, p.Sales)
		}
		lines = append(lines, strings.TrimRight(line, " "))
	}
	sb.WriteString(strings.Join(lines, "\n"))
	return sb.String()
}

// RenderMetricText renders the headline numbers of a snapshot.
func RenderMetricText(m *domain.MetricSnapshot) string {
	if m == nil {
		return "metrics: none recorded"
	}
	return fmt.Sprintf(
		"metrics %s (%s)\ncalls: %d (in %d, out %d)\nconversion: %.1f%%\norders: %d confirmed of %d\nsales: %.2f\nminutes: %.1f",
		m.StoreName, m.CreatedAt.Format(dateKeyLayout),
		m.TotalCalls, m.ReceivedCalls, m.InitiatedCalls,
		m.ConversionRate,
		m.ConfirmedOrders, m.TotalOrders,
		m.GeneratedSales,
		m.MinutesConsumed,
	)
}

func bar(n, maxN int) string {
	if n <= 0 || maxN <= 0 {
		return ""
	}
	w := n * barWidth / maxN
	if w == 0 {
		w = 1
	}
	return strings.Repeat("#", w)
}
