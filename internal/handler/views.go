package handler

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/nanoassist/dashboard/internal/domain"
	"github.com/nanoassist/dashboard/internal/service"
)

// Fragments patched into the dashboard page over SSE. They are plain
// components; every dynamic value goes through templ.EscapeString.

func profileFragment(p *domain.Profile) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<section id="profile">`)
		if p == nil {
			b.WriteString(`<p class="muted">Loading profile…</p></section>`)
			_, err := io.WriteString(w, b.String())
			return err
		}
		name := p.FullName
		if name == "" {
			name = p.Email
		}
		fmt.Fprintf(&b, `<h2>%s</h2><p class="email">%s</p><p class="role role-%s">%s</p>`,
			templ.EscapeString(name), templ.EscapeString(p.Email),
			templ.EscapeString(string(p.Role)), templ.EscapeString(string(p.Role)))
		b.WriteString(`<ul class="stores">`)
		for _, s := range p.Stores {
			fmt.Fprintf(&b, `<li>%s</li>`, templ.EscapeString(s))
		}
		b.WriteString(`</ul></section>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func recordingsFragment(page *service.RecordingPage, loc *time.Location) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<section id="recordings">`)
		if len(page.Records) == 0 {
			b.WriteString(`<p class="muted">No calls in this period.</p>`)
		} else {
			b.WriteString(`<table><thead><tr><th>Date</th><th>Phone</th><th>Direction</th><th>Duration</th><th>Status</th></tr></thead><tbody>`)
			for _, r := range page.Records {
				fmt.Fprintf(&b, `<tr id="recording-%d"><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>`,
					r.ID,
					r.CreatedAt.In(loc).Format("2006-01-02 15:04"),
					templ.EscapeString(r.PhoneNumber),
					templ.EscapeString(string(r.Direction)),
					formatDuration(r.DurationSeconds),
					templ.EscapeString(r.Status))
			}
			b.WriteString(`</tbody></table>`)
		}
		fmt.Fprintf(&b, `<p class="pager">Page %d of %d (%d calls)</p></section>`,
			page.Page, max(page.TotalPages, 1), page.Total)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func formatDuration(seconds *int) string {
	if seconds == nil {
		return "–"
	}
	return fmt.Sprintf("%d:%02d", *seconds/60, *seconds%60)
}
