package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/usorama/rad-engineer/internal/resume"
	"github.com/usorama/rad-engineer/internal/wave"
)

// Status styles
var (
	styleSucceeded = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	styleFailed = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true)

	styleSkipped = lipgloss.NewStyle().
			Foreground(lipgloss.Color("3"))

	styleMuted = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

var styleTitle = lipgloss.NewStyle().
	Bold(true).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("62")).
	Padding(0, 1)

func statusStyle(s wave.TaskStatus) lipgloss.Style {
	switch s {
	case wave.StatusSucceeded:
		return styleSucceeded
	case wave.StatusFailed:
		return styleFailed
	}
	return styleSkipped
}

func categoryStyle(c resume.Category) lipgloss.Style {
	switch c {
	case resume.CategoryReplay:
		return styleSucceeded
	case resume.CategoryDrifted:
		return styleFailed
	case resume.CategoryRerun:
		return styleSkipped
	}
	return styleMuted
}

func renderResult(w io.Writer, res *wave.WaveResult) {
	outcome := styleSucceeded.Render("succeeded")
	switch {
	case res.Cancelled:
		outcome = styleSkipped.Render("cancelled")
	case !res.Success:
		outcome = styleFailed.Render("failed")
	}

	fmt.Fprintln(w, styleTitle.Render(fmt.Sprintf("wave %s (%s)", res.WaveID, res.Mode)))
	for _, r := range res.Results {
		line := fmt.Sprintf("  %-24s %s", r.TaskID, statusStyle(r.Status).Render(string(r.Status)))
		switch {
		case r.Replayed:
			line += styleMuted.Render("  replayed")
		case r.Attempts > 0:
			line += styleMuted.Render(fmt.Sprintf("  %d attempt(s), %s", r.Attempts, r.Duration().Round(time.Millisecond)))
		}
		if r.Error != "" {
			line += styleMuted.Render("  " + r.Error)
		}
		fmt.Fprintln(w, line)
	}

	c := res.Counts
	fmt.Fprintf(w, "\n%s: %d succeeded, %d failed, %d skipped, %d replayed in %s\n",
		outcome, c.Succeeded, c.Failed, c.Skipped, c.Replayed,
		res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	if len(res.Drifted) > 0 {
		fmt.Fprintf(w, "drifted: %v\n", res.Drifted)
	}
	if len(res.Orphaned) > 0 {
		fmt.Fprintf(w, "orphaned checkpoint entries: %v\n", res.Orphaned)
	}
}

func renderPlan(w io.Writer, waveID string, p resume.Plan) {
	fmt.Fprintln(w, styleTitle.Render(fmt.Sprintf("wave %s (%s)", waveID, p.Mode)))
	if p.Reason != "" {
		fmt.Fprintln(w, styleMuted.Render(p.Reason))
	}
	for _, d := range p.Decisions {
		line := fmt.Sprintf("  %-24s %s", d.TaskID, categoryStyle(d.Category).Render(string(d.Category)))
		if d.Reason != "" {
			line += styleMuted.Render("  " + d.Reason)
		}
		fmt.Fprintln(w, line)
	}
	if len(p.Orphaned) > 0 {
		fmt.Fprintf(w, "orphaned checkpoint entries: %v\n", p.Orphaned)
	}
}

func renderState(w io.Writer, st *wave.WaveState) {
	fmt.Fprintln(w, styleTitle.Render("wave "+st.WaveID))
	fmt.Fprintln(w, styleMuted.Render(fmt.Sprintf("schema v%d, updated %s", st.SchemaVersion, st.UpdatedAt.Format(time.RFC3339))))

	ids := make([]string, 0, len(st.Completed))
	for id := range st.Completed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := st.Completed[id]
		fmt.Fprintf(w, "  %-24s %s\n", id, statusStyle(r.Status).Render(string(r.Status)))
	}
	for _, id := range st.InFlight {
		fmt.Fprintf(w, "  %-24s %s\n", id, styleSkipped.Render("in flight"))
	}
	for _, id := range st.Pending {
		fmt.Fprintf(w, "  %-24s %s\n", id, styleMuted.Render("pending"))
	}
}
