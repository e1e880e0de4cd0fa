package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/syui/aigpt/internal/client"
	"github.com/syui/aigpt/internal/engine"
	"github.com/syui/aigpt/internal/fortune"
	"github.com/syui/aigpt/internal/relationship"
	"github.com/syui/aigpt/internal/scheduler"
	"github.com/syui/aigpt/internal/store"
	"github.com/syui/aigpt/internal/transmission"
)

const timeLayout = "2006-01-02 15:04"

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func statusColor(s relationship.Status) *color.Color {
	switch s {
	case relationship.CloseFriend:
		return color.New(color.FgHiGreen)
	case relationship.Friend:
		return color.New(color.FgGreen)
	case relationship.Acquaintance:
		return color.New(color.FgCyan)
	case relationship.Broken:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgWhite)
	}
}

func moodColor(m fortune.Mood) *color.Color {
	switch m {
	case fortune.Energetic:
		return color.New(color.FgHiMagenta)
	case fortune.Optimistic:
		return color.New(color.FgYellow)
	case fortune.Contemplative:
		return color.New(color.FgBlue)
	default:
		return color.New(color.FgWhite)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func printFortune(w io.Writer, f client.FortuneResponse) {
	fmt.Fprintf(w, "Fortune %s: %d/10\n", f.Fortune.Date, f.Fortune.Value)
	fmt.Fprintf(w, "Mood:    %s (%s)\n", moodColor(f.Mood).Sprint(f.Mood), f.MoodDescription)
	if f.Fortune.Breakthrough {
		fmt.Fprintln(w, color.New(color.FgHiMagenta, color.Bold).Sprint("Breakthrough day"))
	}
}

func printRelationship(w io.Writer, r relationship.Relationship) {
	tw := newTable(w)
	fmt.Fprintf(tw, "User:\t%s\n", r.UserID)
	fmt.Fprintf(tw, "Status:\t%s\n", statusColor(r.Status).Sprint(r.Status))
	fmt.Fprintf(tw, "Score:\t%.2f (threshold %.0f)\n", r.Score, r.Threshold)
	fmt.Fprintf(tw, "Interactions:\t%d (+%d / -%d), %d today\n",
		r.TotalInteractions, r.PositiveInteractions, r.NegativeInteractions, r.DailyInteractionCount)
	fmt.Fprintf(tw, "Transmission:\t%s\n", onOff(r.TransmissionEnabled))
	fmt.Fprintf(tw, "Last interaction:\t%s\n", formatTime(r.LastInteraction))
	fmt.Fprintf(tw, "Last transmission:\t%s\n", formatTime(r.LastTransmission))
	tw.Flush()
}

func printStatus(w io.Writer, st engine.Status) {
	printFortune(w, client.FortuneResponse{Fortune: st.Fortune, Mood: st.Mood, MoodDescription: st.MoodDescription})
	fmt.Fprintf(w, "Relationships: %d total, %d active, %d broken, average score %.2f\n",
		st.Relationships.Total, st.Relationships.Active, st.Relationships.Broken, st.Relationships.AverageScore)
	fmt.Fprintf(w, "Transmissions: %d total, %d today, %.0f%% successful\n",
		st.Transmissions.Total, st.Transmissions.Today, st.Transmissions.SuccessRate*100)
	maint := "pending"
	if st.MaintenanceDone {
		maint = "done"
	}
	fmt.Fprintf(w, "Maintenance:   %s today\n", maint)
	if st.Relationship != nil {
		fmt.Fprintln(w)
		printRelationship(w, *st.Relationship)
	}
}

func printRelationships(w io.Writer, rels []relationship.Relationship, st relationship.Stats) {
	if len(rels) == 0 {
		fmt.Fprintln(w, "No relationships yet.")
		return
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].Score > rels[j].Score })

	tw := newTable(w)
	fmt.Fprintln(tw, "USER\tSTATUS\tSCORE\tINTERACTIONS\tTRANSMIT\tLAST SEEN")
	for _, r := range rels {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%s\t%s\n",
			r.UserID, statusColor(r.Status).Sprint(r.Status), r.Score,
			r.TotalInteractions, onOff(r.TransmissionEnabled), formatTime(r.LastInteraction))
	}
	tw.Flush()

	var parts []string
	for _, s := range relationship.Statuses {
		if n := st.ByStatus[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", s, n))
		}
	}
	fmt.Fprintf(w, "\n%d relationships: %s\n", st.Total, strings.Join(parts, ", "))
}

func printIngest(w io.Writer, res relationship.IngestResult) {
	r := res.Relationship
	if res.Capped {
		fmt.Fprintf(w, "%s: daily limit reached, score unchanged at %.2f\n", r.UserID, r.Score)
		return
	}
	fmt.Fprintf(w, "%s: %+.2f -> %.2f (%s)\n", r.UserID, res.Delta, r.Score, statusColor(r.Status).Sprint(r.Status))
}

func printTransmissions(w io.Writer, logs []transmission.Log) {
	if len(logs) == 0 {
		fmt.Fprintln(w, "No transmissions.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "TIME\tUSER\tKIND\tMESSAGE")
	for _, l := range logs {
		msg := l.Message
		if l.Fallback {
			msg += color.New(color.Faint).Sprint(" (fallback)")
		}
		if !l.Success {
			msg = color.New(color.FgRed).Sprintf("failed: %s", l.Error)
		}
		ts := l.Timestamp
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", formatTime(&ts), l.UserID, l.Kind, msg)
	}
	tw.Flush()
}

func printMemories(w io.Writer, userID string, mems []store.Memory) {
	if len(mems) == 0 {
		fmt.Fprintf(w, "No memories of %s.\n", userID)
		return
	}
	faint := color.New(color.Faint)
	for i, m := range mems {
		if i > 0 {
			fmt.Fprintln(w)
		}
		ts := m.CreatedAt
		faint.Fprintf(w, "%s  importance %.2f\n", formatTime(&ts), m.Importance)
		fmt.Fprintln(w, m.Content)
	}
}

func printTick(w io.Writer, rep engine.TickReport) {
	for _, ex := range rep.Executions {
		mark := color.New(color.FgGreen).Sprint("ok")
		detail := ex.Result
		if !ex.Success {
			mark = color.New(color.FgRed).Sprint("failed")
			detail = ex.Error
		}
		fmt.Fprintf(w, "%-24s %s  %s\n", ex.Kind, mark, detail)
	}
	if rep.Decay != nil {
		fmt.Fprintf(w, "decay: %d relationships, %d lost transmission\n", rep.Decay.Decayed, rep.Decay.Disabled)
	}
	if len(rep.Executions) == 0 && rep.Decay == nil {
		fmt.Fprintln(w, "No tasks due.")
	}
	if len(rep.Transmissions) > 0 {
		fmt.Fprintln(w)
		printTransmissions(w, rep.Transmissions)
	}
}

func printTasks(w io.Writer, tasks []scheduler.Task, st scheduler.Stats) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tKIND\tUSER\tNEXT RUN\tEVERY\tRUNS\tENABLED")
	for _, t := range tasks {
		every := "once"
		if t.Recurring() {
			every = t.Interval().String()
		}
		runs := fmt.Sprint(t.RunCount)
		if t.MaxRuns > 0 {
			runs = fmt.Sprintf("%d/%d", t.RunCount, t.MaxRuns)
		}
		user := t.UserID
		if user == "" {
			user = "-"
		}
		next := t.NextRun
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(t.ID), t.Kind, user, formatTime(&next), every, runs, onOff(t.Enabled))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d tasks (%d enabled, %d due), %d executions, %.0f%% successful\n",
		st.Tasks, st.Enabled, st.Due, st.Executions, st.SuccessRate*100)
}

func printHistory(w io.Writer, hist []scheduler.Execution) {
	if len(hist) == 0 {
		fmt.Fprintln(w, "No executions.")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "STARTED\tKIND\tDURATION\tRESULT")
	for _, ex := range hist {
		result := ex.Result
		if !ex.Success {
			result = color.New(color.FgRed).Sprintf("failed: %s", ex.Error)
		}
		started := ex.StartedAt
		fmt.Fprintf(tw, "%s\t%s\t%dms\t%s\n", formatTime(&started), ex.Kind, ex.DurationMs, result)
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
