package tui

import (
	"fmt"
	"strings"

	progressbar "github.com/charmbracelet/bubbles/progress"

	"github.com/reelforge/reelforge/internal/client"
	"github.com/reelforge/reelforge/internal/progress"
	"github.com/reelforge/reelforge/internal/sessions"
)

func segmentMarker(s progress.State) string {
	switch s {
	case progress.StateDone:
		return doneStyle.Render("✓")
	case progress.StateCurrent:
		return currentStyle.Render("▶")
	default:
		return pendingStyle.Render("·")
	}
}

func renderSegments(segments []progress.Segment) string {
	if len(segments) == 0 {
		return mutedStyle.Render("no segments yet")
	}
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteString("\n")
		}
		label := seg.Key
		if seg.State == progress.StateCurrent {
			label = currentStyle.Render(label)
		}
		fmt.Fprintf(&b, "%s %s", segmentMarker(seg.State), label)
	}
	return b.String()
}

func renderBar(bar progressbar.Model, segments []progress.Segment) string {
	summary := progress.Summarize(segments)
	return fmt.Sprintf("%s %d/%d", bar.ViewAs(summary.Percent()), summary.Done, summary.Total)
}

func renderArtifact(a sessions.Artifact) string {
	if !a.Playable() {
		return mutedStyle.Render(a.Message)
	}
	return fmt.Sprintf("%s video: %s", a.Kind, a.URL)
}

// renderScript shows a structured candidate segment by segment, in segment
// order, and anything else as plain text.
func renderScript(s client.Script) string {
	if !s.IsStructured() {
		return s.Text()
	}
	segs := s.Segments()
	keys := make([]string, 0, len(segs))
	for k := range segs {
		keys = append(keys, k)
	}
	var b strings.Builder
	for i, k := range progress.Order(keys) {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s %s", mutedStyle.Render(k+":"), segs[k])
	}
	return b.String()
}

// RenderSession is the plain detail rendering shared by the detail view and
// the show command.
func RenderSession(s *client.Session, resolve func(string) string) string {
	if s == nil {
		return mutedStyle.Render("loading…")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Session  %s\n", s.SessionID)
	if s.Idea != "" {
		fmt.Fprintf(&b, "Idea     %s\n", s.Idea)
	}
	fmt.Fprintf(&b, "State    %s\n", stageStyle.Render(s.State))
	if s.SelectedScript != "" {
		fmt.Fprintf(&b, "Script   %s\n", s.SelectedScript)
	}
	if s.Voice != "" || s.Mode != "" {
		fmt.Fprintf(&b, "Voice    %s (%s)\n", s.Voice, s.Mode)
	}
	fmt.Fprintf(&b, "Progress %d/%d segments\n", s.Progress.Completed, s.Progress.TotalSegments)
	if s.Error != "" {
		fmt.Fprintf(&b, "%s\n", errorStyle.Render("Error: "+s.Error))
	}

	rows := sessions.SegmentRows(s, resolve)
	if len(rows) > 0 {
		b.WriteString("\n")
		for _, row := range rows {
			fmt.Fprintf(&b, "%s %s  %s\n", segmentMarker(row.State), row.Key,
				mutedStyle.Render(fmt.Sprintf("%d images, %d videos, %d audios", len(row.Images), len(row.Videos), len(row.Audios))))
		}
	}

	b.WriteString("\n")
	b.WriteString(renderArtifact(sessions.PreferredArtifact(s, resolve)))
	return b.String()
}
