package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Jincoo/youtube-music-remote/internal/discovery"
	"github.com/Jincoo/youtube-music-remote/internal/domain"
)

var (
	primary = lipgloss.Color("#22d3ee")
	success = lipgloss.Color("#10B981")
	warning = lipgloss.Color("#F59E0B")
	danger  = lipgloss.Color("#EF4444")
	muted   = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primary)
	mutedStyle = lipgloss.NewStyle().Foreground(muted)
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(danger)

	stateStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
)

func printError(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
}

func renderSessions(w io.Writer, sessions []domain.SessionInfo) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no sessions"))
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Session", "Role", "Env", "Connected", "Last activity", "Now playing"})
	for _, s := range sessions {
		t.AppendRow(table.Row{
			s.SessionID,
			s.DeviceType,
			s.Environment,
			s.Connected,
			time.UnixMilli(s.LastActivity).Format(time.TimeOnly),
			nowPlaying(s.Status),
		})
	}
	t.Render()
}

func nowPlaying(s *domain.StatusSnapshot) string {
	if s == nil || s.Title == "" {
		return "-"
	}
	icon := "⏸"
	if s.IsPlaying {
		icon = "▶"
	}
	parts := []string{icon, s.Title}
	if s.Artist != "" {
		parts = append(parts, "·", s.Artist)
	}
	return strings.Join(parts, " ")
}

func statusLine(s domain.StatusSnapshot) string {
	return fmt.Sprintf("%s  %s / %s  vol %d",
		titleStyle.Render(nowPlaying(&s)),
		clock(s.Progress), clock(s.Duration), s.Volume)
}

func clock(seconds float64) string {
	d := time.Duration(seconds) * time.Second
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func stateBadge(role string, st discovery.State) string {
	color := muted
	switch st {
	case discovery.StateAnnouncing, discovery.StateScanning:
		color = primary
	case discovery.StateOffered, discovery.StateAnswered:
		color = warning
	case discovery.StateConnected:
		color = success
	}
	return mutedStyle.Render(role) + " " + stateStyle.Background(color).Render(st.String())
}
