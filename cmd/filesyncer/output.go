package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/openmined/filesyncer/internal/syncer"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	bold   = lipgloss.NewStyle().Bold(true)
)

func printReport(w io.Writer, report *syncer.Report) {
	status := green.Render("OK")
	if report.State == syncer.StateFailed {
		status = red.Render("FAILED")
	}
	fmt.Fprintf(w, "%s %s %s\n", bold.Render(string(report.Mode)), status, gray.Render(report.Elapsed.Round(time.Millisecond).String()))

	if cs := report.Changes; cs != nil {
		fmt.Fprintf(w, "  %s %s %s\n",
			green.Render(fmt.Sprintf("+%d added", len(cs.Added))),
			cyan.Render(fmt.Sprintf("~%d modified", len(cs.Modified))),
			red.Render(fmt.Sprintf("-%d deleted", cs.Deleted.Cardinality())),
		)
	}

	switch {
	case report.Pushed:
		fmt.Fprintf(w, "  %s %s\n", gray.Render("pushed"), report.Message.Subject)
	case report.Committed:
		fmt.Fprintf(w, "  %s %s\n", gray.Render("committed, not pushed"), report.Message.Subject)
	}

	for _, path := range report.Protected {
		fmt.Fprintf(w, "  %s %s\n", yellow.Render("kept"), path)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "  %s %v\n", yellow.Render("warning"), warning)
	}
}
