package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/todosync/todosync/internal/todo"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	doneStyle    = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	mutedStyle   = lipgloss.NewStyle().Faint(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	priorityStyles = map[todo.Priority]lipgloss.Style{
		todo.PriorityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		todo.PriorityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		todo.PriorityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
)

// renderLine formats one todo for list output.
func renderLine(t *todo.Todo) string {
	check := "[ ]"
	title := titleStyle.Render(t.Title)
	if t.Completed {
		check = successStyle.Render("[x]")
		title = doneStyle.Render(t.Title)
	}
	prio := priorityStyles[t.Priority].Render(string(t.Priority))
	return fmt.Sprintf("%s %s  %s  %s", check, title, prio, mutedStyle.Render(t.ID))
}

// renderDetail formats the full record shown by `todo show`.
func renderDetail(t *todo.Todo) string {
	out := renderLine(t) + "\n"
	if t.Description != "" {
		out += "    " + t.Description + "\n"
	}
	out += mutedStyle.Render(fmt.Sprintf("    created %s, updated %s",
		t.CreatedAt.Local().Format("2006-01-02 15:04"),
		t.UpdatedAt.Local().Format("2006-01-02 15:04")))
	if t.CompletedAt != nil {
		out += mutedStyle.Render(fmt.Sprintf(", completed %s",
			t.CompletedAt.Local().Format("2006-01-02 15:04")))
	}
	return out
}
