package main

import (
	"clinic-chat/domain"
	"clinic-chat/projection"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

type command struct {
	name string
	arg  string
}

// parseCommand reads a prompt line. Anything not starting with "/" is a message.
func parseCommand(line string) command {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		return command{name: "send", arg: line}
	}
	name, arg, _ := strings.Cut(trimmed[1:], " ")
	return command{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
}

// resolveConversation accepts a 1-based row of the last listing or an ID.
func resolveConversation(arg string, conversations []domain.Conversation) string {
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(conversations) {
		return conversations[n-1].ID
	}
	return arg
}

func renderConversations(w io.Writer, conversations []domain.Conversation) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Counterpart", "Last message", "At", "Unread"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for i, c := range conversations {
		preview, at := "-", "-"
		if c.LastMessage != nil {
			preview = c.LastMessage.Content
			at = c.LastMessage.SentAt.Local().Format("02/01 15:04")
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = strconv.Itoa(c.UnreadCount)
		}
		table.Append([]string{strconv.Itoa(i + 1), c.Counterpart.Name, preview, at, unread})
	}
	table.Render()
}

func renderMessage(w io.Writer, selfID string, message domain.Message) {
	who := color.New(color.FgCyan).Render(message.SenderID)
	if message.SenderID == selfID {
		who = color.New(color.FgGreen).Render("me")
	}
	_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", message.SentAt.Local().Format("15:04"), who, message.Content)
}

func renderStatus(w io.Writer, status projection.Status) {
	style := color.New(color.FgGreen)
	switch status.Severity {
	case projection.SeverityPending:
		style = color.New(color.FgYellow)
	case projection.SeverityFailed:
		style = color.New(color.FgRed)
	}
	_, _ = fmt.Fprintf(w, "● %s\n", style.Render(status.Label))
}
