// Package jira finds issue keys in chat text and replies with browse links.
package jira

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/chat"
)

// DefaultBaseURL is the browse URL issue keys are linked under.
const DefaultBaseURL = "https://beaconstreetservices.atlassian.net/browse"

// ticketPattern matches PREFIX-<digits> at the start of the text or after whitespace.
var ticketPattern = regexp.MustCompile(`(?:^|\s)((?:TECH|AUTO|CO)-\d+)`)

// HasTicket reports whether text mentions at least one issue key.
func HasTicket(text string) bool {
	if text == "" {
		return false
	}
	return ticketPattern.MatchString(text)
}

// GetTickets returns the distinct issue keys in text in order of first occurrence.
func GetTickets(text string) []string {
	matches := ticketPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	tickets := make([]string, 0, len(matches))
	for _, m := range matches {
		key := m[1]
		if seen[key] {
			continue
		}
		seen[key] = true
		tickets = append(tickets, key)
	}
	return tickets
}

// FormatTickets renders each key as a chat link under baseURL.
func FormatTickets(baseURL string, tickets []string) []string {
	baseURL = strings.TrimRight(baseURL, "/")
	links := make([]string, 0, len(tickets))
	for _, t := range tickets {
		links = append(links, fmt.Sprintf("<%s/%s|%s>", baseURL, t, t))
	}
	return links
}

// Linker replies to messages that mention issue keys.
type Linker struct {
	messenger chat.Messenger
	baseURL   string
}

// NewLinker creates a linker. An empty baseURL uses DefaultBaseURL.
func NewLinker(messenger chat.Messenger, baseURL string) *Linker {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Linker{messenger: messenger, baseURL: baseURL}
}

// Link posts "Jira Links Found: ..." to channel when text mentions any issue
// key. It returns the formatted links, which may be empty.
func (l *Linker) Link(ctx context.Context, channel, text string) ([]string, error) {
	links := FormatTickets(l.baseURL, GetTickets(text))
	if len(links) == 0 {
		return links, nil
	}
	msg := chat.Message{
		Channel: channel,
		Text:    "Jira Links Found: " + strings.Join(links, " "),
	}
	if _, err := l.messenger.Post(ctx, msg); err != nil {
		return nil, fmt.Errorf("post jira links: %w", err)
	}
	return links, nil
}
