// Package command resolves slash commands to stored routes.
package command

import (
	"context"
	"strings"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/envelope"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/hookerr"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/storage"
)

// Resolver maps "/<bot> <verb> <target> ..." to the route stored under
// "<verb> <target>".
type Resolver struct {
	store   storage.RouteStore
	command string
}

// NewResolver creates a resolver answering "/" + botName.
func NewResolver(store storage.RouteStore, botName string) *Resolver {
	return &Resolver{store: store, command: "/" + strings.TrimPrefix(botName, "/")}
}

// Command returns the slash command this resolver answers.
func (r *Resolver) Command() string { return r.command }

// LookupKey lower-cases the first two whitespace-separated tokens of text and
// joins them with one space. A single token yields "<token> "; empty text
// yields "".
func LookupKey(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	switch len(fields) {
	case 0:
		return ""
	case 1:
		return fields[0] + " "
	default:
		return fields[0] + " " + fields[1]
	}
}

// Resolve returns the stored route for form, or the unknown route when the
// command is not ours or no record exists. Store failures are returned.
func (r *Resolver) Resolve(ctx context.Context, form *envelope.CommandForm) (route.Route, error) {
	if form == nil || form.Command != r.command {
		return route.UnknownRoute(), nil
	}
	key := LookupKey(form.Text)
	if key == "" {
		return route.UnknownRoute(), nil
	}
	found, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return route.UnknownRoute(), hookerr.New(hookerr.KindDownstream, "lookup command route", err)
	}
	if !ok || found.IsUnknown() {
		return route.UnknownRoute(), nil
	}
	return found, nil
}
