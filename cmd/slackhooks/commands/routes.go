package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/command"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/storage"
	"github.com/spf13/cobra"
)

func NewRoutesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Manage slash command routes",
	}

	cmd.AddCommand(
		newRoutesListCmd(),
		newRoutesPutCmd(),
		newRoutesDeleteCmd(),
	)

	return cmd
}

func newRoutesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored command routes",
		RunE:  runRoutesList,
	}
}

func newRoutesPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <verb> <target>",
		Short: "Create or replace the route answering \"/<bot> <verb> <target>\"",
		Args:  cobra.ExactArgs(2),
		RunE:  runRoutesPut,
	}

	cmd.Flags().StringP("lambda", "l", "", "Function invoked asynchronously with the command (required)")
	cmd.Flags().StringP("message", "m", "", "Reply shown to the user (default: Success)")
	cmd.Flags().String("metadata", "", "JSON object merged into the invocation payload")
	cmd.MarkFlagRequired("lambda")

	return cmd
}

func newRoutesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <verb> <target>",
		Short: "Delete a command route",
		Args:  cobra.ExactArgs(2),
		RunE:  runRoutesDelete,
	}
}

func withStore(cmd *cobra.Command, fn func(ctx context.Context, store storage.RouteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	defer store.Close()
	return fn(ctx, store)
}

func routeKey(args []string) string {
	return command.LookupKey(strings.Join(args, " "))
}

func runRoutesList(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store storage.RouteStore) error {
		routes, err := store.List(ctx)
		if err != nil {
			return err
		}
		renderRoutes(cmd.OutOrStdout(), routes)
		return nil
	})
}

func runRoutesPut(cmd *cobra.Command, args []string) error {
	lambdaTarget, _ := cmd.Flags().GetString("lambda")
	message, _ := cmd.Flags().GetString("message")
	rawMetadata, _ := cmd.Flags().GetString("metadata")

	r := route.Route{
		Key:             routeKey(args),
		LambdaTarget:    strings.TrimSpace(lambdaTarget),
		ResponseMessage: message,
	}
	if strings.TrimSpace(rawMetadata) != "" {
		if err := json.Unmarshal([]byte(rawMetadata), &r.Metadata); err != nil {
			return fmt.Errorf("invalid --metadata (expected a JSON object): %w", err)
		}
	}

	return withStore(cmd, func(ctx context.Context, store storage.RouteStore) error {
		if err := store.Put(ctx, r); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Route %q saved (%s)\n", r.Key, r.LambdaTarget)
		return nil
	})
}

func runRoutesDelete(cmd *cobra.Command, args []string) error {
	key := routeKey(args)
	return withStore(cmd, func(ctx context.Context, store storage.RouteStore) error {
		if err := store.Delete(ctx, key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Route %q deleted\n", key)
		return nil
	})
}

func renderRoutes(w io.Writer, routes []route.Route) {
	if len(routes) == 0 {
		fmt.Fprintln(w, "No command routes.")
		return
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Key < routes[j].Key })

	var (
		headerStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#4A154B")). // Aubergine
				Padding(0, 1).
				MarginBottom(1)

		wKey     = 24
		wTarget  = 40
		wMessage = 30

		colHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#4A154B")).
				Bold(true).
				MarginRight(1)

		keyStyle = lipgloss.NewStyle().
				Width(wKey).
				MarginRight(1)

		targetStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Width(wTarget).
				MarginRight(1)

		messageStyle = lipgloss.NewStyle().
				Width(wMessage).
				MarginRight(1)

		missingColor = lipgloss.Color("#C0392B")
	)

	fmt.Fprintln(w, headerStyle.Render("Command Routes"))

	headers := lipgloss.JoinHorizontal(lipgloss.Top,
		colHeaderStyle.Width(wKey).Render("KEY"),
		colHeaderStyle.Width(wTarget).Render("LAMBDA"),
		colHeaderStyle.Width(wMessage).Render("REPLY"),
	)
	fmt.Fprintf(w, "  %s\n", headers)

	sepStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginRight(1)
	separator := lipgloss.JoinHorizontal(lipgloss.Top,
		sepStyle.Render(strings.Repeat("─", wKey)),
		sepStyle.Render(strings.Repeat("─", wTarget)),
		sepStyle.Render(strings.Repeat("─", wMessage)),
	)
	fmt.Fprintf(w, "  %s\n", separator)

	for _, r := range routes {
		target := r.LambdaTarget
		tStyle := targetStyle
		if target == "" {
			target = "(none)"
			tStyle = tStyle.Foreground(missingColor)
		}
		reply := r.ResponseMessage
		if reply == "" {
			reply = "Success"
		}
		row := lipgloss.JoinHorizontal(lipgloss.Top,
			keyStyle.Render(truncate(r.Key, wKey)),
			tStyle.Render(truncate(target, wTarget)),
			messageStyle.Render(truncate(reply, wMessage)),
		)
		fmt.Fprintf(w, "  %s\n", row)
	}

	fmt.Fprintln(w)
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}
