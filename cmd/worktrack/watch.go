package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/changefeed"
	"github.com/kazz187/worktrack/internal/client"
	"github.com/kazz187/worktrack/internal/realtime"
	"github.com/kazz187/worktrack/internal/realtime/tasksource"
	"github.com/kazz187/worktrack/internal/task"
)

func requireRemote(apiKey, userID string) error {
	if apiKey == "" {
		return fmt.Errorf("--api-key (WORKTRACK_API_KEY) is required")
	}
	if userID == "" {
		return fmt.Errorf("--user (WORKTRACK_USER_ID) is required")
	}
	return nil
}

func runWatch(ctx context.Context, serverURL, apiKey, userID, filter string, local bool) error {
	f, err := realtime.ParseFilter(filter)
	if err != nil {
		return err
	}
	onChange := func(items []realtime.Item) {
		printTasks(os.Stdout, items)
	}

	var view *realtime.View
	if local {
		view, err = openLocalView(ctx, f, onChange)
	} else {
		if err := requireRemote(apiKey, userID); err != nil {
			return err
		}
		c := client.NewClient(serverURL, apiKey, userID, nil)
		view, err = tasksource.Open(ctx, c, changefeed.NewRemoteFeed(serverURL, apiKey, userID), f, onChange)
	}
	if err != nil {
		return err
	}
	defer view.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := view.Err(); err != nil {
				return fmt.Errorf("live view stopped: %w", err)
			}
		}
	}
}

var statusColors = map[task.Status]*color.Color{
	task.StatusToDo:       color.New(color.FgWhite),
	task.StatusInProgress: color.New(color.FgCyan),
	task.StatusBlocked:    color.New(color.FgRed),
	task.StatusDone:       color.New(color.FgGreen),
}

func printTasks(w io.Writer, items []realtime.Item) {
	header := color.New(color.Bold)
	header.Fprintf(w, "\n%s  %d task(s)\n", time.Now().Format(time.TimeOnly), len(items))
	for _, it := range items {
		status := task.Status(it.Fields.String("status"))
		c, ok := statusColors[status]
		if !ok {
			c = color.New(color.Reset)
		}
		c.Fprintf(w, "%-10s", status)
		fmt.Fprintf(w, " %-8s %s", it.Fields.String("priority"), it.Fields.String("title"))
		if p := displayName(it.Relations[tasksource.RelationProject]); p != "" {
			color.New(color.FgMagenta).Fprintf(w, "  [%s]", p)
		}
		if names := assigneeNames(it.Relations[tasksource.RelationAssignees]); names != "" {
			color.New(color.FgHiBlack).Fprintf(w, "  @%s", names)
		}
		if rs := it.Fields.String("review_status"); rs != "" && rs != string(task.ReviewNone) {
			color.New(color.FgYellow).Fprintf(w, "  (%s)", rs)
		}
		fmt.Fprintln(w)
	}
}

func assigneeNames(v any) string {
	list, _ := v.([]any)
	names := make([]string, 0, len(list))
	for _, u := range list {
		if n := displayName(u); n != "" {
			names = append(names, n)
		}
	}
	return strings.Join(names, ",")
}

// displayName picks the most readable field of a hydrated user or project.
func displayName(v any) string {
	var fields map[string]any
	switch r := v.(type) {
	case nil:
		return ""
	case change.Fields:
		fields = r
	case map[string]any:
		fields = r
	default:
		data, err := json.Marshal(r)
		if err != nil || json.Unmarshal(data, &fields) != nil {
			return ""
		}
	}
	for _, k := range []string{"name", "full_name", "email", "id"} {
		if s, ok := fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func runDashboard(ctx context.Context, serverURL, apiKey, userID, name string) error {
	if err := requireRemote(apiKey, userID); err != nil {
		return err
	}
	raw, err := client.NewClient(serverURL, apiKey, userID, nil).Dashboard(ctx, name)
	if err != nil {
		return err
	}
	var pretty any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}

func runTaskList(ctx context.Context, serverURL, apiKey, userID string) error {
	if err := requireRemote(apiKey, userID); err != nil {
		return err
	}
	tasks, err := client.NewClient(serverURL, apiKey, userID, nil).ListTasks(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tPROJECT\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, t.ProjectID, t.Title)
	}
	return w.Flush()
}

func runProjectList(ctx context.Context, serverURL, apiKey, userID string) error {
	if err := requireRemote(apiKey, userID); err != nil {
		return err
	}
	projects, err := client.NewClient(serverURL, apiKey, userID, nil).ListProjects(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tNAME")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Status, p.Name)
	}
	return w.Flush()
}
