package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
)

var (
	app = kingpin.New("worktrack", "Team task tracker client")

	serverURL = app.Flag("server", "Server base URL").Envar("WORKTRACK_SERVER_URL").Default("http://localhost:3100").String()
	apiKey    = app.Flag("api-key", "API key").Envar("WORKTRACK_API_KEY").String()
	userID    = app.Flag("user", "Acting user id").Envar("WORKTRACK_USER_ID").String()

	// Live view
	watchCmd    = app.Command("watch", "Print a live, filtered view of tasks")
	watchFilter = watchCmd.Flag("filter", "Filter expression, e.g. status=eq.InProgress,assignee_ids=cs.{u1}").String()
	watchLocal  = watchCmd.Flag("local", "Read the local YAML store instead of the server").Bool()

	taskCmd     = app.Command("task", "Tasks")
	taskListCmd = taskCmd.Command("list", "List visible tasks, closed ones included")

	projectCmd     = app.Command("project", "Projects")
	projectListCmd = projectCmd.Command("list", "List visible projects")

	// Dashboard
	dashboardCmd  = app.Command("dashboard", "Run a dashboard aggregation")
	dashboardName = dashboardCmd.Arg("name", "Aggregation name").Required().String()

	// Users (direct storage access)
	userCmd = app.Command("user", "User management on the local store")

	userAddCmd      = userCmd.Command("add", "Add a user")
	userAddEmail    = userAddCmd.Arg("email", "Email address").Required().String()
	userAddName     = userAddCmd.Flag("name", "Full name").String()
	userAddRole     = userAddCmd.Flag("role", "Role").Default("user").Enum("super-admin", "admin", "user")
	userAddInactive = userAddCmd.Flag("inactive", "Create the user deactivated").Bool()

	userListCmd = userCmd.Command("list", "List users")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case watchCmd.FullCommand():
		err = runWatch(ctx, *serverURL, *apiKey, *userID, *watchFilter, *watchLocal)
	case taskListCmd.FullCommand():
		err = runTaskList(ctx, *serverURL, *apiKey, *userID)
	case projectListCmd.FullCommand():
		err = runProjectList(ctx, *serverURL, *apiKey, *userID)
	case dashboardCmd.FullCommand():
		err = runDashboard(ctx, *serverURL, *apiKey, *userID, *dashboardName)
	case userAddCmd.FullCommand():
		err = runUserAdd(ctx, *userAddEmail, *userAddName, *userAddRole, !*userAddInactive)
	case userListCmd.FullCommand():
		err = runUserList(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
