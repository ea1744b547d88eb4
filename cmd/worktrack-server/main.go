package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	attachmentrepo "github.com/kazz187/worktrack/internal/attachment/repositoryimpl"
	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/changefeed"
	"github.com/kazz187/worktrack/internal/changewatch"
	commentrepo "github.com/kazz187/worktrack/internal/comment/repositoryimpl"
	"github.com/kazz187/worktrack/internal/config"
	"github.com/kazz187/worktrack/internal/dashboard"
	"github.com/kazz187/worktrack/internal/eventbus"
	"github.com/kazz187/worktrack/internal/notification"
	"github.com/kazz187/worktrack/internal/project"
	projectrepo "github.com/kazz187/worktrack/internal/project/repositoryimpl"
	pushsubrepo "github.com/kazz187/worktrack/internal/pushsubscription/repositoryimpl"
	"github.com/kazz187/worktrack/internal/task"
	taskrepo "github.com/kazz187/worktrack/internal/task/repositoryimpl"
	tasklogrepo "github.com/kazz187/worktrack/internal/tasklog/repositoryimpl"
	"github.com/kazz187/worktrack/internal/user"
	userrepo "github.com/kazz187/worktrack/internal/user/repositoryimpl"
	"github.com/kazz187/worktrack/pkg/clog"

	server "github.com/kazz187/worktrack/internal"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Setup storage
	store, local, err := config.StorageEnvFromEnv(env).OpenStorage(ctx)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}

	// Setup event bus. With the watcher enabled every repository publishes
	// through it so that our own writes are not reported twice.
	bus := eventbus.New()
	var publisher change.Publisher = bus
	var watcher *changewatch.Watcher
	if env.WatchExternalChanges {
		if local == nil {
			slog.Warn("external change watching needs local storage, disabled", "storage_type", env.StorageEnv.Type)
		} else {
			sources := []changewatch.Source{changewatch.ProjectSource()}
			if env.TaskStore == "yaml" {
				sources = append(sources, changewatch.TaskSource())
			}
			watcher = changewatch.New(local, bus, sources...)
			publisher = watcher
		}
	}

	// Setup repositories
	userRepo := userrepo.NewYAMLRepository(store)
	roleRepo := userrepo.NewYAMLRoleRepository(store)
	if err := roleRepo.Seed(ctx, user.DefaultRoles); err != nil {
		slog.Error("failed to seed roles", "error", err)
		os.Exit(1)
	}
	projectRepo := projectrepo.NewYAMLRepository(store, publisher)
	progressRepo := tasklogrepo.NewYAMLRepository(store, publisher)
	commentRepo := commentrepo.NewYAMLRepository(store, publisher)
	attachmentRepo := attachmentrepo.NewYAMLRepository(store, publisher)
	pushSubRepo := pushsubrepo.NewYAMLRepository(store)

	var taskRepo task.Repository
	switch env.TaskStore {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(env.SQLitePath), 0o755); err != nil {
			slog.Error("failed to create sqlite directory", "error", err)
			os.Exit(1)
		}
		sqliteRepo, err := taskrepo.OpenSQLite(env.SQLitePath, publisher)
		if err != nil {
			slog.Error("failed to open sqlite task store", "path", env.SQLitePath, "error", err)
			os.Exit(1)
		}
		defer sqliteRepo.Close()
		taskRepo = sqliteRepo
	default:
		taskRepo = taskrepo.NewYAMLRepository(store, publisher)
	}

	if watcher != nil {
		if err := watcher.Prime(ctx); err != nil {
			slog.Error("failed to prime change watcher", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				slog.Error("change watcher stopped", "error", err)
			}
		}()
	}

	resolver := user.NewResolver(userRepo, roleRepo)

	// Setup push notification
	vapidEnv := config.VAPIDEnvFromEnv(env)
	if !vapidEnv.Configured() {
		slog.Warn("VAPID keys are not configured, push notifications will fail")
	}
	dispatcher := notification.NewDispatcher(notification.NewSender(vapidEnv, nil), pushSubRepo)

	// Setup services
	projectSvc := project.NewService(projectRepo, taskRepo, resolver, time.Now)
	taskSvc := task.NewService(task.ServiceParams{
		Repo:        taskRepo,
		Progress:    progressRepo,
		Comments:    commentRepo,
		Attachments: attachmentRepo,
		Users:       userRepo,
		Actors:      resolver,
		Projects:    projectSvc,
		Notifier:    notification.NewTaskNotifier(dispatcher, resolver),
		Now:         time.Now,
	})
	aggregator := dashboard.NewAggregator(taskRepo, projectRepo, resolver, time.Now)

	srv := server.NewServer(
		env,
		project.NewServer(projectSvc),
		task.NewServer(taskSvc),
		user.NewServer(userRepo, resolver),
		dashboard.NewServer(aggregator),
		notification.NewServer(vapidEnv, pushSubRepo, dispatcher),
		changefeed.NewServer(bus, resolver),
	)

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	// Feed connections end with the base context; give requests in flight
	// time to finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
