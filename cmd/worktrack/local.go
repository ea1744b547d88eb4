package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kazz187/worktrack/internal/changefeed"
	"github.com/kazz187/worktrack/internal/changewatch"
	"github.com/kazz187/worktrack/internal/config"
	"github.com/kazz187/worktrack/internal/eventbus"
	projectrepo "github.com/kazz187/worktrack/internal/project/repositoryimpl"
	"github.com/kazz187/worktrack/internal/realtime"
	"github.com/kazz187/worktrack/internal/realtime/tasksource"
	taskrepo "github.com/kazz187/worktrack/internal/task/repositoryimpl"
	userrepo "github.com/kazz187/worktrack/internal/user/repositoryimpl"
)

const localFeedBuffer = 64

// openLocalView serves a task view straight from the local YAML store.
// Edits made by a running server or by hand show up through the file
// watcher. No permission scoping applies, as with the user commands.
func openLocalView(ctx context.Context, f realtime.Filter, onChange func([]realtime.Item)) (*realtime.View, error) {
	taskEnv, err := config.LoadTaskStoreEnv()
	if err != nil {
		return nil, err
	}
	if taskEnv.TaskStore != "yaml" {
		return nil, fmt.Errorf("--local needs the yaml task store, got %s", taskEnv.TaskStore)
	}
	storageEnv, err := config.LoadStorageEnv()
	if err != nil {
		return nil, err
	}
	s, local, err := storageEnv.OpenStorage(ctx)
	if err != nil {
		return nil, err
	}
	if local == nil {
		return nil, fmt.Errorf("--local needs local storage, got %s", storageEnv.Type)
	}

	bus := eventbus.New()
	watcher := changewatch.New(local, bus, changewatch.TaskSource(), changewatch.ProjectSource())
	if err := watcher.Prime(ctx); err != nil {
		return nil, fmt.Errorf("failed to prime change watcher: %w", err)
	}
	go func() {
		if err := watcher.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "change watcher stopped: %v\n", err)
		}
	}()

	backend := tasksource.NewLocal(
		taskrepo.NewYAMLRepository(s, watcher),
		userrepo.NewYAMLRepository(s),
		projectrepo.NewYAMLRepository(s, watcher),
	)
	return tasksource.Open(ctx, backend, changefeed.NewLocalFeed(bus, localFeedBuffer), f, onChange)
}
