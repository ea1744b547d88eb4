package repositoryimpl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/project"
	"github.com/kazz187/worktrack/pkg/cerr"
	"github.com/kazz187/worktrack/pkg/storage"
)

const projectsPrefix = "projects"

type YAMLRepository struct {
	mu        sync.Mutex
	storage   storage.Storage
	publisher change.Publisher
}

func NewYAMLRepository(s storage.Storage, publisher change.Publisher) *YAMLRepository {
	return &YAMLRepository{storage: s, publisher: publisher}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", projectsPrefix, id)
}

// Decode parses a stored project file.
func Decode(data []byte) (*project.Project, error) {
	var p project.Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project: %w", err)
	}
	if p.Status == "" {
		p.Status = project.StatusActive
	}
	return &p, nil
}

func (r *YAMLRepository) Create(ctx context.Context, p *project.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.storage.Exists(ctx, path(p.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("project", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "project already exists", nil)
	}
	if _, err := r.findByName(ctx, p.Name); err == nil {
		return cerr.NewError(cerr.AlreadyExists, fmt.Sprintf("project %q already exists", p.Name), nil)
	} else if !cerr.IsNotFound(err) {
		return err
	}
	if err := r.write(ctx, p); err != nil {
		return err
	}
	r.publish(change.Insert, p, nil)
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*project.Project, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("project", err)
	}
	p, err := Decode(data)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", err)
	}
	return p, nil
}

func (r *YAMLRepository) FindByName(ctx context.Context, name string) (*project.Project, error) {
	return r.findByName(ctx, name)
}

func (r *YAMLRepository) findByName(ctx context.Context, name string) (*project.Project, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "project not found", nil)
}

func (r *YAMLRepository) all(ctx context.Context) ([]*project.Project, error) {
	paths, err := r.storage.List(ctx, projectsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("projects", err)
	}
	projects := make([]*project.Project, 0, len(paths))
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		proj, err := Decode(data)
		if err != nil {
			continue
		}
		projects = append(projects, proj)
	}
	return projects, nil
}

// List orders projects by name.
func (r *YAMLRepository) List(ctx context.Context, limit, offset int) ([]*project.Project, int, error) {
	projects, err := r.all(ctx)
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })

	total := len(projects)
	if offset >= total {
		return nil, total, nil
	}
	projects = projects[offset:]
	if limit > 0 && len(projects) > limit {
		projects = projects[:limit]
	}
	return projects, total, nil
}

func (r *YAMLRepository) Update(ctx context.Context, p *project.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, err := r.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := r.write(ctx, p); err != nil {
		return err
	}
	r.publish(change.Update, p, old)
	return nil
}

func (r *YAMLRepository) write(ctx context.Context, p *project.Project) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal project: %w", err))
	}
	if err := r.storage.Write(ctx, path(p.ID), data); err != nil {
		return cerr.WrapStorageWriteError("project", err)
	}
	return nil
}

func (r *YAMLRepository) publish(kind change.Kind, newRow, oldRow *project.Project) {
	var n, o any
	if newRow != nil {
		n = newRow
	}
	if oldRow != nil {
		o = oldRow
	}
	ev, err := change.NewEvent(change.TableProjects, newRow.ID, kind, n, o, newRow.UpdatedAt)
	if err != nil {
		slog.Error("failed to build project change event", "error", err)
		return
	}
	r.publisher.Publish(ev)
}
