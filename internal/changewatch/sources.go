package changewatch

import (
	"github.com/kazz187/worktrack/internal/change"
	projectimpl "github.com/kazz187/worktrack/internal/project/repositoryimpl"
	taskimpl "github.com/kazz187/worktrack/internal/task/repositoryimpl"
)

func TaskSource() Source {
	return Source{
		Table: change.TableTasks,
		Dir:   "tasks",
		Decode: func(data []byte) (string, any, error) {
			t, err := taskimpl.Decode(data)
			if err != nil {
				return "", nil, err
			}
			return t.ID, t, nil
		},
	}
}

func ProjectSource() Source {
	return Source{
		Table: change.TableProjects,
		Dir:   "projects",
		Decode: func(data []byte) (string, any, error) {
			p, err := projectimpl.Decode(data)
			if err != nil {
				return "", nil, err
			}
			return p.ID, p, nil
		},
	}
}
