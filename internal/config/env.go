package config

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3100"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey   string `envconfig:"API_KEY" required:"true"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".worktrack/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"worktrack/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

// TaskStoreEnv selects the task row store. The sqlite store runs project
// cascades in a single transaction.
type TaskStoreEnv struct {
	TaskStore  string `envconfig:"TASK_STORE" default:"yaml"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:".worktrack/tasks.db"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:admin@example.com"`
}

func (e *VAPIDEnv) Configured() bool {
	return e != nil && e.VAPIDPublicKey != "" && e.VAPIDPrivateKey != ""
}

type WatchEnv struct {
	WatchExternalChanges bool `envconfig:"WATCH_EXTERNAL_CHANGES" default:"false"`
}

type Env struct {
	BaseEnv
	StorageEnv
	TaskStoreEnv
	VAPIDEnv
	WatchEnv
}

const namespace = "WORKTRACK"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	switch env.TaskStore {
	case "yaml", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported task store: %s", env.TaskStore)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func BaseEnvFromEnv(env *Env) *BaseEnv {
	return &env.BaseEnv
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

func VAPIDEnvFromEnv(env *Env) *VAPIDEnv {
	return &env.VAPIDEnv
}

// LoadStorageEnv reads only the storage settings, for tools that open the
// store directly and do not serve the API.
func LoadStorageEnv() (*StorageEnv, error) {
	var env StorageEnv
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load storage env: %w", err)
	}
	return &env, nil
}

func LoadTaskStoreEnv() (*TaskStoreEnv, error) {
	var env TaskStoreEnv
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load task store env: %w", err)
	}
	return &env, nil
}
