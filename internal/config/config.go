package config

import (
	"errors"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/keyward/keyward/internal/errs"
)

var (
	ErrConfigurationValuesError = errors.New("configuration value error")
	ErrNonDefinedTaskType       = errors.New("task type is unknown")
	ErrRepeatedTaskType         = errors.New("task type is specified more than once")
	ErrEmptyVaultIdentityURL    = errors.New("vault identity URL must be specified")
	ErrEmptyVaultAPIURL         = errors.New("vault API URL must be specified")
)

// Config holds all application configuration parameters
type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash"`

	Database         Database   `yaml:"database"`
	DatabaseReplicas []Database `yaml:"databaseReplicas"`
	Scheduler        Scheduler  `yaml:"scheduler"`
	HTTP             HTTPServer `yaml:"http"`
	Vault            Vault      `yaml:"vault"`
	Rotation         Rotation   `yaml:"rotation"`
	Random           Random     `yaml:"random"`
}

func (c *Config) Validate() error {
	err := c.Scheduler.Validate()
	if err != nil {
		return errs.Wrap(ErrConfigurationValuesError, err)
	}

	err = c.Vault.Validate()
	if err != nil {
		return errs.Wrap(ErrConfigurationValuesError, err)
	}

	return nil
}

// Database holds database config
type Database struct {
	Name   string              `yaml:"name"`
	Port   string              `yaml:"port"`
	Host   commoncfg.SourceRef `yaml:"host"`
	User   commoncfg.SourceRef `yaml:"user"`
	Secret commoncfg.SourceRef `yaml:"secret"`
}

// HTTPServer holds http server config
type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

// Vault holds connection defaults for the secret vault backing the
// tenants. A tenant record may override the API base URL.
type Vault struct {
	IdentityURL string              `yaml:"identityURL"`
	APIURL      string              `yaml:"apiURL"`
	Timeout     time.Duration       `yaml:"timeout" default:"30s"`
	AccessToken commoncfg.SourceRef `yaml:"accessToken"`
}

func (v *Vault) Validate() error {
	if v.IdentityURL == "" {
		return ErrEmptyVaultIdentityURL
	}

	if v.APIURL == "" {
		return ErrEmptyVaultAPIURL
	}

	return nil
}

// Rotation holds retry windows for the rotation workflow steps.
type Rotation struct {
	StoreRetryWindow time.Duration `yaml:"storeRetryWindow" default:"5m"`
	VaultRetryWindow time.Duration `yaml:"vaultRetryWindow" default:"1m"`
	StoreAttempts    int           `yaml:"storeAttempts" default:"5"`
	VaultAttempts    int           `yaml:"vaultAttempts" default:"3"`
}

// Random configures the external entropy beacon backing the "lavarand"
// source. An empty URL disables the source.
type Random struct {
	BeaconURL string        `yaml:"beaconURL"`
	Timeout   time.Duration `yaml:"timeout" default:"10s"`
}

// Scheduler holds a scheduler config
type Scheduler struct {
	TaskQueue Redis
	Tasks     []Task
}

func (s *Scheduler) Validate() error {
	checkedTasks := make(map[string]struct{}, len(s.Tasks))
	for _, task := range s.Tasks {
		_, found := DefinedTasks[task.TaskType]
		if !found {
			return ErrNonDefinedTaskType
		}

		_, found = checkedTasks[task.TaskType]
		if found {
			return ErrRepeatedTaskType
		}

		checkedTasks[task.TaskType] = struct{}{}
	}

	return nil
}

// Task holds a task config
type Task struct {
	Cronspec string
	TaskType string
	Retries  int
}

// Redis holds Redis client config
type Redis struct {
	Host commoncfg.SourceRef `yaml:"host"`
	Port string              `yaml:"port"`
	ACL  RedisACL            `yaml:"acl"`
}

type RedisACL struct {
	Enabled  bool                `yaml:"enabled"`
	Password commoncfg.SourceRef `yaml:"password"`
	Username commoncfg.SourceRef `yaml:"username"`
}
