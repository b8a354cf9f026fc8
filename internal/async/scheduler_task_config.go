package async

import (
	"github.com/hibiken/asynq"

	"github.com/keyward/keyward/internal/config"
)

// ScheduledTaskConfigProvider implements asynq PeriodicTaskConfigProvider interface.
type ScheduledTaskConfigProvider struct {
	Config *config.Config
}

// GetConfigs returns the periodic task list built from the scheduler config.
func (p *ScheduledTaskConfigProvider) GetConfigs() ([]*asynq.PeriodicTaskConfig, error) {
	tasks := p.Config.Scheduler.Tasks

	configs := make([]*asynq.PeriodicTaskConfig, len(tasks))
	for i, cfg := range tasks {
		configs[i] = &asynq.PeriodicTaskConfig{
			Cronspec: cfg.Cronspec,
			Task: asynq.NewTask(
				cfg.TaskType,
				nil,
				asynq.MaxRetry(cfg.Retries),
			),
		}
	}

	return configs, nil
}
