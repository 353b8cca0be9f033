// internal/workers/plan/generate-plan/config.go
package generateplan

import (
	"time"

	"plan-generator/internal/common/config"
)

type Config struct {
	Timeout time.Duration // 0 disables
}

func LoadConfig(wcfg config.WorkerConfig) *Config {
	return &Config{
		Timeout: config.GetDuration(wcfg.Timeout),
	}
}
