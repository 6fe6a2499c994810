package app

import (
	"os"
	"sync"
	"sync/atomic"
)

const testModeEnv = "PORTAL_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeOnce sync.Once
)

func readTestMode() {
	testMode.Store(os.Getenv(testModeEnv) == "1")
}

// InTestMode reports whether PORTAL_TEST_MODE=1 was set.
func InTestMode() bool {
	testModeOnce.Do(readTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads PORTAL_TEST_MODE.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	readTestMode()
}

// Startup lists the side effects serve performs before accepting traffic.
type Startup struct {
	Migrate   bool
	RuleCache bool
}

// StartupPlan derives the startup side effects from cfg. Test mode disables
// both so a process started by tests never touches the schema or Redis.
func StartupPlan(cfg *Config) Startup {
	if cfg == nil || InTestMode() {
		return Startup{}
	}
	return Startup{
		Migrate:   cfg.MigrateOnStart,
		RuleCache: cfg.RedisAddr != "",
	}
}
