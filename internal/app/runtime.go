package app

import (
	"os"
	"sync"
	"sync/atomic"
)

const testModeEnv = "GATEKEEPER_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(testModeEnv) == "1")
}

// InTestMode reports whether the process should skip external side effects
// such as dialing Redis or PostgreSQL.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

