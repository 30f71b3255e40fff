// Package guard switches binaries into test mode when imported from a test,
// so calling main never dials postgres or redis.
package guard

import (
	"os"
	"sync"
)

// Env is the variable the app runtime reads.
const Env = "POSLEDGER_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(Env) == "" {
			_ = os.Setenv(Env, "1")
		}
	})
}
