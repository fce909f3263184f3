// Package guard switches the process into test mode when imported by a
// test binary, so command wiring skips side effects such as connecting
// to Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("FAKTURACE_TEST_MODE") == "" {
			_ = os.Setenv("FAKTURACE_TEST_MODE", "1")
		}
	})
}
