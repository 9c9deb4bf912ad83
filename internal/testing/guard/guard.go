package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PASSPORT_TEST_MODE") == "" {
			_ = os.Setenv("PASSPORT_TEST_MODE", "1")
		}
	})
}
