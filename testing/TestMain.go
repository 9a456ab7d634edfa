package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("CIECNOW_TEST_MODE", "1")
		// Keep tests off any real permission-resolution endpoint.
		if os.Getenv("EDGE_URL") == "" {
			_ = os.Setenv("EDGE_URL", "http://127.0.0.1:0")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
