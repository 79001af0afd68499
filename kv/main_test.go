package kv

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies every Watcher/memWatch goroutine this package's tests
// start is torn down by the end of the run.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
