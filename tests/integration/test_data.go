//go:build integration

package integration

import (
	"fmt"
	"time"
)

// TestPrincipal returns a unique username and a password that passes the
// strength rules.
func TestPrincipal(suffix string) (username, password string) {
	return fmt.Sprintf("operator_%s_%d", suffix, time.Now().UnixNano()), "Calibrate-42-pass"
}
