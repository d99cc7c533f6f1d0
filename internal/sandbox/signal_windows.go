//go:build windows

package sandbox

import "os"

// Windows has no SIGTERM; the grace period is skipped.
var terminateSignal = os.Kill
