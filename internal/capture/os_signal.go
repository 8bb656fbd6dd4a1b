package capture

import (
	"os"
	"syscall"
)

// osInterruptSignal returns the signal used to request graceful
// termination of the muxer subprocess.
func osInterruptSignal() os.Signal {
	return syscall.SIGTERM
}
