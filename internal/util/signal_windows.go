//go:build windows

package util

import "os"

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal attempts graceful process termination.
// Windows has no SIGINT for child processes, so capture falls back to the kill
// that follows the shutdown timeout.
func GracefulSignal(_ *os.Process) error {
	return nil
}
