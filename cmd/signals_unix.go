//go:build unix

package main

import (
	"os"
	"syscall"
)

// SIGUSR1 freezes, exports and unfreezes a headless run.
var exportSignals = []os.Signal{syscall.SIGUSR1}

func isExportSignal(sig os.Signal) bool {
	return sig == syscall.SIGUSR1
}
