//go:build !unix

package main

import "os"

var exportSignals []os.Signal

func isExportSignal(os.Signal) bool {
	return false
}
