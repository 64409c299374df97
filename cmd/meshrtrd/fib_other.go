//go:build !linux

package main

import (
	"fmt"
	"runtime"

	"github.com/kuuji/meshrtr/internal/fib"
)

// newFIBDriver reports that no FIB driver exists for this platform; only
// Linux's rtnetlink driver is implemented (internal/fib/rtnetlink_driver.go).
func newFIBDriver() (fib.Driver, error) {
	return nil, fmt.Errorf("fib: no driver implemented for %s", runtime.GOOS)
}
