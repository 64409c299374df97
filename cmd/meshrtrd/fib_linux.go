//go:build linux

package main

import (
	"github.com/kuuji/meshrtr/internal/fib"
)

// newFIBDriver opens the platform FIB driver. Linux speaks rtnetlink
// directly (internal/fib/rtnetlink_driver.go); other platforms have none.
func newFIBDriver() (fib.Driver, error) {
	return fib.NewLinuxDriver()
}
