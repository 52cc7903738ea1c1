// Package ports hands out free local TCP ports.
package ports

import (
	"fmt"
	"net"
)

// Allocator finds free ports on a local interface. Uniqueness is best-effort:
// another process may claim the port between Allocate and the caller's bind.
type Allocator struct {
	Host string
}

// NewAllocator returns an Allocator bound to the loopback interface.
func NewAllocator() *Allocator {
	return &Allocator{Host: "127.0.0.1"}
}

// Allocate binds an ephemeral port, releases it and returns its number.
func (a *Allocator) Allocate() (int, error) {
	host := a.Host
	if host == "" {
		host = "127.0.0.1"
	}
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, fmt.Errorf("listen: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
