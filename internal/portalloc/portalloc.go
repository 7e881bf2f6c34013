// Package portalloc hands out free loopback TCP ports for worker launches.
package portalloc

import (
	"fmt"
	"net"
)

// Allocate asks the OS for a free port by binding a transient listener to
// 127.0.0.1:0 and reading back the assigned number. The listener is closed
// before returning, so the caller must hand the port to the worker promptly;
// nothing is retained between calls.
func Allocate() (int, error) {
	ln, port, err := listen()
	if err != nil {
		return 0, err
	}
	_ = ln.Close()
	return port, nil
}

// AllocateDistinct returns a free port different from avoid. When the OS
// hands avoid straight back, the first listener is held open while a second
// port is requested, so the second request cannot receive the same number.
// avoid <= 0 means no port to avoid.
func AllocateDistinct(avoid int) (int, error) {
	ln, port, err := listen()
	if err != nil {
		return 0, err
	}
	if avoid <= 0 || port != avoid {
		_ = ln.Close()
		return port, nil
	}
	ln2, port2, err := listen()
	_ = ln.Close()
	if err != nil {
		return 0, err
	}
	_ = ln2.Close()
	return port2, nil
}

func listen() (net.Listener, int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("allocate loopback port: %w", err)
	}
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		_ = ln.Close()
		return nil, 0, fmt.Errorf("allocate loopback port: unexpected addr type %T", ln.Addr())
	}
	return ln, addr.Port, nil
}
