//go:build windows

package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a net.ListenConfig that sets SO_REUSEADDR
// before binding.
func ReuseAddrListenConfig() net.ListenConfig {
	return listenConfig(syscall.SO_REUSEADDR)
}

// BroadcastListenConfig additionally enables SO_BROADCAST.
func BroadcastListenConfig() net.ListenConfig {
	return listenConfig(syscall.SO_REUSEADDR, syscall.SO_BROADCAST)
}

func listenConfig(opts ...int) net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				for _, opt := range opts {
					syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, opt, 1)
				}
			})
		},
	}
}
