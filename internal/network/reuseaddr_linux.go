//go:build linux

package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a net.ListenConfig that sets SO_REUSEADDR
// before binding so a restarted host can reclaim ports in TIME_WAIT.
func ReuseAddrListenConfig() net.ListenConfig {
	return listenConfig(syscall.SO_REUSEADDR)
}

// BroadcastListenConfig additionally enables SO_BROADCAST, required to send
// LAN advertisements to the broadcast address.
func BroadcastListenConfig() net.ListenConfig {
	return listenConfig(syscall.SO_REUSEADDR, syscall.SO_BROADCAST)
}

func listenConfig(opts ...int) net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				for _, opt := range opts {
					if opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, opt, 1); opErr != nil {
						return
					}
				}
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}
