//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns the default listen configuration.
func ReuseAddrListenConfig() net.ListenConfig { return net.ListenConfig{} }

// BroadcastListenConfig returns the default listen configuration.
func BroadcastListenConfig() net.ListenConfig { return net.ListenConfig{} }
