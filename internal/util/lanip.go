package util

import (
	"net"
)

// LanIP returns the address of the interface that would route to the
// internet, which is the address phones on the same LAN can reach. No
// packet is actually sent. Falls back to loopback when detection fails.
func LanIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
