package utils

import (
	"net"
	"strconv"
)

const (
	MinPort = 1024
	MaxPort = 65535
)

// IsValidPort reports whether port is usable for the listener. Well-known
// ports below 1024 are refused.
func IsValidPort(port int) bool {
	return port >= MinPort && port <= MaxPort
}

// PortOf extracts the port of a host:port address.
func PortOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

// LocalIPAddress returns the first private IPv4 address of an interface that
// is up and not a loopback, or "localhost" when there is none.
func LocalIPAddress() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "localhost"
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip := pickPrivateIPv4(addrs); ip != "" {
			return ip
		}
	}
	return "localhost"
}

func pickPrivateIPv4(addrs []net.Addr) string {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() || !ip.IsPrivate() {
			continue
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
