package drone

import (
	"errors"
	"fmt"
	"net"
)

// ErrCheckUnavailable means the host network could not be inspected; Connect proceeds anyway
var ErrCheckUnavailable = errors.New("network check unavailable")

// NetworkChecker reports whether the host is on the drone's network
type NetworkChecker func() (bool, error)

// SubnetChecker returns a checker looking for a local interface address inside subnet
func SubnetChecker(subnet string) NetworkChecker {
	return func() (bool, error) {
		_, ipNet, err := net.ParseCIDR(subnet)
		if err != nil {
			return false, fmt.Errorf("invalid drone subnet %q: %w", subnet, err)
		}
		addrs, err := net.InterfaceAddrs()
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrCheckUnavailable, err)
		}
		return addrsInSubnet(addrs, ipNet), nil
	}
}

func addrsInSubnet(addrs []net.Addr, subnet *net.IPNet) bool {
	for _, addr := range addrs {
		var ip net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			ip = a.IP
		case *net.IPAddr:
			ip = a.IP
		}
		if ip != nil && subnet.Contains(ip) {
			return true
		}
	}
	return false
}
