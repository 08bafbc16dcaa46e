package discovery

import (
	"net"
	"sort"
)

// SortIPsByPreference orders addresses for dialing a gateway. Priority
// (highest first):
//  1. IPv4 unicast
//  2. IPv6 global unicast
//  3. IPv6 unique local (fc00::/7)
//  4. IPv6 link-local (fe80::/10)
//  5. loopback, then anything else
//
// Link-local IPv6 ranks low because zeroconf does not report the zone
// needed to dial it.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}
	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

// ipPriority returns the priority of an IP address (lower is better).
func ipPriority(ip net.IP) int {
	if ip.To16() == nil {
		return 99
	}
	switch {
	case ip.IsLoopback():
		return 80
	case ip.IsMulticast(), ip.IsUnspecified():
		return 90
	case ip.To4() != nil:
		if ip.IsLinkLocalUnicast() {
			return 40
		}
		return 0
	case isUniqueLocal(ip):
		return 2
	case ip.IsLinkLocalUnicast():
		return 3
	case ip.IsGlobalUnicast():
		return 1
	}
	return 10
}

// isUniqueLocal returns true if the IP is an IPv6 Unique Local Address.
func isUniqueLocal(ip net.IP) bool {
	ip = ip.To16()
	if ip == nil || ip.To4() != nil {
		return false
	}
	return ip[0]&0xfe == 0xfc
}

// FilterIPv4 returns only IPv4 addresses from the slice.
func FilterIPv4(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// FilterIPv6 returns only IPv6 addresses from the slice.
func FilterIPv6(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() == nil && ip.To16() != nil {
			result = append(result, ip)
		}
	}
	return result
}
