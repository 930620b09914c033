// Package alloc suggests the next free peer address inside a configuration
// subnet. The result is advisory: the dashboard is the authority and may still
// reject a duplicate.
package alloc

import (
	"net"
	"strings"

	"github.com/c-robinson/iplib"
)

// Bootstrap is returned when no subnet and no peer address is known at all.
const Bootstrap = "10.66.66.2/32"

// Suggest returns a host address in "a.b.c.d/32" form.
//
// Inside subnet it returns the lowest host not present in used, skipping the
// network address and the first host (the server side of the tunnel). When
// subnet is unresolvable or full it continues after the highest address in
// all, skipping last octets 0, 1 and 255.
func Suggest(subnet string, used, all []string) string {
	if n, ok := parseSubnet(subnet); ok {
		if ip, ok := firstFree(n, hostSet(used)); ok {
			return ip.String() + "/32"
		}
	}
	return afterHighest(all)
}

func parseSubnet(s string) (iplib.Net4, bool) {
	s = strings.TrimSpace(firstEntry(s))
	if s == "" {
		return iplib.Net4{}, false
	}
	_, ipnet, err := net.ParseCIDR(s)
	if err != nil || ipnet.IP.To4() == nil {
		return iplib.Net4{}, false
	}
	ones, _ := ipnet.Mask.Size()
	return iplib.NewNet4(ipnet.IP.To4(), ones), true
}

func firstFree(n iplib.Net4, taken map[uint32]struct{}) (net.IP, bool) {
	first := n.FirstAddress()
	last := n.LastAddress()
	if first == nil || last == nil {
		return nil, false
	}
	start, end := iplib.IP4ToUint32(first), iplib.IP4ToUint32(last)
	for cur := uint64(start) + 1; cur <= uint64(end); cur++ {
		if _, ok := taken[uint32(cur)]; !ok {
			return iplib.Uint32ToIP4(uint32(cur)), true
		}
	}
	return nil, false
}

func afterHighest(all []string) string {
	var highest uint32
	found := false
	for ip := range hostSet(all) {
		if !found || ip > highest {
			highest, found = ip, true
		}
	}
	if !found {
		return Bootstrap
	}
	cand := uint64(highest) + 1
	for cand <= 0xffffffff {
		switch uint8(cand & 0xff) {
		case 0, 1, 255:
			cand++
			continue
		}
		return iplib.Uint32ToIP4(uint32(cand)).String() + "/32"
	}
	return Bootstrap
}

// hostSet parses peer allowed-IP strings into IPv4 addresses. Entries may be
// comma separated and carry a prefix length; IPv6 entries are ignored.
func hostSet(addrs []string) map[uint32]struct{} {
	out := make(map[uint32]struct{}, len(addrs))
	for _, a := range addrs {
		for _, part := range strings.Split(a, ",") {
			if ip := Host(part); ip != nil {
				out[iplib.IP4ToUint32(ip)] = struct{}{}
			}
		}
	}
	return out
}

// Host parses one "a.b.c.d" or "a.b.c.d/n" entry, returning nil for anything
// that is not IPv4.
func Host(s string) net.IP {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	return ip.To4()
}

func firstEntry(s string) string {
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[:i]
	}
	return s
}
