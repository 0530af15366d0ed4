package host

import (
	"net"
	"sort"
)

// LocalAddresses lists this machine's non-loopback IPv4 addresses, private
// ranges first, so an operator knows what to type into a client.
func LocalAddresses() []string {
	ifaces, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, a := range ifaces {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil || ip.IsLoopback() {
			continue
		}
		out = append(out, ip.String())
	}
	sortAddresses(out)
	return out
}

func sortAddresses(addrs []string) {
	sort.Slice(addrs, func(i, j int) bool {
		si, sj := addressRank(addrs[i]), addressRank(addrs[j])
		if si != sj {
			return si < sj
		}
		return addrs[i] < addrs[j]
	})
}

// addressRank orders private before public before link-local.
func addressRank(addr string) int {
	ip := net.ParseIP(addr)
	switch {
	case ip == nil:
		return 9
	case ip.IsPrivate():
		return 0
	case ip.IsLinkLocalUnicast():
		return 2
	}
	return 1
}
