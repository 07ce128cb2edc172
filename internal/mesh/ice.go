package mesh

import (
	"net"
	"strings"

	pion "github.com/pion/webrtc/v4"

	"github.com/BioHazard786/classmesh/internal/config"
)

// detectRestricted is swapped in tests.
var detectRestricted = ShouldForceRelay

// Configuration builds the peer connection config. Relay-only policy
// applies when a TURN server exists and either the user asked for it or
// the host looks like it sits behind a VPN or CGNAT.
func Configuration(ice config.ICE) pion.Configuration {
	policy := pion.ICETransportPolicyAll
	if len(ice.TURNServers()) > 0 && (ice.ForceRelay || detectRestricted()) {
		policy = pion.ICETransportPolicyRelay
	}
	return pion.Configuration{
		ICEServers:         ice.ICEServers(),
		ICETransportPolicy: policy,
	}
}

var cgnatBlock = func() *net.IPNet {
	_, block, _ := net.ParseCIDR("100.64.0.0/10")
	return block
}()

// ShouldForceRelay checks if the system is likely behind a restrictive VPN
// or CGNAT, where direct paths usually fail.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		var ips []net.IP
		for _, addr := range addrs {
			switch v := addr.(type) {
			case *net.IPNet:
				ips = append(ips, v.IP)
			case *net.IPAddr:
				ips = append(ips, v.IP)
			}
		}
		if restrictedInterface(iface.Name, ips) {
			return true
		}
	}
	return false
}

// restrictedInterface matches tunnel adapter names (OpenVPN, WireGuard,
// WARP, PPP) and CGNAT addresses.
func restrictedInterface(name string, ips []net.IP) bool {
	name = strings.ToLower(name)
	for _, marker := range []string{"tun", "tap", "wg", "ppp", "warp"} {
		if strings.Contains(name, marker) {
			return true
		}
	}
	for _, ip := range ips {
		if cgnatBlock.Contains(ip) {
			return true
		}
	}
	return false
}
