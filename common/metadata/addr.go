package metadata

import (
	"net"
	"net/netip"
	"strconv"
)

type Socksaddr struct {
	Addr netip.Addr
	Fqdn string
	Port uint16
}

func (ap Socksaddr) IsValid() bool {
	return ap.Addr.IsValid() || ap.Fqdn != ""
}

func (ap Socksaddr) AddrString() string {
	if ap.Addr.IsValid() {
		return ap.Addr.String()
	} else {
		return ap.Fqdn
	}
}

func (ap Socksaddr) String() string {
	if !ap.IsValid() {
		return ""
	}
	return net.JoinHostPort(ap.AddrString(), strconv.Itoa(int(ap.Port)))
}

func SocksaddrFromNetIP(ap netip.AddrPort) Socksaddr {
	if ap.Addr().Is4In6() {
		return Socksaddr{
			Addr: netip.AddrFrom4(ap.Addr().As4()),
			Port: ap.Port(),
		}
	}
	return Socksaddr{
		Addr: ap.Addr(),
		Port: ap.Port(),
	}
}

func ParseAddr(s string) netip.Addr {
	addr, _ := netip.ParseAddr(s)
	if addr.Is4In6() {
		addr = netip.AddrFrom4(addr.As4())
	}
	return addr
}

// ParseSocksaddrHostPort keeps host as an FQDN when it is not an IP literal.
func ParseSocksaddrHostPort(host string, port uint16) Socksaddr {
	netAddr := ParseAddr(host)
	if !netAddr.IsValid() {
		return Socksaddr{
			Fqdn: host,
			Port: port,
		}
	}
	return Socksaddr{
		Addr: netAddr,
		Port: port,
	}
}
