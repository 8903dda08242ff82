package metadata_test

import (
	"net/netip"
	"testing"

	M "github.com/sagernet/sing-reactor/common/metadata"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestParseSocksaddrHostPort(t *testing.T) {
	t.Parallel()
	addr := M.ParseSocksaddrHostPort("::ffff:10.0.0.1", 80)
	require.True(t, addr.Addr.IsValid())
	require.True(t, addr.Addr.Is4())
	require.Equal(t, "10.0.0.1:80", addr.String())

	addr = M.ParseSocksaddrHostPort("example.org", 443)
	require.False(t, addr.Addr.IsValid())
	require.Equal(t, "example.org", addr.AddrString())
	require.Equal(t, "example.org:443", addr.String())

	require.Equal(t, "[::1]:53", M.ParseSocksaddrHostPort("::1", 53).String())
}

func TestSockaddrConversion(t *testing.T) {
	t.Parallel()
	for _, value := range []string{"127.0.0.1:7000", "[2001:db8::1]:443"} {
		addrPort := netip.MustParseAddrPort(value)
		sockaddr := M.AddrPortToSockaddr(addrPort)
		require.Equal(t, addrPort, M.AddrPortFromSockaddr(sockaddr))
		require.Equal(t, value, M.SocksaddrFromSockaddr(sockaddr).String())
	}
	require.Equal(t, unix.AF_INET, M.Family(netip.MustParseAddr("10.0.0.1")))
	require.Equal(t, unix.AF_INET6, M.Family(netip.MustParseAddr("::1")))
	require.False(t, M.AddrPortFromSockaddr(&unix.SockaddrUnix{Name: "/tmp/x"}).IsValid())
}
