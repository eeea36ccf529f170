package server

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
)

// privateNetworks are the peer networks accepted in private-only mode.
var privateNetworks = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("fd00::/8"),
	netip.MustParsePrefix("::1/128"),
}

// privateNetworksOnly rejects peers outside privateNetworks. The TCP peer
// address is used, never forwarding headers.
func privateNetworksOnly(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isPrivate(r.RemoteAddr) {
				log.WarnContext(r.Context(), "rejected request from non-private address",
					slog.String("remote_addr", r.RemoteAddr),
				)
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isPrivate(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()

	for _, p := range privateNetworks {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
