package httputil

import (
	"net"
	"net/http"
)

// ClientIP is the remote host without its port. Behind chi's RealIP
// middleware RemoteAddr already holds the forwarded address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
