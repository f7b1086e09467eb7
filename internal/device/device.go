// Package device derives the DeviceContext recorded on a session from an
// incoming request: client IP, parsed user-agent and a coarse location.
package device

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"unicode/utf8"

	"github.com/mssola/useragent"

	"github.com/utafrali/promptbase/internal/domain"
)

const unknown = "Unknown"

// Column widths of the sessions table.
const (
	MaxLabelLen    = 100
	MaxIPLen       = 45
	MaxLocationLen = 255
)

// Resolver builds DeviceContexts from requests.
type Resolver struct {
	geo        GeoResolver
	trustProxy bool
}

// NewResolver creates a Resolver. When trustProxy is set the left-most
// X-Forwarded-For entry (or X-Real-IP) is taken as the client address.
func NewResolver(geo GeoResolver, trustProxy bool) *Resolver {
	if geo == nil {
		geo = UnknownLocation{}
	}
	return &Resolver{geo: geo, trustProxy: trustProxy}
}

// FromRequest resolves the device context of r.
func (res *Resolver) FromRequest(r *http.Request) domain.DeviceContext {
	ip := ClientIP(r, res.trustProxy)
	dc := ParseUserAgent(r.UserAgent())
	dc.IPAddress = clamp(ip, MaxIPLen)
	dc.Location = clamp(res.geo.Lookup(ip), MaxLocationLen)
	return dc
}

// ParseUserAgent fills Device, Browser and OS from a User-Agent header.
func ParseUserAgent(header string) domain.DeviceContext {
	if strings.TrimSpace(header) == "" {
		return domain.DeviceContext{Device: unknown, Browser: unknown, OS: unknown}
	}

	ua := useragent.New(header)

	device := "Desktop"
	switch {
	case ua.Bot():
		device = "Bot"
	case ua.Mobile():
		device = "Mobile"
		if p := ua.Platform(); p != "" {
			device = p
		}
	}

	name, version := ua.Browser()
	browser := strings.TrimSpace(name + " " + version)
	if name == "" {
		browser = unknown
	}

	osName := strings.TrimSpace(ua.OS())
	if osName == "" {
		osName = unknown
	}

	return domain.DeviceContext{
		Device:  clamp(device, MaxLabelLen),
		Browser: clamp(browser, MaxLabelLen),
		OS:      clamp(osName, MaxLabelLen),
	}
}

// clamp cuts s to at most n characters.
func clamp(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}

// ClientIP returns the caller's address without port. IPv6 loopback is
// reported as 127.0.0.1.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if ip, ok := parseIP(first); ok {
				return ip
			}
		}
		if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip, ok := parseIP(host); ok {
		return ip
	}
	return "127.0.0.1"
}

func parseIP(s string) (string, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	addr = addr.Unmap().WithZone("")
	if addr.IsLoopback() && addr.Is6() {
		return "127.0.0.1", true
	}
	return addr.String(), true
}
