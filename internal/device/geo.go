package device

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/geoip2-golang"
)

// UnknownLocationLabel is recorded when an address cannot be located.
const UnknownLocationLabel = "Unknown Location"

// GeoResolver maps an IP address to a human readable location.
type GeoResolver interface {
	Lookup(ip string) string
}

// UnknownLocation is the GeoResolver used when no database is configured.
type UnknownLocation struct{}

// Lookup always returns UnknownLocationLabel.
func (UnknownLocation) Lookup(string) string { return UnknownLocationLabel }

// GeoIP resolves locations from a MaxMind GeoLite2/GeoIP2 City database.
type GeoIP struct {
	reader *geoip2.Reader
}

// OpenGeoIP opens the City database at path.
func OpenGeoIP(path string) (*GeoIP, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &GeoIP{reader: reader}, nil
}

// Lookup returns "City, CC", or just the country code when the city is
// unknown. Private and loopback addresses are never looked up.
func (g *GeoIP) Lookup(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil || addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() {
		return UnknownLocationLabel
	}

	rec, err := g.reader.City(net.IP(addr.AsSlice()))
	if err != nil {
		return UnknownLocationLabel
	}

	country := rec.Country.IsoCode
	city := rec.City.Names["en"]
	switch {
	case city != "" && country != "":
		return city + ", " + country
	case country != "":
		return country
	default:
		return UnknownLocationLabel
	}
}

// Close releases the database.
func (g *GeoIP) Close() error {
	return g.reader.Close()
}
