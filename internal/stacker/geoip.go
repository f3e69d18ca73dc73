package stacker

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP resolves country codes from a MaxMind database.
type GeoIP struct {
	reader *geoip2.Reader
}

// OpenGeoIP opens the MaxMind country or city database at path.
func OpenGeoIP(path string) (*GeoIP, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &GeoIP{reader: reader}, nil
}

// Country returns the ISO country code of ip.
func (g *GeoIP) Country(ip net.IP) (string, error) {
	rec, err := g.reader.Country(ip)
	if err != nil {
		return "", fmt.Errorf("geoip lookup %s: %w", ip, err)
	}
	return rec.Country.IsoCode, nil
}

// Close releases the database.
func (g *GeoIP) Close() error {
	return g.reader.Close()
}
