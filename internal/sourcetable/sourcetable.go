// Package sourcetable renders the NTRIP sourcetable body served on GET /,
// adapted from bramburn-gnssgo/pkg/caster/sourcetable.go's CAS/NET/STR
// record model, and wraps it in the bit-exact HTTP response spec.md §6
// requires.
package sourcetable

import (
	"fmt"
	"strings"
)

// Table holds the structured records that make up a sourcetable body.
// A station may instead configure a raw body string directly (see
// internal/config), in which case Table is unused and the configured
// string is rendered verbatim.
type Table struct {
	Casters  []CasterEntry
	Networks []NetworkEntry
	Streams  []StreamEntry
}

// Body renders the table to its wire text: one CAS/NET/STR line per
// entry, CRLF-joined. The ENDSOURCETABLE trailer is not part of the
// body; Response appends it per spec.md §6's framing.
func (t Table) Body() string {
	lines := make([]string, 0, len(t.Casters)+len(t.Networks)+len(t.Streams))
	for _, c := range t.Casters {
		lines = append(lines, c.String())
	}
	for _, n := range t.Networks {
		lines = append(lines, n.String())
	}
	for _, s := range t.Streams {
		lines = append(lines, s.String())
	}
	return strings.Join(lines, "\r\n")
}

// CasterEntry is a CAS; record describing the caster itself.
type CasterEntry struct {
	Host                string  `yaml:"host"`
	Port                int     `yaml:"port"`
	Identifier          string  `yaml:"identifier"`
	Operator            string  `yaml:"operator"`
	NMEA                bool    `yaml:"nmea"`
	Country             string  `yaml:"country"`
	Latitude            float64 `yaml:"latitude"`
	Longitude           float64 `yaml:"longitude"`
	FallbackHostAddress string  `yaml:"fallback_host_address"`
	FallbackHostPort    int     `yaml:"fallback_host_port"`
	Misc                string  `yaml:"misc"`
}

func (c CasterEntry) String() string {
	return strings.Join([]string{
		"CAS", c.Host, fmt.Sprintf("%d", c.Port), c.Identifier, c.Operator,
		boolFlag(c.NMEA, "1", "0"), c.Country,
		fmt.Sprintf("%.4f", c.Latitude), fmt.Sprintf("%.4f", c.Longitude),
		c.FallbackHostAddress, fmt.Sprintf("%d", c.FallbackHostPort), c.Misc,
	}, ";")
}

// NetworkEntry is a NET; record describing a network of stations.
type NetworkEntry struct {
	Identifier          string `yaml:"identifier"`
	Operator            string `yaml:"operator"`
	Authentication      string `yaml:"authentication"`
	Fee                 bool   `yaml:"fee"`
	NetworkInfoURL      string `yaml:"network_info_url"`
	StreamInfoURL       string `yaml:"stream_info_url"`
	RegistrationAddress string `yaml:"registration_address"`
	Misc                string `yaml:"misc"`
}

func (n NetworkEntry) String() string {
	return strings.Join([]string{
		"NET", n.Identifier, n.Operator, n.Authentication, boolFlag(n.Fee, "Y", "N"),
		n.NetworkInfoURL, n.StreamInfoURL, n.RegistrationAddress, n.Misc,
	}, ";")
}

// StreamEntry is a STR; record describing one mountpoint.
type StreamEntry struct {
	Mountpoint     string  `yaml:"mountpoint"`
	Identifier     string  `yaml:"identifier"`
	Format         string  `yaml:"format"`
	FormatDetails  string  `yaml:"format_details"`
	Carrier        string  `yaml:"carrier"`
	NavSystem      string  `yaml:"nav_system"`
	Network        string  `yaml:"network"`
	CountryCode    string  `yaml:"country_code"`
	Latitude       float64 `yaml:"latitude"`
	Longitude      float64 `yaml:"longitude"`
	NMEA           bool    `yaml:"nmea"`
	Solution       bool    `yaml:"solution"`
	Generator      string  `yaml:"generator"`
	Compression    string  `yaml:"compression"`
	Authentication string  `yaml:"authentication"`
	Fee            bool    `yaml:"fee"`
	Bitrate        int     `yaml:"bitrate"`
	Misc           string  `yaml:"misc"`
}

func (s StreamEntry) String() string {
	return strings.Join([]string{
		"STR", s.Mountpoint, s.Identifier, s.Format, s.FormatDetails, s.Carrier,
		s.NavSystem, s.Network, s.CountryCode,
		fmt.Sprintf("%.4f", s.Latitude), fmt.Sprintf("%.4f", s.Longitude),
		boolFlag(s.NMEA, "1", "0"), boolFlag(s.Solution, "1", "0"),
		s.Generator, s.Compression, s.Authentication, boolFlag(s.Fee, "Y", "N"),
		fmt.Sprintf("%d", s.Bitrate), s.Misc,
	}, ";")
}

func boolFlag(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}

// Response renders the full bit-exact HTTP sourcetable response for the
// given body text, per spec.md §6: Content-Length is the byte length of
// body alone, and the body is followed by its own CRLF and the
// ENDSOURCETABLE trailer line.
func Response(body string) string {
	return fmt.Sprintf(
		"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s\r\nENDSOURCETABLE\r\n",
		len(body), body,
	)
}
