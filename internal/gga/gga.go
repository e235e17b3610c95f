// Package gga builds NMEA GPGGA keep-alive sentences sent by the Upstream
// Client to a pull-mode remote caster, grounded on the coordinate-to-
// sentence algorithm in spec.md §6 and the reference-position handling in
// original_source/ntrip_client.py's DEFAULT_PROVINCES table.
package gga

import (
	"fmt"
	"math"
	"time"
)

// Build renders a full GPGGA sentence (including trailing \r\n and the
// checksum) for the given reference position, using now as the UTC time
// field.
func Build(lat, lon float64, now time.Time) string {
	body := body(lat, lon, now)
	return fmt.Sprintf("%s*%s\r\n", body, checksum(body))
}

func body(lat, lon float64, now time.Time) string {
	t := now.UTC().Format("150405")
	latField, latHemi := degreesField(lat, 2)
	lonField, lonHemi := degreesField(lon, 3)
	return fmt.Sprintf(
		"$GPGGA,%s.00,%s,%s,%s,%s,1,12,1.0,10.0,M,0.0,M,,",
		t, latField, latHemi, lonField, lonHemi,
	)
}

// degreesField renders |v| as DD...D MM.mmm with degWidth integer digits
// of degrees, and reports the hemisphere letter selected by the sign of
// v. latitude uses degWidth=2 (DDMM.mmm, 8 chars); longitude uses
// degWidth=3 (DDDMM.mmm, 9 chars).
func degreesField(v float64, degWidth int) (field string, hemi string) {
	abs := math.Abs(v)
	deg := math.Floor(abs)
	min := (abs - deg) * 60

	// Guard against a minutes value that rounds up to 60.000 at three
	// fractional digits, which would otherwise overflow the MM field.
	minRounded := math.Round(min*1000) / 1000
	if minRounded >= 60 {
		deg++
		minRounded -= 60
	}

	degStr := fmt.Sprintf("%0*d", degWidth, int(deg))
	minStr := fmt.Sprintf("%06.3f", minRounded)
	field = degStr + minStr

	if degWidth == 2 {
		if v >= 0 {
			hemi = "N"
		} else {
			hemi = "S"
		}
	} else {
		if v >= 0 {
			hemi = "E"
		} else {
			hemi = "W"
		}
	}
	return field, hemi
}

// checksum computes the NMEA checksum: XOR of every byte of body after
// the leading '$', rendered as two uppercase hex digits.
func checksum(body string) string {
	var c byte
	for i := 1; i < len(body); i++ {
		c ^= body[i]
	}
	return fmt.Sprintf("%02X", c)
}
