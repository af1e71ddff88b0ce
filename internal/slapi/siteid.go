package slapi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// lookupBase converts an SL site id into the route planner's extended id.
const lookupBase = 300100000

var (
	ErrSourceInvalid         = errors.New("source is not a valid site id or lat,lon pair")
	ErrDestinationInvalid    = errors.New("destination is not a valid site id or lat,lon pair")
	ErrInconsistentEndpoints = errors.New("source and destination must both be site ids or both be coordinates")
)

// LookupSiteID returns the route planner id for an SL site id.
func LookupSiteID(site int) int {
	return lookupBase + site
}

// TransportSiteID reverses LookupSiteID.
func TransportSiteID(lookup int) int {
	return lookup - lookupBase
}

// Endpoints is a validated route planner origin/destination pair. Either the
// ids or all four coordinates are set.
type Endpoints struct {
	OriginID, DestID string

	OriginLat, OriginLon string
	DestLat, DestLon     string
}

// Coords reports whether the endpoints are coordinates.
func (e Endpoints) Coords() bool {
	return e.OriginID == "" && e.OriginLat != ""
}

// SiteIDOrCoords validates source and dest as either two site ids or two
// "lat,lon" pairs (optionally wrapped in parentheses). Site ids below the
// lookup base are converted with LookupSiteID.
func SiteIDOrCoords(source, dest string) (Endpoints, error) {
	srcCoords, dstCoords := strings.Contains(source, ","), strings.Contains(dest, ",")
	if srcCoords != dstCoords {
		return Endpoints{}, ErrInconsistentEndpoints
	}

	var errs []error
	if srcCoords {
		sLat, sLon, ok := parseCoords(source)
		if !ok {
			errs = append(errs, ErrSourceInvalid)
		}
		dLat, dLon, ok := parseCoords(dest)
		if !ok {
			errs = append(errs, ErrDestinationInvalid)
		}
		if len(errs) > 0 {
			return Endpoints{}, errors.Join(errs...)
		}
		return Endpoints{OriginLat: sLat, OriginLon: sLon, DestLat: dLat, DestLon: dLon}, nil
	}

	src, ok := parseSiteID(source)
	if !ok {
		errs = append(errs, ErrSourceInvalid)
	}
	dst, ok := parseSiteID(dest)
	if !ok {
		errs = append(errs, ErrDestinationInvalid)
	}
	if len(errs) > 0 {
		return Endpoints{}, errors.Join(errs...)
	}
	return Endpoints{OriginID: src, DestID: dst}, nil
}

func parseSiteID(s string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return "", false
	}
	if n < lookupBase {
		n = LookupSiteID(n)
	}
	return strconv.Itoa(n), true
}

func parseCoords(s string) (lat, lon string, ok bool) {
	s = strings.Trim(strings.TrimSpace(s), "()")
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return "", "", false
	}
	lat, lon = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil || la < -90 || la > 90 {
		return "", "", false
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil || lo < -180 || lo > 180 {
		return "", "", false
	}
	return lat, lon, true
}

// String renders the endpoints for logs.
func (e Endpoints) String() string {
	if e.Coords() {
		return fmt.Sprintf("(%s,%s)-(%s,%s)", e.OriginLat, e.OriginLon, e.DestLat, e.DestLon)
	}
	return e.OriginID + "-" + e.DestID
}
