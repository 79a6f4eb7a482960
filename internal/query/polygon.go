package query

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

var vertexPattern = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)_(-?\d+(?:\.\d+)?)(?:-|$)`)

// ParsePolygon parses the URL-friendly polygon form "lon_lat-lon_lat-…" into
// vertices. Coordinates may be negative ("-3.5_40.1--3.4_40.2").
func ParsePolygon(s string) ([][2]float64, error) {
	var vertices [][2]float64
	rest := s
	for rest != "" {
		m := vertexPattern.FindStringSubmatch(rest)
		if m == nil {
			return nil, invalidArg("polygon: malformed vertex list at %q", rest)
		}
		lon, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, invalidArg("polygon: longitude %q", m[1])
		}
		lat, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return nil, invalidArg("polygon: latitude %q", m[2])
		}
		vertices = append(vertices, [2]float64{lon, lat})
		rest = rest[len(m[0]):]
		if rest == "" && strings.HasSuffix(m[0], "-") {
			return nil, invalidArg("polygon: trailing separator in %q", s)
		}
	}
	if len(vertices) == 0 {
		return nil, invalidArg("polygon: no vertices")
	}
	return vertices, nil
}

// PolygonWKT validates the vertices of a WGS84 polygon ring and returns its
// WKT. An open ring is closed by repeating the first vertex.
func PolygonWKT(vertices [][2]float64) (string, error) {
	coords := make([]geom.Coord, 0, len(vertices)+1)
	for _, v := range vertices {
		if err := validateLonLat(v[0], v[1]); err != nil {
			return "", err
		}
		coords = append(coords, geom.Coord{v[0], v[1]})
	}
	if len(coords) > 0 && !coords[0].Equal(geom.XY, coords[len(coords)-1]) {
		coords = append(coords, coords[0])
	}
	if len(coords) < 4 {
		return "", invalidArg("polygon: need at least 3 distinct vertices, got %d", len(vertices))
	}

	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{coords})
	if err != nil {
		return "", eris.Wrap(ErrInvalidArgument, err.Error())
	}
	out, err := wkt.Marshal(poly)
	if err != nil {
		return "", eris.Wrap(err, "query: encode polygon")
	}
	return out, nil
}
