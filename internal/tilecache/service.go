package tilecache

import (
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"
)

// Service is a protocol front end: it turns a path and parameters into a
// Request, renders capabilities and formats exceptions.
type Service interface {
	// Name is the service type and the first path segment it is mounted on.
	Name() string

	// ParseRequest builds a request descriptor from the path below the
	// service prefix. It raises the error flag on ctx and returns nil when
	// the request is invalid.
	ParseRequest(ctx *Context, cfg *Config, pathInfo string, params *Table) Request

	// Capabilities renders the capabilities document for req.
	Capabilities(ctx *Context, cfg *Config, req *CapabilitiesRequest, baseURL string) (body []byte, contentType string)

	// FormatError renders an exception document.
	FormatError(code int, message string) (body []byte, contentType string)
}

func newService(typ string) Service {
	switch strings.ToLower(typ) {
	case "wmts":
		return &WMTSService{}
	case "tms":
		return &TMSService{}
	case "wms":
		return &WMSService{}
	default:
		return nil
	}
}

// metersPerUnit converts grid units to meters for scale denominators.
func metersPerUnit(unit string) float64 {
	switch unit {
	case "dd":
		return 6378137 * 2 * 3.141592653589793 / 360
	case "ft":
		return 0.3048
	default:
		return 1
	}
}

func serviceURL(baseURL string, svc Service) string {
	return strings.TrimRight(baseURL, "/") + "/" + svc.Name()
}

func marshalXML(v any) []byte {
	out, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		// Only reachable with unsupported field types.
		panic("tilecache: marshal xml: " + err.Error())
	}
	return append([]byte(xml.Header), out...)
}

// parseIntParam reads a required integer parameter.
func parseIntParam(ctx *Context, svc, name, value string) (int, bool) {
	if value == "" {
		ctx.SetError(http.StatusBadRequest, "received %s request with no %s", svc, name)
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		ctx.SetError(http.StatusBadRequest, "received %s request with invalid %s %q", svc, name, value)
		return 0, false
	}
	return n, true
}

// lookupTile resolves the layer, grid and coordinates shared by every
// single-tile request. When topOrigin is set, y counts rows from the top.
func lookupTile(ctx *Context, cfg *Config, svc Service, layer, gridName string, z, x, y int, topOrigin bool) *TileRequest {
	ts, ok := cfg.Tilesets[layer]
	if !ok {
		ctx.SetError(http.StatusBadRequest, "received %s request with invalid layer %s", svc.Name(), layer)
		return nil
	}
	var grid *Grid
	if gridName == "" && len(ts.Grids) == 1 {
		grid = ts.Grids[0]
	} else {
		grid = ts.Grid(gridName)
	}
	if grid == nil {
		ctx.SetError(http.StatusBadRequest, "received %s request with invalid grid %s for layer %s", svc.Name(), gridName, layer)
		return nil
	}
	if z < 0 || z >= grid.Levels() {
		ctx.SetError(http.StatusBadRequest, "received %s request with invalid zoom level %d", svc.Name(), z)
		return nil
	}
	if topOrigin {
		y = grid.FlipY(y, z)
	}
	if !grid.Contains(x, y, z) {
		ctx.SetError(http.StatusNotFound, "tile x=%d y=%d z=%d is outside of grid %s", x, y, z, grid.Name)
		return nil
	}
	return &TileRequest{
		baseRequest: baseRequest{service: svc},
		Tileset:     ts,
		Grid:        grid,
		Format:      ts.Format,
		X:           x,
		Y:           y,
		Z:           z,
	}
}
