package tilecache

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
)

const tmsVersion = "1.0.0"

// TMSService serves the OSGeo Tile Map Service layout:
// /tms/1.0.0/{tileset}@{grid}/{z}/{x}/{y}.{ext}.
type TMSService struct{}

func (s *TMSService) Name() string { return "tms" }

func (s *TMSService) ParseRequest(ctx *Context, cfg *Config, pathInfo string, _ *Table) Request {
	rest := strings.Trim(pathInfo, "/")
	if rest == "" {
		return &CapabilitiesRequest{baseRequest: baseRequest{service: s}}
	}
	parts := strings.Split(rest, "/")
	if parts[0] != tmsVersion {
		ctx.SetError(http.StatusNotFound, "received tms request with invalid version %s", parts[0])
		return nil
	}

	switch len(parts) {
	case 1:
		return &CapabilitiesRequest{baseRequest: baseRequest{service: s}}
	case 2:
		ts, grid := s.resolveLayer(ctx, cfg, parts[1])
		if ts == nil {
			return nil
		}
		return &CapabilitiesRequest{baseRequest: baseRequest{service: s}, Tileset: ts, Grid: grid}
	case 5:
		layer, gridName, _ := strings.Cut(parts[1], "@")
		last := parts[4]
		dot := strings.LastIndexByte(last, '.')
		if dot < 0 {
			ctx.SetError(http.StatusBadRequest, "received tms request with no tile extension")
			return nil
		}
		z, ok := parseIntParam(ctx, "tms", "z", parts[2])
		if !ok {
			return nil
		}
		x, ok := parseIntParam(ctx, "tms", "x", parts[3])
		if !ok {
			return nil
		}
		y, ok := parseIntParam(ctx, "tms", "y", last[:dot])
		if !ok {
			return nil
		}
		tile := lookupTile(ctx, cfg, s, layer, gridName, z, x, y, false)
		if tile == nil {
			return nil
		}
		if f := cfg.formatByExtension(last[dot+1:]); f != nil {
			tile.Format = f
		}
		return tile
	default:
		ctx.SetError(http.StatusNotFound, "received tms request with invalid path %s", pathInfo)
		return nil
	}
}

func (s *TMSService) resolveLayer(ctx *Context, cfg *Config, ref string) (*Tileset, *Grid) {
	layer, gridName, _ := strings.Cut(ref, "@")
	ts, ok := cfg.Tilesets[layer]
	if !ok {
		ctx.SetError(http.StatusNotFound, "received tms request with invalid layer %s", layer)
		return nil, nil
	}
	if gridName == "" {
		return ts, ts.Grids[0]
	}
	g := ts.Grid(gridName)
	if g == nil {
		ctx.SetError(http.StatusNotFound, "received tms request with invalid grid %s for layer %s", gridName, layer)
		return nil, nil
	}
	return ts, g
}

type tmsService struct {
	XMLName  xml.Name     `xml:"TileMapService"`
	Version  string       `xml:"version,attr"`
	Title    string       `xml:"Title"`
	Abstract string       `xml:"Abstract"`
	TileMaps []tmsMapLink `xml:"TileMaps>TileMap"`
}

type tmsMapLink struct {
	Title   string `xml:"title,attr"`
	SRS     string `xml:"srs,attr"`
	Profile string `xml:"profile,attr"`
	Href    string `xml:"href,attr"`
}

type tmsTileMap struct {
	XMLName     xml.Name `xml:"TileMap"`
	Version     string   `xml:"version,attr"`
	ServiceURL  string   `xml:"tilemapservice,attr"`
	Title       string   `xml:"Title"`
	Abstract    string   `xml:"Abstract"`
	SRS         string   `xml:"SRS"`
	BoundingBox struct {
		MinX float64 `xml:"minx,attr"`
		MinY float64 `xml:"miny,attr"`
		MaxX float64 `xml:"maxx,attr"`
		MaxY float64 `xml:"maxy,attr"`
	} `xml:"BoundingBox"`
	Origin struct {
		X float64 `xml:"x,attr"`
		Y float64 `xml:"y,attr"`
	} `xml:"Origin"`
	TileFormat struct {
		Width     int    `xml:"width,attr"`
		Height    int    `xml:"height,attr"`
		MimeType  string `xml:"mime-type,attr"`
		Extension string `xml:"extension,attr"`
	} `xml:"TileFormat"`
	TileSets []tmsTileSet `xml:"TileSets>TileSet"`
}

type tmsTileSet struct {
	Href          string  `xml:"href,attr"`
	UnitsPerPixel float64 `xml:"units-per-pixel,attr"`
	Order         int     `xml:"order,attr"`
}

func (s *TMSService) Capabilities(_ *Context, cfg *Config, req *CapabilitiesRequest, baseURL string) ([]byte, string) {
	url := serviceURL(baseURL, s) + "/" + tmsVersion

	if req.Tileset == nil {
		doc := tmsService{Version: tmsVersion, Title: cfg.Metadata.Title, Abstract: cfg.Metadata.Abstract}
		for _, name := range cfg.TilesetNames() {
			ts := cfg.Tilesets[name]
			for _, g := range ts.Grids {
				doc.TileMaps = append(doc.TileMaps, tmsMapLink{
					Title:   ts.Metadata.Title,
					SRS:     g.SRS,
					Profile: "none",
					Href:    fmt.Sprintf("%s/%s@%s", url, ts.Name, g.Name),
				})
			}
		}
		return marshalXML(doc), "text/xml"
	}

	ts, g := req.Tileset, req.Grid
	doc := tmsTileMap{
		Version:    tmsVersion,
		ServiceURL: url + "/",
		Title:      ts.Metadata.Title,
		Abstract:   ts.Metadata.Abstract,
		SRS:        g.SRS,
	}
	doc.BoundingBox.MinX, doc.BoundingBox.MinY = g.Extent[0], g.Extent[1]
	doc.BoundingBox.MaxX, doc.BoundingBox.MaxY = g.Extent[2], g.Extent[3]
	doc.Origin.X, doc.Origin.Y = g.Extent[0], g.Extent[1]
	doc.TileFormat.Width, doc.TileFormat.Height = g.TileWidth, g.TileHeight
	doc.TileFormat.MimeType, doc.TileFormat.Extension = ts.Format.MimeType, ts.Format.Extension
	for z, res := range g.Resolutions {
		doc.TileSets = append(doc.TileSets, tmsTileSet{
			Href:          fmt.Sprintf("%s/%s@%s/%d", url, ts.Name, g.Name, z),
			UnitsPerPixel: res,
			Order:         z,
		})
	}
	return marshalXML(doc), "text/xml"
}

type tmsError struct {
	XMLName xml.Name `xml:"TileMapServerError"`
	Message string   `xml:"Message"`
}

func (s *TMSService) FormatError(_ int, message string) ([]byte, string) {
	return marshalXML(tmsError{Message: message}), "text/xml"
}
