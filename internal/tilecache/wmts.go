package tilecache

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
)

const wmtsVersion = "1.0.0"

// WMTSService serves OGC WMTS 1.0.0 in KVP and RESTful encodings.
type WMTSService struct{}

func (s *WMTSService) Name() string { return "wmts" }

func (s *WMTSService) ParseRequest(ctx *Context, cfg *Config, pathInfo string, params *Table) Request {
	if rest := strings.Trim(pathInfo, "/"); rest != "" {
		return s.parseREST(ctx, cfg, strings.Split(rest, "/"))
	}

	request := params.Get("REQUEST")
	if request == "" {
		ctx.SetError(http.StatusBadRequest, "received wmts request with no request")
		return nil
	}

	switch strings.ToLower(request) {
	case "getcapabilities":
		return &CapabilitiesRequest{baseRequest: baseRequest{service: s}}
	case "gettile":
		return s.parseKVPTile(ctx, cfg, params)
	case "getfeatureinfo":
		tile := s.parseKVPTile(ctx, cfg, params)
		if tile == nil {
			return nil
		}
		return s.featureInfo(ctx, tile, params)
	default:
		ctx.SetError(http.StatusNotImplemented, "received wmts request with invalid request %s", request)
		return nil
	}
}

func (s *WMTSService) parseKVPTile(ctx *Context, cfg *Config, params *Table) *TileRequest {
	layer := params.Get("LAYER")
	if layer == "" {
		ctx.SetError(http.StatusBadRequest, "received wmts request with no layer")
		return nil
	}
	matrixSet := params.Get("TILEMATRIXSET")
	if matrixSet == "" {
		ctx.SetError(http.StatusBadRequest, "received wmts request with no tilematrixset")
		return nil
	}
	z, ok := parseIntParam(ctx, "wmts", "tilematrix", params.Get("TILEMATRIX"))
	if !ok {
		return nil
	}
	row, ok := parseIntParam(ctx, "wmts", "tilerow", params.Get("TILEROW"))
	if !ok {
		return nil
	}
	col, ok := parseIntParam(ctx, "wmts", "tilecol", params.Get("TILECOL"))
	if !ok {
		return nil
	}
	return lookupTile(ctx, cfg, s, layer, matrixSet, z, col, row, true)
}

// parseREST handles 1.0.0/WMTSCapabilities.xml and
// 1.0.0/{layer}/{style}/{matrixset}/{matrix}/{row}/{col}.{ext}.
func (s *WMTSService) parseREST(ctx *Context, cfg *Config, parts []string) Request {
	if parts[0] != wmtsVersion {
		ctx.SetError(http.StatusNotFound, "received wmts request with invalid version %s", parts[0])
		return nil
	}
	switch len(parts) {
	case 2:
		if parts[1] == "WMTSCapabilities.xml" {
			return &CapabilitiesRequest{baseRequest: baseRequest{service: s}}
		}
	case 7:
		last := parts[6]
		dot := strings.LastIndexByte(last, '.')
		if dot < 0 {
			ctx.SetError(http.StatusBadRequest, "received wmts request with no tile extension")
			return nil
		}
		z, ok := parseIntParam(ctx, "wmts", "tilematrix", parts[4])
		if !ok {
			return nil
		}
		row, ok := parseIntParam(ctx, "wmts", "tilerow", parts[5])
		if !ok {
			return nil
		}
		col, ok := parseIntParam(ctx, "wmts", "tilecol", last[:dot])
		if !ok {
			return nil
		}
		tile := lookupTile(ctx, cfg, s, parts[1], parts[3], z, col, row, true)
		if tile == nil {
			return nil
		}
		if f := cfg.formatByExtension(last[dot+1:]); f != nil {
			tile.Format = f
		}
		return tile
	}
	ctx.SetError(http.StatusNotFound, "received wmts request with invalid path")
	return nil
}

func (s *WMTSService) featureInfo(ctx *Context, tile *TileRequest, params *Table) Request {
	if tile.Tileset.Source == nil {
		ctx.SetError(http.StatusBadRequest, "layer %s does not support feature info", tile.Tileset.Name)
		return nil
	}
	i, ok := parseIntParam(ctx, "wmts", "i", params.Get("I"))
	if !ok {
		return nil
	}
	j, ok := parseIntParam(ctx, "wmts", "j", params.Get("J"))
	if !ok {
		return nil
	}
	if i < 0 || j < 0 || i >= tile.Grid.TileWidth || j >= tile.Grid.TileHeight {
		ctx.SetError(http.StatusBadRequest, "received wmts request with i,j %d,%d outside of the tile", i, j)
		return nil
	}
	infoFormat := params.Get("INFOFORMAT")
	if infoFormat == "" {
		ctx.SetError(http.StatusBadRequest, "received wmts request with no infoformat")
		return nil
	}
	return &FeatureInfoRequest{
		baseRequest: baseRequest{service: s},
		Tileset:     tile.Tileset,
		SRS:         tile.Grid.SRS,
		BBox:        tile.Grid.TileExtent(tile.X, tile.Y, tile.Z),
		Width:       tile.Grid.TileWidth,
		Height:      tile.Grid.TileHeight,
		I:           i,
		J:           j,
		InfoFormat:  infoFormat,
	}
}

type wmtsCapabilities struct {
	XMLName        xml.Name           `xml:"Capabilities"`
	Xmlns          string             `xml:"xmlns,attr"`
	XmlnsOWS       string             `xml:"xmlns:ows,attr"`
	XmlnsXlink     string             `xml:"xmlns:xlink,attr"`
	Version        string             `xml:"version,attr"`
	Identification wmtsIdentification `xml:"ows:ServiceIdentification"`
	Operations     []wmtsOperation    `xml:"ows:OperationsMetadata>ows:Operation"`
	Layers         []wmtsLayer        `xml:"Contents>Layer"`
	MatrixSets     []wmtsMatrixSet    `xml:"Contents>TileMatrixSet"`
}

type wmtsIdentification struct {
	Title              string `xml:"ows:Title"`
	Abstract           string `xml:"ows:Abstract,omitempty"`
	ServiceType        string `xml:"ows:ServiceType"`
	ServiceTypeVersion string `xml:"ows:ServiceTypeVersion"`
}

type wmtsOperation struct {
	Name string  `xml:"name,attr"`
	Get  wmtsGet `xml:"ows:DCP>ows:HTTP>ows:Get"`
}

type wmtsGet struct {
	Href string `xml:"xlink:href,attr"`
}

type wmtsLayer struct {
	Title       string            `xml:"ows:Title"`
	Abstract    string            `xml:"ows:Abstract,omitempty"`
	Identifier  string            `xml:"ows:Identifier"`
	Style       wmtsStyle         `xml:"Style"`
	Format      string            `xml:"Format"`
	InfoFormats []string          `xml:"InfoFormat"`
	Links       []string          `xml:"TileMatrixSetLink>TileMatrixSet"`
	Resources   []wmtsResourceURL `xml:"ResourceURL"`
}

type wmtsStyle struct {
	IsDefault  bool   `xml:"isDefault,attr"`
	Identifier string `xml:"ows:Identifier"`
}

type wmtsResourceURL struct {
	Format       string `xml:"format,attr"`
	ResourceType string `xml:"resourceType,attr"`
	Template     string `xml:"template,attr"`
}

type wmtsMatrixSet struct {
	Identifier   string       `xml:"ows:Identifier"`
	SupportedCRS string       `xml:"ows:SupportedCRS"`
	Matrices     []wmtsMatrix `xml:"TileMatrix"`
}

type wmtsMatrix struct {
	Identifier       int     `xml:"ows:Identifier"`
	ScaleDenominator float64 `xml:"ScaleDenominator"`
	TopLeftCorner    string  `xml:"TopLeftCorner"`
	TileWidth        int     `xml:"TileWidth"`
	TileHeight       int     `xml:"TileHeight"`
	MatrixWidth      int     `xml:"MatrixWidth"`
	MatrixHeight     int     `xml:"MatrixHeight"`
}

func (s *WMTSService) Capabilities(_ *Context, cfg *Config, _ *CapabilitiesRequest, baseURL string) ([]byte, string) {
	url := serviceURL(baseURL, s)
	doc := wmtsCapabilities{
		Xmlns:      "http://www.opengis.net/wmts/1.0",
		XmlnsOWS:   "http://www.opengis.net/ows/1.1",
		XmlnsXlink: "http://www.w3.org/1999/xlink",
		Version:    wmtsVersion,
		Identification: wmtsIdentification{
			Title:              cfg.Metadata.Title,
			Abstract:           cfg.Metadata.Abstract,
			ServiceType:        "OGC WMTS",
			ServiceTypeVersion: wmtsVersion,
		},
	}
	for _, op := range []string{"GetCapabilities", "GetTile", "GetFeatureInfo"} {
		doc.Operations = append(doc.Operations, wmtsOperation{Name: op, Get: wmtsGet{Href: url + "?"}})
	}

	usedGrids := make(map[string]*Grid)
	var gridOrder []string
	for _, name := range cfg.TilesetNames() {
		ts := cfg.Tilesets[name]
		layer := wmtsLayer{
			Title:      ts.Metadata.Title,
			Abstract:   ts.Metadata.Abstract,
			Identifier: ts.Name,
			Style:      wmtsStyle{IsDefault: true, Identifier: "default"},
			Format:     ts.Format.MimeType,
			Resources: []wmtsResourceURL{{
				Format:       ts.Format.MimeType,
				ResourceType: "tile",
				Template: fmt.Sprintf("%s/%s/%s/default/{TileMatrixSet}/{TileMatrix}/{TileRow}/{TileCol}.%s",
					url, wmtsVersion, ts.Name, ts.Format.Extension),
			}},
		}
		if ts.Source != nil {
			layer.InfoFormats = ts.Source.InfoFormats
		}
		for _, g := range ts.Grids {
			layer.Links = append(layer.Links, g.Name)
			if _, seen := usedGrids[g.Name]; !seen {
				usedGrids[g.Name] = g
				gridOrder = append(gridOrder, g.Name)
			}
		}
		doc.Layers = append(doc.Layers, layer)
	}

	for _, name := range gridOrder {
		g := usedGrids[name]
		set := wmtsMatrixSet{Identifier: g.Name, SupportedCRS: ogcCRS(g.SRS)}
		for z, res := range g.Resolutions {
			cols, rows := g.MatrixSize(z)
			set.Matrices = append(set.Matrices, wmtsMatrix{
				Identifier:       z,
				ScaleDenominator: res * metersPerUnit(g.Unit) / 0.00028,
				TopLeftCorner:    fmt.Sprintf("%g %g", g.Extent[0], g.Extent[3]),
				TileWidth:        g.TileWidth,
				TileHeight:       g.TileHeight,
				MatrixWidth:      cols,
				MatrixHeight:     rows,
			})
		}
		doc.MatrixSets = append(doc.MatrixSets, set)
	}

	return marshalXML(doc), "application/xml"
}

// ogcCRS turns EPSG:xxxx into its OGC URN.
func ogcCRS(srs string) string {
	if code, ok := strings.CutPrefix(strings.ToUpper(srs), "EPSG:"); ok {
		return "urn:ogc:def:crs:EPSG::" + code
	}
	return srs
}

type owsExceptionReport struct {
	XMLName   xml.Name `xml:"ExceptionReport"`
	Xmlns     string   `xml:"xmlns,attr"`
	Version   string   `xml:"version,attr"`
	Exception struct {
		Code string `xml:"exceptionCode,attr"`
		Text string `xml:"ExceptionText"`
	} `xml:"Exception"`
}

func (s *WMTSService) FormatError(code int, message string) ([]byte, string) {
	doc := owsExceptionReport{Xmlns: "http://www.opengis.net/ows/1.1", Version: "2.0.0"}
	doc.Exception.Text = message
	switch {
	case code == http.StatusNotFound:
		doc.Exception.Code = "TileOutOfRange"
	case code == http.StatusNotImplemented:
		doc.Exception.Code = "OperationNotSupported"
	case code >= 400 && code < 500:
		doc.Exception.Code = "InvalidParameterValue"
	default:
		doc.Exception.Code = "NoApplicableCode"
	}
	return marshalXML(doc), "application/xml"
}
