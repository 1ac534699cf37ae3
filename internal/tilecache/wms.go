package tilecache

import (
	"encoding/xml"
	"net/http"
	"strconv"
	"strings"
)

// ParamRule matches a request parameter. An empty Values list matches any
// value as long as the parameter is present.
type ParamRule struct {
	Name   string
	Values []string
}

// ForwardingRule sends WMS requests that no tileset can answer to another
// server.
type ForwardingRule struct {
	Name   string
	Params []ParamRule
	URL    string
}

// Matches reports whether every parameter rule is satisfied by params.
func (r *ForwardingRule) Matches(params *Table) bool {
	for _, pr := range r.Params {
		if !params.Has(pr.Name) {
			return false
		}
		if len(pr.Values) > 0 && !containsFold(pr.Values, params.Get(pr.Name)) {
			return false
		}
	}
	return true
}

// WMSService serves OGC WMS 1.1.1. GetMap requests that line up with a
// single tile are answered from the cache; others are rendered by the
// tileset's source.
type WMSService struct {
	Rules []*ForwardingRule
}

func (s *WMSService) Name() string { return "wms" }

func (s *WMSService) ParseRequest(ctx *Context, cfg *Config, pathInfo string, params *Table) Request {
	request := params.Get("REQUEST")
	if request == "" {
		if req := s.forward(params, pathInfo); req != nil {
			return req
		}
		ctx.SetError(http.StatusBadRequest, "received wms request with no request")
		return nil
	}

	switch strings.ToLower(request) {
	case "getcapabilities":
		return &CapabilitiesRequest{baseRequest: baseRequest{service: s}}
	case "getmap":
		if _, ok := cfg.Tilesets[params.Get("LAYERS")]; ok {
			return s.parseGetMap(ctx, cfg, params)
		}
	case "getfeatureinfo":
		if _, ok := cfg.Tilesets[params.Get("QUERY_LAYERS")]; ok {
			return s.parseGetFeatureInfo(ctx, cfg, params)
		}
	}

	if req := s.forward(params, pathInfo); req != nil {
		return req
	}
	switch strings.ToLower(request) {
	case "getmap":
		ctx.SetError(http.StatusBadRequest, "received wms request with invalid layer %s", params.Get("LAYERS"))
	case "getfeatureinfo":
		ctx.SetError(http.StatusBadRequest, "received wms request with invalid query_layers %s", params.Get("QUERY_LAYERS"))
	default:
		ctx.SetError(http.StatusNotImplemented, "received wms request with invalid request %s", request)
	}
	return nil
}

func (s *WMSService) forward(params *Table, pathInfo string) Request {
	for _, rule := range s.Rules {
		if rule.Matches(params) {
			return &ProxyRequest{
				baseRequest: baseRequest{service: s},
				Rule:        rule,
				Params:      params,
				PathInfo:    pathInfo,
			}
		}
	}
	return nil
}

// mapParams holds the parameters GetMap and GetFeatureInfo share.
type mapParams struct {
	srs    string
	bbox   Extent
	width  int
	height int
}

func (s *WMSService) parseMapParams(ctx *Context, params *Table) (mapParams, bool) {
	var mp mapParams
	mp.srs = params.Get("SRS")
	if mp.srs == "" {
		mp.srs = params.Get("CRS")
	}
	if mp.srs == "" {
		ctx.SetError(http.StatusBadRequest, "received wms request with no srs")
		return mp, false
	}

	bbox, err := parseFloats(params.Get("BBOX"))
	if err != nil || len(bbox) != 4 || bbox[0] >= bbox[2] || bbox[1] >= bbox[3] {
		ctx.SetError(http.StatusBadRequest, "received wms request with invalid bbox %q", params.Get("BBOX"))
		return mp, false
	}
	copy(mp.bbox[:], bbox)

	var ok bool
	if mp.width, ok = parseIntParam(ctx, "wms", "width", params.Get("WIDTH")); !ok {
		return mp, false
	}
	if mp.height, ok = parseIntParam(ctx, "wms", "height", params.Get("HEIGHT")); !ok {
		return mp, false
	}
	if mp.width <= 0 || mp.height <= 0 || mp.width > 4096 || mp.height > 4096 {
		ctx.SetError(http.StatusBadRequest, "received wms request with invalid size %dx%d", mp.width, mp.height)
		return mp, false
	}
	return mp, true
}

func (s *WMSService) parseGetMap(ctx *Context, cfg *Config, params *Table) Request {
	ts := cfg.Tilesets[params.Get("LAYERS")]
	mp, ok := s.parseMapParams(ctx, params)
	if !ok {
		return nil
	}

	format := ts.Format
	if f := params.Get("FORMAT"); f != "" {
		if known := cfg.formatByExtension(f); known != nil {
			format = known
		}
	}

	for _, g := range ts.Grids {
		if !strings.EqualFold(g.SRS, mp.srs) {
			continue
		}
		if x, y, z, ok := g.LookupTile(mp.bbox, mp.width, mp.height); ok {
			return &TileRequest{
				baseRequest: baseRequest{service: s},
				Tileset:     ts,
				Grid:        g,
				Format:      format,
				X:           x,
				Y:           y,
				Z:           z,
			}
		}
	}

	if ts.Source == nil {
		ctx.SetError(http.StatusBadRequest, "layer %s can only serve bboxes aligned on its grids", ts.Name)
		return nil
	}
	return &MapRequest{
		baseRequest: baseRequest{service: s},
		Tileset:     ts,
		SRS:         mp.srs,
		BBox:        mp.bbox,
		Width:       mp.width,
		Height:      mp.height,
		Format:      format,
	}
}

func (s *WMSService) parseGetFeatureInfo(ctx *Context, cfg *Config, params *Table) Request {
	ts := cfg.Tilesets[params.Get("QUERY_LAYERS")]
	if ts.Source == nil {
		ctx.SetError(http.StatusBadRequest, "layer %s does not support feature info", ts.Name)
		return nil
	}
	mp, ok := s.parseMapParams(ctx, params)
	if !ok {
		return nil
	}

	xKey, yKey := "X", "Y"
	if !params.Has("X") {
		xKey, yKey = "I", "J"
	}
	i, ok := parseIntParam(ctx, "wms", strings.ToLower(xKey), params.Get(xKey))
	if !ok {
		return nil
	}
	j, ok := parseIntParam(ctx, "wms", strings.ToLower(yKey), params.Get(yKey))
	if !ok {
		return nil
	}

	infoFormat := params.Get("INFO_FORMAT")
	if infoFormat == "" {
		infoFormat = "text/plain"
	}
	return &FeatureInfoRequest{
		baseRequest: baseRequest{service: s},
		Tileset:     ts,
		SRS:         mp.srs,
		BBox:        mp.bbox,
		Width:       mp.width,
		Height:      mp.height,
		I:           i,
		J:           j,
		InfoFormat:  infoFormat,
	}
}

type wmsCapabilities struct {
	XMLName    xml.Name      `xml:"WMT_MS_Capabilities"`
	Version    string        `xml:"version,attr"`
	Service    wmsServiceDoc `xml:"Service"`
	Capability struct {
		Request struct {
			GetCapabilities wmsOperation  `xml:"GetCapabilities"`
			GetMap          wmsOperation  `xml:"GetMap"`
			GetFeatureInfo  *wmsOperation `xml:"GetFeatureInfo,omitempty"`
		} `xml:"Request"`
		Exception struct {
			Format string `xml:"Format"`
		} `xml:"Exception"`
		Layer wmsRootLayer `xml:"Layer"`
	} `xml:"Capability"`
}

type wmsServiceDoc struct {
	Name     string `xml:"Name"`
	Title    string `xml:"Title"`
	Abstract string `xml:"Abstract,omitempty"`
}

type wmsOperation struct {
	Formats  []string          `xml:"Format"`
	Resource wmsOnlineResource `xml:"DCPType>HTTP>Get>OnlineResource"`
}

type wmsOnlineResource struct {
	XmlnsXlink string `xml:"xmlns:xlink,attr"`
	Href       string `xml:"xlink:href,attr"`
}

func newWMSOperation(formats []string, href string) wmsOperation {
	return wmsOperation{
		Formats:  formats,
		Resource: wmsOnlineResource{XmlnsXlink: "http://www.w3.org/1999/xlink", Href: href},
	}
}

type wmsRootLayer struct {
	Title  string     `xml:"Title"`
	SRS    []string   `xml:"SRS"`
	Layers []wmsLayer `xml:"Layer"`
}

type wmsLayer struct {
	Queryable   int              `xml:"queryable,attr"`
	Name        string           `xml:"Name"`
	Title       string           `xml:"Title"`
	Abstract    string           `xml:"Abstract,omitempty"`
	SRS         []string         `xml:"SRS"`
	BoundingBox []wmsBoundingBox `xml:"BoundingBox"`
}

type wmsBoundingBox struct {
	SRS  string `xml:"SRS,attr"`
	MinX string `xml:"minx,attr"`
	MinY string `xml:"miny,attr"`
	MaxX string `xml:"maxx,attr"`
	MaxY string `xml:"maxy,attr"`
}

func (s *WMSService) Capabilities(_ *Context, cfg *Config, _ *CapabilitiesRequest, baseURL string) ([]byte, string) {
	url := serviceURL(baseURL, s) + "?"
	doc := wmsCapabilities{
		Version: "1.1.1",
		Service: wmsServiceDoc{Name: "OGC:WMS", Title: cfg.Metadata.Title, Abstract: cfg.Metadata.Abstract},
	}
	doc.Capability.Request.GetCapabilities = newWMSOperation([]string{"application/vnd.ogc.wms_xml"}, url)

	var mapFormats, infoFormats []string
	seenSRS := make(map[string]bool)
	for _, name := range cfg.TilesetNames() {
		ts := cfg.Tilesets[name]
		if !containsFold(mapFormats, ts.Format.MimeType) {
			mapFormats = append(mapFormats, ts.Format.MimeType)
		}
		layer := wmsLayer{Name: ts.Name, Title: ts.Metadata.Title, Abstract: ts.Metadata.Abstract}
		if ts.Source != nil && len(ts.Source.InfoFormats) > 0 {
			layer.Queryable = 1
			for _, f := range ts.Source.InfoFormats {
				if !containsFold(infoFormats, f) {
					infoFormats = append(infoFormats, f)
				}
			}
		}
		for _, g := range ts.Grids {
			if containsFold(layer.SRS, g.SRS) {
				continue
			}
			layer.SRS = append(layer.SRS, g.SRS)
			layer.BoundingBox = append(layer.BoundingBox, wmsBoundingBox{
				SRS:  g.SRS,
				MinX: strconv.FormatFloat(g.Extent[0], 'f', -1, 64),
				MinY: strconv.FormatFloat(g.Extent[1], 'f', -1, 64),
				MaxX: strconv.FormatFloat(g.Extent[2], 'f', -1, 64),
				MaxY: strconv.FormatFloat(g.Extent[3], 'f', -1, 64),
			})
			if !seenSRS[g.SRS] {
				seenSRS[g.SRS] = true
				doc.Capability.Layer.SRS = append(doc.Capability.Layer.SRS, g.SRS)
			}
		}
		doc.Capability.Layer.Layers = append(doc.Capability.Layer.Layers, layer)
	}

	doc.Capability.Request.GetMap = newWMSOperation(mapFormats, url)
	if len(infoFormats) > 0 {
		op := newWMSOperation(infoFormats, url)
		doc.Capability.Request.GetFeatureInfo = &op
	}
	doc.Capability.Exception.Format = "application/vnd.ogc.se_xml"
	doc.Capability.Layer.Title = cfg.Metadata.Title
	return marshalXML(doc), "application/vnd.ogc.wms_xml"
}

type wmsExceptionReport struct {
	XMLName   xml.Name `xml:"ServiceExceptionReport"`
	Version   string   `xml:"version,attr"`
	Exception struct {
		Code string `xml:"code,attr,omitempty"`
		Text string `xml:",chardata"`
	} `xml:"ServiceException"`
}

func (s *WMSService) FormatError(code int, message string) ([]byte, string) {
	doc := wmsExceptionReport{Version: "1.1.1"}
	doc.Exception.Text = message
	if code == http.StatusNotImplemented {
		doc.Exception.Code = "OperationNotSupported"
	}
	return marshalXML(doc), "application/vnd.ogc.se_xml"
}
