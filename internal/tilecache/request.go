package tilecache

// RequestType identifies what a dispatched request asks for.
type RequestType int

// Request types produced by DispatchRequest.
const (
	RequestUnknown RequestType = iota
	RequestGetCapabilities
	RequestGetTile
	RequestProxy
	RequestGetMap
	RequestGetFeatureInfo
)

func (t RequestType) String() string {
	switch t {
	case RequestGetCapabilities:
		return "GetCapabilities"
	case RequestGetTile:
		return "GetTile"
	case RequestProxy:
		return "Proxy"
	case RequestGetMap:
		return "GetMap"
	case RequestGetFeatureInfo:
		return "GetFeatureInfo"
	default:
		return "Unknown"
	}
}

// Request is a dispatched request descriptor.
type Request interface {
	Type() RequestType
	Service() Service
}

type baseRequest struct {
	service Service
}

func (r baseRequest) Service() Service { return r.service }

// CapabilitiesRequest asks for a capabilities document. TMS uses Tileset
// and Grid to address a single TileMap document.
type CapabilitiesRequest struct {
	baseRequest
	Tileset *Tileset
	Grid    *Grid
}

func (*CapabilitiesRequest) Type() RequestType { return RequestGetCapabilities }

// TileRequest asks for a single tile. Y counts rows from the bottom.
type TileRequest struct {
	baseRequest
	Tileset *Tileset
	Grid    *Grid
	Format  *Format
	X, Y, Z int
}

func (*TileRequest) Type() RequestType { return RequestGetTile }

// MapRequest asks for an arbitrary map extent rendered by the source.
type MapRequest struct {
	baseRequest
	Tileset *Tileset
	SRS     string
	BBox    Extent
	Width   int
	Height  int
	Format  *Format
}

func (*MapRequest) Type() RequestType { return RequestGetMap }

// FeatureInfoRequest asks the source about the features under a pixel.
type FeatureInfoRequest struct {
	baseRequest
	Tileset    *Tileset
	SRS        string
	BBox       Extent
	Width      int
	Height     int
	I, J       int
	InfoFormat string
}

func (*FeatureInfoRequest) Type() RequestType { return RequestGetFeatureInfo }

// ProxyRequest forwards the original parameters to a forwarding rule's
// upstream.
type ProxyRequest struct {
	baseRequest
	Rule     *ForwardingRule
	Params   *Table
	PathInfo string
}

func (*ProxyRequest) Type() RequestType { return RequestProxy }
