package tilecache

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/seantiz/mapbridge/internal/pool"
	"github.com/seantiz/mapbridge/internal/tilecache/storage"
)

// Error reporting modes for <errors>.
const (
	ErrorsReport = "report"
	ErrorsLog    = "log"
)

// Metadata is the descriptive text attached to a configuration or tileset.
type Metadata struct {
	Title    string
	Abstract string
	URL      string
}

// CacheDef is a declared <cache>. Backend is opened by PostConfig.
type CacheDef struct {
	Name    string
	Type    string
	Options storage.Options
	Backend storage.Cache
}

// Tileset binds a source, a cache and the grids it is served on.
type Tileset struct {
	Name     string
	Metadata Metadata
	Source   *Source
	Cache    *CacheDef
	Grids    []*Grid
	Format   *Format
	Expires  int
	ReadOnly bool
}

// Grid returns the tileset grid with the given name, or nil.
func (ts *Tileset) Grid(name string) *Grid {
	for _, g := range ts.Grids {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// Config is a parsed configuration. Everything it owns lives as long as the
// pool it was created in.
type Config struct {
	pool *pool.Pool

	Path           string
	Metadata       Metadata
	Grids          map[string]*Grid
	Formats        map[string]*Format
	Sources        map[string]*Source
	Caches         map[string]*CacheDef
	Tilesets       map[string]*Tileset
	Services       map[string]Service
	DefaultFormat  *Format
	ErrorReporting string

	tilesetOrder   []string
	registry       *storage.Registry
	postConfigured bool
}

// Pool returns the pool the configuration lives in.
func (cfg *Config) Pool() *pool.Pool {
	return cfg.pool
}

// TilesetNames returns tileset names in declaration order.
func (cfg *Config) TilesetNames() []string {
	return cfg.tilesetOrder
}

// PostConfigured reports whether PostConfig succeeded.
func (cfg *Config) PostConfigured() bool {
	return cfg.postConfigured
}

// CreateConfig creates an empty configuration in p, knowing only the
// built-in grids and formats.
func (c *Core) CreateConfig(p *pool.Pool) (*Config, error) {
	if p == nil {
		return nil, fmt.Errorf("tilecache: nil pool")
	}
	if p.Destroyed() {
		return nil, pool.ErrDestroyed
	}
	formats := builtinFormats()
	return &Config{
		pool:           p,
		Grids:          builtinGrids(),
		Formats:        formats,
		Sources:        make(map[string]*Source),
		Caches:         make(map[string]*CacheDef),
		Tilesets:       make(map[string]*Tileset),
		Services:       make(map[string]Service),
		DefaultFormat:  formats["PNG"],
		ErrorReporting: ErrorsReport,
		registry:       c.registry,
	}, nil
}

// XML document layout.

type xmlConfig struct {
	XMLName       xml.Name     `xml:"mapcache"`
	Metadata      xmlMetadata  `xml:"metadata"`
	Grids         []xmlGrid    `xml:"grid"`
	Formats       []xmlFormat  `xml:"format"`
	Sources       []xmlSource  `xml:"source"`
	Caches        []xmlCache   `xml:"cache"`
	Tilesets      []xmlTileset `xml:"tileset"`
	Services      []xmlService `xml:"service"`
	DefaultFormat string       `xml:"default_format"`
	Errors        string       `xml:"errors"`
}

type xmlMetadata struct {
	Title    string `xml:"title"`
	Abstract string `xml:"abstract"`
	URL      string `xml:"url"`
}

type xmlGrid struct {
	Name        string      `xml:"name,attr"`
	Metadata    xmlMetadata `xml:"metadata"`
	SRS         string      `xml:"srs"`
	Units       string      `xml:"units"`
	Size        string      `xml:"size"`
	Extent      string      `xml:"extent"`
	Resolutions string      `xml:"resolutions"`
}

type xmlFormat struct {
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	MimeType  string `xml:"mime_type"`
	Extension string `xml:"extension"`
}

type xmlAnyElem struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type xmlParams struct {
	Elems []xmlAnyElem `xml:",any"`
}

type xmlSource struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
	HTTP struct {
		URL            string `xml:"url"`
		ConnectTimeout int    `xml:"connection_timeout"`
		Timeout        int    `xml:"timeout"`
	} `xml:"http"`
	GetMap struct {
		Params xmlParams `xml:"params"`
	} `xml:"getmap"`
	GetFeatureInfo struct {
		InfoFormats string    `xml:"info_formats"`
		Params      xmlParams `xml:"params"`
	} `xml:"getfeatureinfo"`
}

type xmlCache struct {
	Name        string `xml:"name,attr"`
	Type        string `xml:"type,attr"`
	Base        string `xml:"base"`
	DBFile      string `xml:"dbfile"`
	Bucket      string `xml:"bucket"`
	Region      string `xml:"region"`
	Endpoint    string `xml:"endpoint"`
	Prefix      string `xml:"prefix"`
	AccessKey   string `xml:"access_key"`
	SecretKey   string `xml:"secret_key"`
	PathStyle   bool   `xml:"path_style"`
	MaxEntries  int    `xml:"max_entries"`
	Compression string `xml:"compression"`
}

type xmlTileset struct {
	Name     string      `xml:"name,attr"`
	Metadata xmlMetadata `xml:"metadata"`
	Source   string      `xml:"source"`
	Cache    string      `xml:"cache"`
	Grids    []string    `xml:"grid"`
	Format   string      `xml:"format"`
	Expires  int         `xml:"expires"`
	ReadOnly bool        `xml:"read-only"`
}

type xmlService struct {
	Type            string              `xml:"type,attr"`
	Enabled         string              `xml:"enabled,attr"`
	ForwardingRules []xmlForwardingRule `xml:"forwarding_rule"`
}

type xmlForwardingRule struct {
	Name   string         `xml:"name,attr"`
	Params []xmlParamRule `xml:"param"`
	HTTP   struct {
		URL string `xml:"url"`
	} `xml:"http"`
}

type xmlParamRule struct {
	Name   string `xml:"name,attr"`
	Values string `xml:",chardata"`
}

// ParseConfig reads the XML file at path into cfg. Failures raise the error
// flag on ctx.
func (c *Core) ParseConfig(ctx *Context, path string, cfg *Config) {
	data, err := os.ReadFile(path)
	if err != nil {
		ctx.SetError(http.StatusBadRequest, "failed to read configuration file %s: %v", path, err)
		return
	}

	var doc xmlConfig
	if err := xml.Unmarshal(data, &doc); err != nil {
		ctx.SetError(http.StatusBadRequest, "invalid xml in %s: %v", path, err)
		return
	}

	cfg.Path = path
	cfg.load(ctx, &doc)
	if ctx.HasError() {
		return
	}
	ctx.Logf(LevelDebug, "parsed %s: %d tilesets, %d services", path, len(cfg.Tilesets), len(cfg.Services))
}

func (cfg *Config) load(ctx *Context, doc *xmlConfig) {
	cfg.Metadata = Metadata(doc.Metadata)

	for i := range doc.Grids {
		g, err := parseGrid(&doc.Grids[i])
		if err != nil {
			ctx.SetError(http.StatusBadRequest, "grid %q: %v", doc.Grids[i].Name, err)
			return
		}
		cfg.Grids[g.Name] = g
	}

	for _, xf := range doc.Formats {
		if xf.Name == "" || xf.MimeType == "" {
			ctx.SetError(http.StatusBadRequest, "format requires a name and a <mime_type>")
			return
		}
		ext := xf.Extension
		if ext == "" {
			ext = strings.ToLower(xf.Name)
		}
		cfg.Formats[xf.Name] = &Format{Name: xf.Name, MimeType: xf.MimeType, Extension: ext}
	}

	for i := range doc.Sources {
		xs := &doc.Sources[i]
		if xs.Type != "wms" {
			ctx.SetError(http.StatusBadRequest, "unknown source type %q for source %q", xs.Type, xs.Name)
			return
		}
		src, err := parseSource(xs)
		if err != nil {
			ctx.SetError(http.StatusBadRequest, "source %q: %v", xs.Name, err)
			return
		}
		cfg.Sources[src.Name] = src
	}

	for _, xc := range doc.Caches {
		if xc.Name == "" {
			ctx.SetError(http.StatusBadRequest, "cache requires a name")
			return
		}
		if cfg.registry != nil && !cfg.registry.Has(xc.Type) {
			ctx.SetError(http.StatusBadRequest, "unknown cache type %q for cache %q", xc.Type, xc.Name)
			return
		}
		cfg.Caches[xc.Name] = &CacheDef{
			Name: xc.Name,
			Type: xc.Type,
			Options: storage.Options{
				Name:        xc.Name,
				Base:        xc.Base,
				DBFile:      xc.DBFile,
				Bucket:      xc.Bucket,
				Region:      xc.Region,
				Endpoint:    xc.Endpoint,
				Prefix:      xc.Prefix,
				AccessKey:   xc.AccessKey,
				SecretKey:   xc.SecretKey,
				PathStyle:   xc.PathStyle,
				MaxEntries:  xc.MaxEntries,
				Compression: xc.Compression,
			},
		}
	}

	if doc.DefaultFormat != "" {
		f, ok := cfg.Formats[doc.DefaultFormat]
		if !ok {
			ctx.SetError(http.StatusBadRequest, "default_format %q is not a known format", doc.DefaultFormat)
			return
		}
		cfg.DefaultFormat = f
	}

	for i := range doc.Tilesets {
		ts := cfg.parseTileset(ctx, &doc.Tilesets[i])
		if ctx.HasError() {
			return
		}
		if _, dup := cfg.Tilesets[ts.Name]; dup {
			ctx.SetError(http.StatusBadRequest, "duplicate tileset %q", ts.Name)
			return
		}
		cfg.Tilesets[ts.Name] = ts
		cfg.tilesetOrder = append(cfg.tilesetOrder, ts.Name)
	}

	for _, xs := range doc.Services {
		if strings.EqualFold(xs.Enabled, "false") {
			continue
		}
		svc := newService(xs.Type)
		if svc == nil {
			ctx.SetError(http.StatusBadRequest, "unknown service type %q", xs.Type)
			return
		}
		if wms, ok := svc.(*WMSService); ok {
			for _, xr := range xs.ForwardingRules {
				rule, err := parseForwardingRule(&xr)
				if err != nil {
					ctx.SetError(http.StatusBadRequest, "forwarding_rule %q: %v", xr.Name, err)
					return
				}
				wms.Rules = append(wms.Rules, rule)
			}
		}
		cfg.Services[svc.Name()] = svc
	}

	switch doc.Errors {
	case "", ErrorsReport:
		cfg.ErrorReporting = ErrorsReport
	case ErrorsLog:
		cfg.ErrorReporting = ErrorsLog
	default:
		ctx.SetError(http.StatusBadRequest, "unknown <errors> mode %q", doc.Errors)
	}
}

func (cfg *Config) parseTileset(ctx *Context, xt *xmlTileset) *Tileset {
	if xt.Name == "" {
		ctx.SetError(http.StatusBadRequest, "tileset requires a name")
		return nil
	}
	ts := &Tileset{
		Name:     xt.Name,
		Metadata: Metadata(xt.Metadata),
		Format:   cfg.DefaultFormat,
		Expires:  xt.Expires,
		ReadOnly: xt.ReadOnly,
	}
	if ts.Metadata.Title == "" {
		ts.Metadata.Title = xt.Name
	}

	if xt.Source != "" {
		src, ok := cfg.Sources[xt.Source]
		if !ok {
			ctx.SetError(http.StatusBadRequest, "tileset %q references unknown source %q", xt.Name, xt.Source)
			return nil
		}
		ts.Source = src
	}

	if xt.Cache == "" {
		ctx.SetError(http.StatusBadRequest, "tileset %q has no cache configured", xt.Name)
		return nil
	}
	cache, ok := cfg.Caches[xt.Cache]
	if !ok {
		ctx.SetError(http.StatusBadRequest, "tileset %q references unknown cache %q", xt.Name, xt.Cache)
		return nil
	}
	ts.Cache = cache

	if len(xt.Grids) == 0 {
		ctx.SetError(http.StatusBadRequest, "tileset %q has no grids configured", xt.Name)
		return nil
	}
	for _, name := range xt.Grids {
		g, ok := cfg.Grids[strings.TrimSpace(name)]
		if !ok {
			ctx.SetError(http.StatusBadRequest, "tileset %q references unknown grid %q", xt.Name, name)
			return nil
		}
		ts.Grids = append(ts.Grids, g)
	}

	if xt.Format != "" {
		f, ok := cfg.Formats[xt.Format]
		if !ok {
			ctx.SetError(http.StatusBadRequest, "tileset %q references unknown format %q", xt.Name, xt.Format)
			return nil
		}
		ts.Format = f
	}
	return ts
}

func parseGrid(xg *xmlGrid) (*Grid, error) {
	if xg.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	g := &Grid{Name: xg.Name, SRS: strings.TrimSpace(xg.SRS), Unit: strings.TrimSpace(xg.Units)}
	if g.SRS == "" {
		return nil, fmt.Errorf("missing <srs>")
	}
	if g.Unit == "" {
		g.Unit = "m"
	}

	size, err := parseFloats(xg.Size)
	if err != nil || len(size) != 2 || size[0] <= 0 || size[1] <= 0 {
		return nil, fmt.Errorf("<size> must be two positive integers, got %q", xg.Size)
	}
	g.TileWidth, g.TileHeight = int(size[0]), int(size[1])

	ext, err := parseFloats(xg.Extent)
	if err != nil || len(ext) != 4 || ext[0] >= ext[2] || ext[1] >= ext[3] {
		return nil, fmt.Errorf("<extent> must be minx miny maxx maxy, got %q", xg.Extent)
	}
	copy(g.Extent[:], ext)

	res, err := parseFloats(xg.Resolutions)
	if err != nil || len(res) == 0 {
		return nil, fmt.Errorf("<resolutions> must list at least one resolution, got %q", xg.Resolutions)
	}
	for i := 1; i < len(res); i++ {
		if res[i] >= res[i-1] {
			return nil, fmt.Errorf("<resolutions> must be strictly decreasing")
		}
	}
	g.Resolutions = res
	return g, nil
}

func parseForwardingRule(xr *xmlForwardingRule) (*ForwardingRule, error) {
	if xr.HTTP.URL == "" {
		return nil, fmt.Errorf("missing <http><url>")
	}
	rule := &ForwardingRule{Name: xr.Name, URL: strings.TrimSpace(xr.HTTP.URL)}
	for _, xp := range xr.Params {
		pr := ParamRule{Name: xp.Name}
		for _, v := range strings.Split(xp.Values, ",") {
			if v = strings.TrimSpace(v); v != "" {
				pr.Values = append(pr.Values, v)
			}
		}
		rule.Params = append(rule.Params, pr)
	}
	return rule, nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(strings.ReplaceAll(s, ",", " "))
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// PostConfig validates the parsed configuration and opens every cache
// backend. Backends are closed when the configuration pool is destroyed.
func (c *Core) PostConfig(ctx *Context, cfg *Config) {
	if len(cfg.Tilesets) == 0 {
		ctx.SetError(http.StatusBadRequest, "no tilesets configured")
		return
	}
	if len(cfg.Services) == 0 {
		ctx.SetError(http.StatusBadRequest, "no services enabled")
		return
	}
	if cfg.registry == nil {
		ctx.SetError(http.StatusInternalServerError, "no cache registry")
		return
	}

	names := make([]string, 0, len(cfg.Caches))
	for name := range cfg.Caches {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := cfg.Caches[name]
		if def.Backend != nil {
			continue
		}
		backend, err := cfg.registry.Open(context.Background(), def.Type, def.Options)
		if err != nil {
			ctx.SetError(http.StatusInternalServerError, "%v", err)
			return
		}
		def.Backend = backend
		typ, name := def.Type, def.Name
		cfg.pool.RegisterCleanup(func() {
			if err := backend.Close(); err != nil {
				c.logger.Error("close cache backend", "type", typ, "cache", name, "error", err)
			}
		})
		ctx.Logf(LevelDebug, "opened %s cache %s", def.Type, def.Name)
	}
	cfg.postConfigured = true
}
