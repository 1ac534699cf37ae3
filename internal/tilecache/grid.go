package tilecache

import (
	"fmt"
	"math"
)

// Extent is a bounding box: minx, miny, maxx, maxy.
type Extent [4]float64

func (e Extent) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", e[0], e[1], e[2], e[3])
}

// Grid describes a tiling scheme. Tile rows are counted from the bottom of
// the extent, as in TMS; WMTS rows are derived with FlipY.
type Grid struct {
	Name        string
	SRS         string
	Unit        string
	Extent      Extent
	Resolutions []float64
	TileWidth   int
	TileHeight  int
}

// Levels returns the number of zoom levels.
func (g *Grid) Levels() int {
	return len(g.Resolutions)
}

// MatrixSize returns the number of tile columns and rows at level z.
func (g *Grid) MatrixSize(z int) (cols, rows int) {
	res := g.Resolutions[z]
	cols = int(math.Ceil((g.Extent[2]-g.Extent[0])/(res*float64(g.TileWidth)) - 1e-6))
	rows = int(math.Ceil((g.Extent[3]-g.Extent[1])/(res*float64(g.TileHeight)) - 1e-6))
	return cols, rows
}

// Contains reports whether x, y, z address a tile of g.
func (g *Grid) Contains(x, y, z int) bool {
	if z < 0 || z >= g.Levels() || x < 0 || y < 0 {
		return false
	}
	cols, rows := g.MatrixSize(z)
	return x < cols && y < rows
}

// FlipY converts between bottom-origin and top-origin row numbers.
func (g *Grid) FlipY(y, z int) int {
	_, rows := g.MatrixSize(z)
	return rows - 1 - y
}

// TileExtent returns the bounding box of a tile.
func (g *Grid) TileExtent(x, y, z int) Extent {
	res := g.Resolutions[z]
	w := res * float64(g.TileWidth)
	h := res * float64(g.TileHeight)
	minx := g.Extent[0] + float64(x)*w
	miny := g.Extent[1] + float64(y)*h
	return Extent{minx, miny, minx + w, miny + h}
}

// LookupTile finds the tile whose extent is exactly bbox when rendered at
// width × height pixels.
func (g *Grid) LookupTile(bbox Extent, width, height int) (x, y, z int, ok bool) {
	if width != g.TileWidth || height != g.TileHeight {
		return 0, 0, 0, false
	}
	res := (bbox[2] - bbox[0]) / float64(width)
	z = -1
	for i, r := range g.Resolutions {
		if math.Abs(r-res)/r < 1e-6 {
			z = i
			break
		}
	}
	if z < 0 {
		return 0, 0, 0, false
	}

	tw := g.Resolutions[z] * float64(g.TileWidth)
	th := g.Resolutions[z] * float64(g.TileHeight)
	fx := (bbox[0] - g.Extent[0]) / tw
	fy := (bbox[1] - g.Extent[1]) / th
	x, y = int(math.Round(fx)), int(math.Round(fy))
	if math.Abs(fx-float64(x)) > 1e-4 || math.Abs(fy-float64(y)) > 1e-4 {
		return 0, 0, 0, false
	}
	if !g.Contains(x, y, z) {
		return 0, 0, 0, false
	}
	return x, y, z, true
}

func resolutionPyramid(base float64, levels int) []float64 {
	out := make([]float64, levels)
	for i := range out {
		out[i] = base / math.Pow(2, float64(i))
	}
	return out
}

const mercatorHalf = 20037508.3427892

// builtinGrids returns the grids every configuration knows without
// declaring them.
func builtinGrids() map[string]*Grid {
	wgs84 := &Grid{
		Name:        "WGS84",
		SRS:         "EPSG:4326",
		Unit:        "dd",
		Extent:      Extent{-180, -90, 180, 90},
		Resolutions: resolutionPyramid(0.703125, 18),
		TileWidth:   256,
		TileHeight:  256,
	}
	google := &Grid{
		Name:        "GoogleMapsCompatible",
		SRS:         "EPSG:3857",
		Unit:        "m",
		Extent:      Extent{-mercatorHalf, -mercatorHalf, mercatorHalf, mercatorHalf},
		Resolutions: resolutionPyramid(156543.0339280410, 19),
		TileWidth:   256,
		TileHeight:  256,
	}
	g := *google
	g.Name = "g"
	return map[string]*Grid{
		wgs84.Name:  wgs84,
		google.Name: google,
		g.Name:      &g,
	}
}
