// Command georender is a demo/fixture CLI: it loads one or more
// georeference annotations and a matching image-info sidecar document,
// builds a WarpedMapList, renders a single Viewport through the
// int-array rasterizer against a PMTiles-backed offline tile fixture,
// and writes the result as a PNG. It exercises the same renderer.Renderer
// path a live application would drive interactively, with "live" image
// fetches replaced by pmtiles.Fetcher.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/allmaps-go/warp/internal/annotation"
	"github.com/allmaps-go/warp/internal/coord"
	"github.com/allmaps-go/warp/internal/encode"
	"github.com/allmaps-go/warp/internal/iiif"
	"github.com/allmaps-go/warp/internal/maplist"
	"github.com/allmaps-go/warp/internal/pmtiles"
	"github.com/allmaps-go/warp/internal/raster"
	"github.com/allmaps-go/warp/internal/renderer"
	"github.com/allmaps-go/warp/internal/tilecache"
	"github.com/allmaps-go/warp/internal/viewport"
	"github.com/allmaps-go/warp/internal/warpedmap"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		annotationsPath string
		imageInfoPath   string
		tilesPath       string
		outputPath      string
		tileWidth       int
		tileHeight      int
		epsg            int
		centerX         float64
		centerY         float64
		resolution      float64
		width           float64
		height          float64
		concurrency     int
		showVersion     bool
		verbose         bool
		cpuProfile      string
		memProfile      string
	)

	flag.StringVar(&annotationsPath, "annotations", "", "Path to an annotation JSON file, or a directory of them")
	flag.StringVar(&imageInfoPath, "image-info", "", "Path to a JSON document mapping imageService IDs to image-info fixtures")
	flag.StringVar(&tilesPath, "tiles", "", "Path to a PMTiles fixture archive (see cmd/tilepack)")
	flag.StringVar(&outputPath, "out", "render.png", "Output PNG path")
	flag.IntVar(&tileWidth, "tile-width", 256, "IIIF tile width the fixture archive was packed with")
	flag.IntVar(&tileHeight, "tile-height", 256, "IIIF tile height the fixture archive was packed with")
	flag.IntVar(&epsg, "epsg", 3857, "EPSG code of the shared projectedGeo plane")
	flag.Float64Var(&centerX, "center-x", 0, "Viewport center, projectedGeo X")
	flag.Float64Var(&centerY, "center-y", 0, "Viewport center, projectedGeo Y")
	flag.Float64Var(&resolution, "resolution", 1, "ProjectedGeo units per canvas pixel")
	flag.Float64Var(&width, "width", 800, "Canvas width in pixels")
	flag.Float64Var(&height, "height", 600, "Canvas height in pixels")
	flag.IntVar(&concurrency, "concurrency", runtime.NumCPU(), "Number of parallel workers")
	flag.BoolVar(&verbose, "verbose", false, "Verbose progress output")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.StringVar(&cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	flag.StringVar(&memProfile, "memprofile", "", "Write memory profile to file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: georender [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Render a set of georeferenced maps through an offline tile fixture to a PNG.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("georender %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if cpuProfile != "" {
		f, err := os.Create(cpuProfile)
		if err != nil {
			log.Fatalf("Creating CPU profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("Starting CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}
	if memProfile != "" {
		defer func() {
			f, err := os.Create(memProfile)
			if err != nil {
				log.Fatalf("Creating memory profile: %v", err)
			}
			defer f.Close()
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				log.Fatalf("Writing memory profile: %v", err)
			}
		}()
	}

	if annotationsPath == "" || imageInfoPath == "" || tilesPath == "" {
		log.Fatal("-annotations, -image-info and -tiles are all required")
	}

	projection := coord.ForEPSG(epsg)
	if projection == nil {
		log.Fatalf("Unsupported EPSG code: %d", epsg)
	}

	start := time.Now()

	annotations, err := loadAnnotations(annotationsPath)
	if err != nil {
		log.Fatalf("Loading annotations: %v", err)
	}
	if len(annotations) == 0 {
		log.Fatalf("No annotations found at %s", annotationsPath)
	}

	resolver, err := loadImageInfoResolver(imageInfoPath)
	if err != nil {
		log.Fatalf("Loading image-info fixtures: %v", err)
	}

	reader, err := pmtiles.OpenReader(tilesPath)
	if err != nil {
		log.Fatalf("Opening tile fixture: %v", err)
	}
	defer reader.Close()
	fetcher := pmtiles.NewFetcher(reader, tileWidth, tileHeight)

	list := maplist.New()
	for i, a := range annotations {
		w := warpedmap.New(a, projection, i)
		if err := list.Add(w); err != nil {
			log.Fatalf("Adding map %q: %v", a.MapID, err)
		}
	}

	cache := tilecache.New(fetcher, encode.DefaultDecoder{}, 0)
	r := renderer.New(list, cache, resolver, concurrency)

	v := viewport.New(centerX, centerY, resolution, width, height)
	canvas := raster.NewCanvas(int(width), int(height))

	fmt.Printf("georender %s (commit %s, built %s)\n", version, commit, buildDate)
	fmt.Printf("  %-14s %d\n", "Maps:", len(annotations))
	fmt.Printf("  %-14s %.0fx%.0f\n", "Canvas:", width, height)
	fmt.Printf("  %-14s (%.2f, %.2f) @ %.4f units/px\n", "Viewport:", centerX, centerY, resolution)
	fmt.Printf("  %-14s EPSG:%d\n", "Projection:", epsg)
	fmt.Printf("  %-14s %d\n", "Concurrency:", concurrency)
	fmt.Printf("  %-14s %s\n", "Tiles:", tilesPath)
	fmt.Printf("  %-14s %s\n", "Output:", outputPath)

	if err := r.Render(context.Background(), v, canvas); err != nil {
		log.Fatalf("Render: %v", err)
	}

	if verbose {
		for _, w := range list.All() {
			log.Printf("map %q: state=%s", w.MapID(), w.State())
		}
	}

	png := &encode.PNGEncoder{}
	data, err := png.Encode(canvas.Img)
	if err != nil {
		log.Fatalf("Encoding PNG: %v", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		log.Fatalf("Writing %s: %v", outputPath, err)
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	fmt.Printf("Done: %v → %s\n", elapsed, outputPath)
}

// loadAnnotations reads a single annotation JSON file, or every *.json
// file in a directory.
func loadAnnotations(path string) ([]*annotation.Annotation, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("readdir %s: %w", path, err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
	} else {
		files = []string{path}
	}

	annotations := make([]*annotation.Annotation, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
		a, err := annotation.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", f, err)
		}
		annotations = append(annotations, a)
	}
	return annotations, nil
}

// imageInfoFixture is the on-disk shape of one image-info fixture entry.
type imageInfoFixture struct {
	Width        int   `json:"width"`
	Height       int   `json:"height"`
	TileWidth    int   `json:"tileWidth"`
	TileHeight   int   `json:"tileHeight"`
	ScaleFactors []int `json:"scaleFactors"`
	APIVersion   int   `json:"apiVersion"`
}

// fixtureResolver implements renderer.ImageInfoResolver over a fixed set
// of image-info fixtures loaded up front, the offline counterpart of an
// *http.Client-backed resolver that would fetch info.json from a live
// IIIF image service.
type fixtureResolver struct {
	fixtures map[string]imageInfoFixture
}

func loadImageInfoResolver(path string) (*fixtureResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var fixtures map[string]imageInfoFixture
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &fixtureResolver{fixtures: fixtures}, nil
}

func (r *fixtureResolver) ResolveImageInfo(ctx context.Context, imageServiceID string) (*warpedmap.ImageInfo, iiif.ImageService, error) {
	fx, ok := r.fixtures[imageServiceID]
	if !ok {
		return nil, iiif.ImageService{}, fmt.Errorf("no image-info fixture for %q", imageServiceID)
	}
	version := iiif.APIVersion3
	if fx.APIVersion == 2 {
		version = iiif.APIVersion2
	}
	info := &warpedmap.ImageInfo{
		Width:        fx.Width,
		Height:       fx.Height,
		TileWidth:    fx.TileWidth,
		TileHeight:   fx.TileHeight,
		ScaleFactors: fx.ScaleFactors,
	}
	return info, iiif.ImageService{ID: imageServiceID, Version: version}, nil
}
