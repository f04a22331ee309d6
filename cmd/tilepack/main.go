// Command tilepack packs a directory of pre-rendered IIIF tile images into
// a PMTiles v3 archive, for use as offline fixture input to cmd/georender
// or to a test's iiif.TileFetcher. It never touches pixel data: it takes
// tiles already encoded in their final format and addresses them by the
// directory layout convention "<scaleFactor>/<col>_<row>.<ext>", writing
// each file's bytes straight through to the archive.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/allmaps-go/warp/internal/pmtiles"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		format      string
		name        string
		description string
		attribution string
		layerType   string
		showVersion bool
		verbose     bool
		cpuProfile  string
		memProfile  string
	)

	flag.StringVar(&format, "format", "jpeg", "Tile format recorded in archive metadata: jpeg, png, webp")
	flag.StringVar(&name, "name", "", "Archive name (metadata)")
	flag.StringVar(&description, "description", "", "Archive description (metadata)")
	flag.StringVar(&attribution, "attribution", "", "Attribution string (metadata)")
	flag.StringVar(&layerType, "type", "baselayer", "Layer type: baselayer, overlay")
	flag.BoolVar(&verbose, "verbose", false, "Verbose progress output")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.StringVar(&cpuProfile, "cpuprofile", "", "Write CPU profile to file")
	flag.StringVar(&memProfile, "memprofile", "", "Write memory profile to file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tilepack [flags] <tile-dir> <output.pmtiles>\n\n")
		fmt.Fprintf(os.Stderr, "Pack a directory of IIIF tile images (layout: <scaleFactor>/<col>_<row>.<ext>)\n")
		fmt.Fprintf(os.Stderr, "into a PMTiles v3 fixture archive.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("tilepack %s (commit %s, built %s)\n", version, commit, buildDate)
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

	args := flag.Args()
	if len(args) != 2 {
		flag.Usage()
		os.Exit(1)
	}
	tileDir := args[0]
	outputPath := args[1]

	if !strings.HasSuffix(outputPath, ".pmtiles") {
		log.Fatal("Output file must have .pmtiles extension")
	}

	tileFormat, err := parseTileFormat(format)
	if err != nil {
		log.Fatalf("Format: %v", err)
	}

	start := time.Now()
	tiles, err := collectTiles(tileDir)
	if err != nil {
		log.Fatalf("Collecting tiles: %v", err)
	}
	if len(tiles) == 0 {
		log.Fatalf("No tiles found under %s (expected <scaleFactor>/<col>_<row>.<ext>)", tileDir)
	}
	if verbose {
		log.Printf("Found %d tile file(s) in %v", len(tiles), time.Since(start).Round(time.Millisecond))
	}

	minSF, maxSF := tiles[0].scaleFactor, tiles[0].scaleFactor
	for _, t := range tiles {
		if t.scaleFactor < minSF {
			minSF = t.scaleFactor
		}
		if t.scaleFactor > maxSF {
			maxSF = t.scaleFactor
		}
	}

	fmt.Printf("tilepack %s (commit %s, built %s)\n", version, commit, buildDate)
	fmt.Printf("  %-14s %s\n", "Format:", format)
	fmt.Printf("  %-14s %d tile file(s)\n", "Input:", len(tiles))
	fmt.Printf("  %-14s %d – %d\n", "ScaleFactors:", minSF, maxSF)
	fmt.Printf("  %-14s %s\n", "Output:", outputPath)

	outputDir := filepath.Dir(outputPath)
	writer, err := pmtiles.NewWriter(outputPath, pmtiles.WriterOptions{
		MinZoom:     scaleFactorToZoom(minSF),
		MaxZoom:     scaleFactorToZoom(maxSF),
		TileFormat:  tileFormat,
		TempDir:     outputDir,
		Name:        name,
		Description: description,
		Attribution: attribution,
		Type:        layerType,
	})
	if err != nil {
		log.Fatalf("Creating PMTiles writer: %v", err)
	}

	for _, t := range tiles {
		data, err := os.ReadFile(t.path)
		if err != nil {
			writer.Abort()
			log.Fatalf("Reading %s: %v", t.path, err)
		}
		z := scaleFactorToZoom(t.scaleFactor)
		if err := writer.WriteTile(z, t.col, t.row, data); err != nil {
			writer.Abort()
			log.Fatalf("Writing tile z%d/%d/%d: %v", z, t.col, t.row, err)
		}
	}

	if err := writer.Finalize(); err != nil {
		log.Fatalf("Finalizing PMTiles: %v", err)
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	fi, _ := os.Stat(outputPath)
	fmt.Printf("Done: %d tiles, %s, %v → %s\n", len(tiles), humanSize(fi.Size()), elapsed, outputPath)
}

// tileFile is one discovered tile image, addressed by IIIF scaleFactor
// and its column/row within that level's grid.
type tileFile struct {
	path                  string
	scaleFactor, col, row int
}

// collectTiles walks dir for files matching "<scaleFactor>/<col>_<row>.<ext>".
func collectTiles(dir string) ([]tileFile, error) {
	var tiles []tileFile
	sfEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", dir, err)
	}
	for _, sfEntry := range sfEntries {
		if !sfEntry.IsDir() {
			continue
		}
		sf, err := strconv.Atoi(sfEntry.Name())
		if err != nil {
			continue // not a scaleFactor directory; skip
		}
		sfDir := filepath.Join(dir, sfEntry.Name())
		files, err := os.ReadDir(sfDir)
		if err != nil {
			return nil, fmt.Errorf("readdir %s: %w", sfDir, err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			col, row, ok := parseTileFilename(f.Name())
			if !ok {
				continue
			}
			tiles = append(tiles, tileFile{
				path:        filepath.Join(sfDir, f.Name()),
				scaleFactor: sf,
				col:         col,
				row:         row,
			})
		}
	}
	return tiles, nil
}

// parseTileFilename extracts col/row from a "<col>_<row>.<ext>" filename.
func parseTileFilename(name string) (col, row int, ok bool) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	col, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	row, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return col, row, true
}

// scaleFactorToZoom maps a IIIF scaleFactor (expected to be a power of 2)
// onto the Hilbert-addressed store's zoom level, the same convention
// internal/pmtiles.Fetcher uses in reverse.
func scaleFactorToZoom(scaleFactor int) int {
	z := 0
	for sf := scaleFactor; sf > 1; sf >>= 1 {
		z++
	}
	return z
}

func parseTileFormat(format string) (uint8, error) {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return pmtiles.TileTypeJPEG, nil
	case "png":
		return pmtiles.TileTypePNG, nil
	case "webp":
		return pmtiles.TileTypeWebP, nil
	default:
		return 0, fmt.Errorf("unsupported format %q: supported jpeg, png, webp", format)
	}
}

func humanSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
