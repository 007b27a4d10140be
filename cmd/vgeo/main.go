// vgeo is a CLI utility for building and inspecting virtualized-geometry
// resource files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/builder"
	"github.com/Faultbox/vgeo/internal/config"
	"github.com/Faultbox/vgeo/internal/logger"
	"github.com/Faultbox/vgeo/internal/mesh"
	"github.com/Faultbox/vgeo/internal/metrics"
	"github.com/Faultbox/vgeo/pkg/archive"
)

// Mesh source flags for the build command. The config flags share the same
// flag set.
var (
	flagShape     = flag.String("shape", "sphere", "Procedural input: sphere, box, capsule or grid")
	flagSize      = flag.Float64("size", 10, "Overall extent of the shape")
	flagCells     = flag.Int("cells", 96, "Marching cubes resolution, or quads per side for grid")
	flagUVs       = flag.Int("uvs", 1, "UV channels to generate")
	flagMaterials = flag.Int("materials", 1, "Materials to assign")
	flagColors    = flag.Bool("colors", false, "Generate vertex colors")
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "build":
		cmdBuild(args)
	case "info":
		cmdInfo(args)
	case "verify":
		cmdVerify(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`vgeo - virtualized geometry cluster builder

Usage:
  vgeo <command> [options]

Commands:
  build [flags]                  Build a procedural mesh into a .vgeo file
  info [-pages] <file.vgeo>      Show resource information
  verify <file.vgeo>             Decode every page and check the references

Build flags:
  -shape sphere|box|capsule|grid -size 10 -cells 96 -uvs 1 -materials 1 -colors
  -out file.vgeo -config vgeo.yaml -report stats.json -metrics vgeo.prom
  -workers N -seed N -no-strip -no-compress -debug

Examples:
  vgeo build -shape sphere -out sphere.vgeo -report sphere.json
  vgeo info -pages sphere.vgeo
  vgeo verify sphere.vgeo`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func sourceMesh() (*mesh.Mesh, error) {
	if *flagShape == "grid" {
		return mesh.Grid(mesh.GridOptions{
			Width:        *flagCells,
			Depth:        *flagCells,
			TileSize:     float32(*flagSize) / float32(*flagCells),
			Materials:    *flagMaterials,
			NumTexCoords: *flagUVs,
			Colors:       *flagColors,
		}), nil
	}
	s, err := mesh.Shape(*flagShape, *flagSize)
	if err != nil {
		return nil, err
	}
	return mesh.FromSDF(s, mesh.SDFOptions{
		Cells:        *flagCells,
		NumTexCoords: *flagUVs,
		Colors:       *flagColors,
		Materials:    *flagMaterials,
	})
}

func cmdBuild(args []string) {
	if err := config.ParseFlags(args); err != nil {
		fatal("%v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fatal("%v", err)
	}
	logOpts := logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Console: true}
	if cfg.Logging.LogFile != "" {
		logOpts.File = logger.DefaultFileConfig(cfg.Logging.LogFile)
	}
	if err := logger.Init(logOpts); err != nil {
		fatal("initializing logger: %v", err)
	}
	defer logger.Sync()

	m, err := sourceMesh()
	if err != nil {
		fatal("generating mesh: %v", err)
	}
	logger.Info("mesh generated",
		zap.String("shape", *flagShape),
		zap.Int("triangles", m.NumTriangles()),
		zap.Int("vertices", len(m.Verts)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reg := metrics.New()
	start := time.Now()
	res, stats, err := builder.Build(ctx, m, cfg, builder.WithMetrics(reg))
	if err != nil {
		logger.Error("build failed", zap.Error(err))
		logger.Sync()
		fatal("build: %v", err)
	}
	if n := stats.Encode.DegenerateTriangles; n > 0 {
		logger.Warn("degenerate triangles dropped", zap.Int("triangles", n))
	}
	if err := archive.Create(cfg.Output.Path, res); err != nil {
		fatal("writing %s: %v", cfg.Output.Path, err)
	}

	if cfg.Output.ReportFile != "" {
		if err := writeReport(cfg.Output.ReportFile, stats); err != nil {
			fatal("%v", err)
		}
	}
	if cfg.Output.MetricsFile != "" {
		if err := reg.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			fatal("%v", err)
		}
	}

	fmt.Printf("Built:     %s\n", cfg.Output.Path)
	fmt.Printf("Build ID:  %s\n", stats.BuildID)
	fmt.Printf("Triangles: %d\n", stats.Triangles)
	fmt.Printf("Clusters:  %d (%d leaves, %d mip levels)\n", stats.Clusters, stats.LeafClusters, stats.MipLevels)
	fmt.Printf("Groups:    %d\n", stats.Groups)
	fmt.Printf("Pages:     %d\n", stats.Pages)
	fmt.Printf("Size:      %.2f KB stored, %.2f KB uncompressed\n", float64(stats.StoredBytes)/1024, float64(stats.UncompressedBytes)/1024)
	fmt.Printf("Elapsed:   %s\n", time.Since(start).Round(time.Millisecond))
}

// report is the JSON document written by -report.
type report struct {
	builder.Stats
	DegenerateTriangles int `json:"degenerate_triangles"`
	DuplicatedVertices  int `json:"duplicated_vertices"`
	ConstrainSplits     int `json:"constrain_splits"`
	MaterialSlowPath    int `json:"material_slow_path_clusters"`
}

func writeReport(path string, s builder.Stats) error {
	r := report{
		Stats:               s,
		DegenerateTriangles: s.Encode.DegenerateTriangles,
		DuplicatedVertices:  s.Encode.Constrain.OutputVerts - s.Encode.Constrain.InputVerts,
		ConstrainSplits:     s.Encode.Constrain.Splits,
		MaterialSlowPath:    s.Encode.Materials.SlowPathClusters,
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func cmdInfo(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	pages := fs.Bool("pages", false, "List every page")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vgeo info [-pages] <file.vgeo>")
		os.Exit(1)
	}

	a, err := archive.Open(fs.Arg(0))
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	h := a.Header()
	fmt.Printf("Resource:   %s\n", fs.Arg(0))
	fmt.Printf("Version:    %s\n", h.Version)
	fmt.Printf("Compressed: %v\n", h.Compressed())
	fmt.Printf("Strips:     %v\n", h.StripIndices())
	fmt.Printf("TexCoords:  %d\n", h.NumTexCoords)
	fmt.Printf("Pages:      %d\n", a.NumPages())
	fmt.Printf("Nodes:      %d (roots %v)\n", len(a.HierarchyNodes()), a.HierarchyRoots())
	fmt.Printf("Size:       %.2f KB root, %.2f KB streaming\n", float64(h.RootPageSize)/1024, float64(h.StreamableSize)/1024)

	// Pages by dependency count.
	depCount := make(map[int]int)
	for i := range a.NumPages() {
		depCount[len(a.Dependencies(i))]++
	}
	counts := make([]int, 0, len(depCount))
	for n := range depCount {
		counts = append(counts, n)
	}
	sort.Ints(counts)
	fmt.Println()
	fmt.Println("Pages by dependency count:")
	for _, n := range counts {
		fmt.Printf("  %-4d %d\n", n, depCount[n])
	}

	if !*pages {
		return
	}
	fmt.Println()
	fmt.Printf("  %-6s %-10s %-10s %-10s %s\n", "page", "stored", "size", "clusters", "deps")
	for i := range a.NumPages() {
		p, err := a.ReadPage(i)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading page %d: %v\n", i, err)
			continue
		}
		fmt.Printf("  %-6d %-10d %-10d %-10d %v\n", i, p.StoredSize, len(p.Data), p.Fixups.NumClusters, a.Dependencies(i))
	}
}

func cmdVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vgeo verify <file.vgeo>")
		os.Exit(1)
	}

	a, err := archive.Open(fs.Arg(0))
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	r, err := verifyArchive(a)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("OK: %d pages, %d clusters, %d triangles, %d vertex refs\n", r.Pages, r.Clusters, r.Triangles, r.VertexRefs)
}
