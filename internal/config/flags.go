package config

import "flag"

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagWorkers    = flag.Int("workers", -1, "Worker count (0 = all CPUs)")
	flagNoStrip    = flag.Bool("no-strip", false, "Write raw FIFO indices instead of strips")
	flagNoCompress = flag.Bool("no-compress", false, "Store streamable pages uncompressed")
	flagSeed       = flag.Int64("seed", 0, "Hierarchy k-means seed")
	flagOut        = flag.String("out", "", "Output .vgeo path")
	flagMetrics    = flag.String("metrics", "", "Write Prometheus textfile metrics to path")
	flagReport     = flag.String("report", "", "Write JSON build report to path")
)

// ParseFlags parses command-line flags from args.
func ParseFlags(args []string) error {
	return flag.CommandLine.Parse(args)
}

// Args returns the positional arguments left after flag parsing.
func Args() []string {
	return flag.Args()
}

// ConfigPath returns the explicit config path if provided via -config.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagWorkers >= 0 {
		cfg.Build.Workers = *flagWorkers
	}
	if *flagNoStrip {
		cfg.Encode.StripIndices = false
	}
	if *flagNoCompress {
		cfg.Encode.CompressPages = false
	}
	if *flagSeed != 0 {
		cfg.Encode.HierarchySeed = *flagSeed
	}
	if *flagOut != "" {
		cfg.Output.Path = *flagOut
	}
	if *flagMetrics != "" {
		cfg.Output.MetricsFile = *flagMetrics
	}
	if *flagReport != "" {
		cfg.Output.ReportFile = *flagReport
	}
}
