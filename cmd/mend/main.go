// Command mend extracts a knowledge graph from a document or stdin,
// runs the repair loop, and writes the run report.
//
// Persistence uses SQLite FTS5, so build with the tag:
//
//	go run -tags sqlite_fts5 ./cmd/mend -config config.yaml input.txt
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/brunobiangulo/graphmend"
	"github.com/brunobiangulo/graphmend/export"
	"github.com/brunobiangulo/graphmend/repair"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	budget := flag.Int("budget", -1, "Repair budget override (-1 uses the configured value)")
	format := flag.String("format", "json", "Output format: json, graphml, or xlsx")
	outPath := flag.String("o", "", "Output file (default stdout; required for xlsx)")
	dbPath := flag.String("db", "", "SQLite database path; enables run persistence")
	resumeID := flag.String("resume", "", "Resume a persisted run by ID instead of reading input")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, or error")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: mend [flags] [file]")
		fmt.Fprintln(os.Stderr, "Reads the file (or stdin when no file is given), extracts a")
		fmt.Fprintln(os.Stderr, "knowledge graph, and writes the run report.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	// Structured logging to stderr; stdout carries the report.
	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	cfg := graphmend.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = graphmend.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
	}
	if *dbPath != "" {
		cfg.Persist = true
		cfg.DBPath = *dbPath
	}

	switch *format {
	case "json", "graphml", "xlsx":
	default:
		slog.Error("unknown output format", "format", *format)
		os.Exit(1)
	}
	if *format == "xlsx" && *outPath == "" {
		slog.Error("xlsx output requires -o")
		os.Exit(1)
	}

	engine, err := graphmend.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Interrupts cancel the run. With persistence on, the partial state
	// is saved as an aborted run that -resume can pick up later.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []graphmend.RunOption
	if *budget >= 0 {
		opts = append(opts, graphmend.WithBudget(*budget))
	}

	rep, runErr := run(ctx, engine, *resumeID, flag.Arg(0), opts)
	if rep == nil {
		slog.Error("run failed", "error", runErr)
		os.Exit(1)
	}
	if runErr != nil {
		slog.Error("run ended with error", "run_id", rep.RunID, "state", rep.State, "error", runErr)
	}

	if err := writeOutput(rep, *format, *outPath); err != nil {
		slog.Error("writing output", "error", err)
		os.Exit(1)
	}

	switch {
	case rep.State == repair.StateHalted:
		os.Exit(2)
	case runErr != nil:
		os.Exit(1)
	}
}

func run(ctx context.Context, e graphmend.Engine, resumeID, path string, opts []graphmend.RunOption) (*export.Report, error) {
	if resumeID != "" {
		return e.Resume(ctx, resumeID, opts...)
	}
	if path != "" {
		return e.ExtractFile(ctx, path, opts...)
	}

	text, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	return e.Extract(ctx, string(text), append(opts, graphmend.WithSource("stdin"))...)
}

func writeOutput(rep *export.Report, format, outPath string) error {
	if format == "xlsx" {
		f, err := export.Workbook(*rep)
		if err != nil {
			return err
		}
		defer f.Close()
		return f.SaveAs(outPath)
	}

	out := io.Writer(os.Stdout)
	if outPath != "" {
		file, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	if format == "graphml" {
		return export.GraphML(out, rep.Graph)
	}
	return rep.WriteJSON(out)
}
