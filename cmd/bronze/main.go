package main

import (
	"bronze-pipeline/bronze"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

const stageAll = "all"

func main() {
	var configPath string
	var envFile string
	var stage string
	var dbPath string
	var sourceName string
	var inputDir string
	var manifestDir string
	var metricsFile string
	var jobLabel string
	var debug bool
	var devLog bool
	var workers int
	var parseWorkers int
	var maxPayloadMB int64
	var timeout time.Duration

	flag.StringVar(&configPath, "config", "", "YAML config file path.")
	flag.StringVar(&envFile, "env-file", ".env", "Optional dotenv file with BRONZE_* overrides.")
	flag.StringVar(&stage, "stage", stageAll, "Stage to run: ingest, parse or all.")
	flag.StringVar(&dbPath, "db", "bronze.db", "SQLite database path.")
	flag.StringVar(&sourceName, "source", "", "Source layout for --input (agmarknet, enam). Inferred from the path when empty.")
	flag.StringVar(&inputDir, "input", "", "Raw input directory. Overrides config sources.")
	flag.StringVar(&manifestDir, "manifest-dir", "manifests", "Directory for run manifests.")
	flag.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus textfile metrics here after each stage.")
	flag.StringVar(&jobLabel, "job", "", "Job label added to every log line.")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.BoolVar(&devLog, "dev-log", false, "Human readable console logs instead of JSON.")
	flag.IntVar(&workers, "workers", 0, "Checksum workers (default: number of CPUs).")
	flag.IntVar(&parseWorkers, "parse-workers", 1, "Versioning workers per bronze file.")
	flag.Int64Var(&maxPayloadMB, "max-payload-mb", 100, "Largest payload stored inline, in MB.")
	flag.DurationVar(&timeout, "timeout", 0, "Overall timeout for one run (e.g. 30s, 2m). Checked between files.")
	flag.Parse()

	if err := checkStage(stage); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	if err := godotenv.Load(envFile); err != nil && (visited["env-file"] || !errors.Is(err, os.ErrNotExist)) {
		log.Fatalf("load env file: %v", err)
	}

	// Base config from file (optional)
	fileCfg := &bronze.FileConfig{}
	if configPath != "" {
		cfg, err := bronze.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		fileCfg = cfg
	}
	if err := fileCfg.ApplyEnv(os.Getenv); err != nil {
		log.Fatalf("env overrides: %v", err)
	}

	// Merge config + CLI overrides
	finalDB := fileCfg.DB
	if finalDB == "" || visited["db"] {
		finalDB = dbPath
	}
	finalManifestDir := fileCfg.ManifestDir
	if finalManifestDir == "" || visited["manifest-dir"] {
		finalManifestDir = manifestDir
	}
	finalMetricsFile := fileCfg.MetricsFile
	if visited["metrics-file"] {
		finalMetricsFile = metricsFile
	}
	finalJob := fileCfg.Job
	if visited["job"] {
		finalJob = jobLabel
	}
	finalDebug := fileCfg.Debug
	if visited["debug"] {
		finalDebug = debug
	}
	finalWorkers := fileCfg.Workers
	if visited["workers"] {
		finalWorkers = workers
	}
	finalParseWorkers := fileCfg.ParseWorkers
	if finalParseWorkers == 0 || visited["parse-workers"] {
		finalParseWorkers = parseWorkers
	}
	finalMaxPayloadMB := fileCfg.MaxPayloadMB
	if finalMaxPayloadMB == 0 || visited["max-payload-mb"] {
		finalMaxPayloadMB = maxPayloadMB
	}

	finalSources := fileCfg.Sources.Items
	if strings.TrimSpace(inputDir) != "" {
		src, err := resolveSource(sourceName, inputDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		finalSources = []bronze.SourceInput{{Source: src, Dir: inputDir}}
	}
	if len(finalSources) == 0 {
		fmt.Fprintln(os.Stderr, "missing inputs (use config.yaml sources or --input)")
		os.Exit(2)
	}

	zl, err := bronze.NewLogger(devLog, finalDebug)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.Sugar()

	runner, err := bronze.NewRunner(bronze.RunnerConfig{
		DBPath:          finalDB,
		Sources:         finalSources,
		ManifestDir:     finalManifestDir,
		MetricsFile:     finalMetricsFile,
		JobLabel:        finalJob,
		Debug:           finalDebug,
		Workers:         finalWorkers,
		ParseWorkers:    finalParseWorkers,
		MaxPayloadBytes: finalMaxPayloadMB * 1024 * 1024,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatalw("init runner", "error", err)
	}
	defer runner.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var runErr error
	switch stage {
	case bronze.StageIngest:
		_, runErr = runner.RunIngest(ctx)
	case bronze.StageParse:
		_, runErr = runner.RunParse(ctx)
	case stageAll:
		_, runErr = runner.RunAll(ctx)
	}
	if runErr != nil {
		logger.Errorw("run failed", "stage", stage, "error", runErr)
		_ = zl.Sync()
		runner.Close()
		os.Exit(1)
	}
}

func resolveSource(name string, dir string) (bronze.Source, error) {
	if strings.TrimSpace(name) != "" {
		return bronze.ParseSource(name)
	}
	if src, ok := bronze.InferSource(dir); ok {
		return src, nil
	}
	return "", fmt.Errorf("cannot infer source from %q (use --source)", dir)
}

// checkStage rejects unknown stages before any store is opened.
func checkStage(stage string) error {
	switch stage {
	case bronze.StageIngest, bronze.StageParse, stageAll:
		return nil
	default:
		return fmt.Errorf("unknown stage %q (use ingest, parse or all)", stage)
	}
}
