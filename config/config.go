package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dupescan/catalog"
	"dupescan/hasher"
	"dupescan/imagehash"
	"dupescan/objstore"
	"dupescan/version"
)

const (
	StrategyPerceptual = "perceptual"
	StrategyExact      = "exact"
)

type Config struct {
	Source              string            `json:"source" yaml:"source"`
	Strategy            string            `json:"strategy" yaml:"strategy"`
	ImageExtensions     []string          `json:"image_extensions" yaml:"image_extensions"`
	PerceptualAlgorithm string            `json:"perceptual_algorithm" yaml:"perceptual_algorithm"`
	HashResolution      int               `json:"hash_resolution" yaml:"hash_resolution"`
	DigestAlgorithm     string            `json:"digest_algorithm" yaml:"digest_algorithm"`
	SampleSizeBytes     int64             `json:"sample_size_bytes" yaml:"sample_size_bytes"`
	UseFullHash         bool              `json:"use_full_hash" yaml:"use_full_hash"`
	FullHashChunkSize   int               `json:"full_hash_chunk_size" yaml:"full_hash_chunk_size"`
	WorkerCount         int               `json:"worker_count" yaml:"worker_count"`
	MaxRetries          int               `json:"max_retries" yaml:"max_retries"`
	RetryBackoff        time.Duration     `json:"retry_backoff" yaml:"retry_backoff"`
	InterReadDelay      time.Duration     `json:"inter_read_delay" yaml:"inter_read_delay"`
	MaxReadsPerSecond   int               `json:"max_reads_per_second" yaml:"max_reads_per_second"`
	GroupTagMarker      string            `json:"group_tag_marker" yaml:"group_tag_marker"`
	IncludePatterns     []string          `json:"include_patterns" yaml:"include_patterns"`
	ExcludePatterns     []string          `json:"exclude_patterns" yaml:"exclude_patterns"`
	CheckNames          bool              `json:"check_names" yaml:"check_names"`
	SkipContent         bool              `json:"skip_content" yaml:"skip_content"`
	Region              string            `json:"region" yaml:"region"`
	Endpoint            string            `json:"endpoint" yaml:"endpoint"`
	PathStyle           bool              `json:"path_style" yaml:"path_style"`
	ClientMaxAttempts   int               `json:"client_max_attempts" yaml:"client_max_attempts"`
	MinioAccessKey      string            `json:"minio_access_key" yaml:"minio_access_key"`
	MinioSecretKey      string            `json:"minio_secret_key" yaml:"minio_secret_key"`
	MinioSecure         bool              `json:"minio_secure" yaml:"minio_secure"`
	OutputFormat        string            `json:"output_format" yaml:"output_format"`
	OutputFileName      string            `json:"output_file_name" yaml:"output_file_name"`
	LogLevel            string            `json:"log_level" yaml:"log_level"`
	ConfigFile          string            `json:"config_file" yaml:"config_file"`
	DiagStallThreshold  time.Duration     `json:"diag_stall_threshold" yaml:"diag_stall_threshold"`
	DiagDir             string            `json:"diag_dir" yaml:"diag_dir"`
	DiagGoroutines      bool              `json:"diag_goroutines" yaml:"diag_goroutines"`
	OtelEndpoint        string            `json:"otel_endpoint" yaml:"otel_endpoint"`
	OtelFromEnv         bool              `json:"otel_from_env" yaml:"otel_from_env"`
	OtelHeaders         map[string]string `json:"otel_headers" yaml:"otel_headers"`
	OtelServiceName     string            `json:"otel_service_name" yaml:"otel_service_name"`
	OtelTimeout         time.Duration     `json:"otel_timeout" yaml:"otel_timeout"`
	TraceFlight         bool              `json:"trace_flight" yaml:"trace_flight"`
	TraceFlightFile     string            `json:"trace_flight_file" yaml:"trace_flight_file"`
	TraceFlightMaxBytes uint64            `json:"trace_flight_max_bytes" yaml:"trace_flight_max_bytes"`
	TraceFlightMinAge   time.Duration     `json:"trace_flight_min_age" yaml:"trace_flight_min_age"`
	TraceFile           string            `json:"trace_file" yaml:"trace_file"`
}

// Default returns the configuration used when no flag or file overrides a
// field.
func Default() *Config {
	now := time.Now().UTC()
	return &Config{
		Strategy:            StrategyPerceptual,
		ImageExtensions:     append([]string(nil), catalog.DefaultImageExtensions...),
		PerceptualAlgorithm: "phash",
		HashResolution:      8,
		DigestAlgorithm:     "md5",
		SampleSizeBytes:     1024 * 1024,
		FullHashChunkSize:   8 * 1024 * 1024,
		WorkerCount:         5,
		MaxRetries:          2,
		RetryBackoff:        time.Second,
		InterReadDelay:      100 * time.Millisecond,
		GroupTagMarker:      "batch",
		IncludePatterns:     []string{},
		ExcludePatterns:     []string{},
		ClientMaxAttempts:   3,
		MinioSecure:         true,
		OutputFormat:        "csv",
		OutputFileName:      fmt.Sprintf("dupescan-%s", now.Format("20060102-150405")),
		LogLevel:            "info",
		DiagDir:             ".",
		OtelHeaders:         map[string]string{},
		OtelServiceName:     "dupescan",
		OtelTimeout:         5 * time.Second,
		TraceFlightFile:     "dupescan-flight.out",
		TraceFile:           "dupescan.trace",
	}
}

func LoadConfig() (*Config, error) {
	cfg := Default()

	source := flag.String("source", "", "Source to scan, e.g. s3://bucket/prefix, minio://bucket/prefix or file:///dir (required).")
	strategy := flag.String("strategy", cfg.Strategy, fmt.Sprintf("Fingerprint strategy: perceptual or exact (default: %s).", cfg.Strategy))
	extensions := flag.String("extensions", strings.Join(cfg.ImageExtensions, ","), "Comma-separated image extensions considered by the perceptual strategy.")
	perceptualAlgorithm := flag.String("perceptual-algorithm", cfg.PerceptualAlgorithm, fmt.Sprintf("Perceptual hash: %s (default: %s).", strings.Join(imagehash.Available(), ", "), cfg.PerceptualAlgorithm))
	hashResolution := flag.Int("hash-resolution", cfg.HashResolution, fmt.Sprintf("Perceptual hash side length, a power of two >= 8 (default: %d).", cfg.HashResolution))
	digest := flag.String("digest", cfg.DigestAlgorithm, fmt.Sprintf("Exact digest: %s (default: %s).", strings.Join(hasher.Supported(), ", "), cfg.DigestAlgorithm))
	sampleSize := flag.Int64("sample-size", cfg.SampleSizeBytes, fmt.Sprintf("Bytes read from each end of an object by the sampled tier (default: %d).", cfg.SampleSizeBytes))
	fullHash := flag.Bool("full-hash", cfg.UseFullHash, "Hash whole objects instead of head and tail samples (default: false).")
	fullHashChunkSize := flag.Int("full-hash-chunk-size", cfg.FullHashChunkSize, fmt.Sprintf("Chunk size in bytes for full hashing (default: %d).", cfg.FullHashChunkSize))
	workers := flag.Int("workers", cfg.WorkerCount, fmt.Sprintf("Number of fingerprint workers (default: %d).", cfg.WorkerCount))
	maxRetries := flag.Int("max-retries", cfg.MaxRetries, fmt.Sprintf("Retries after the first failed attempt (default: %d).", cfg.MaxRetries))
	retryBackoff := flag.Duration("retry-backoff", cfg.RetryBackoff, "Delay before retrying a failed read (default: 1s).")
	interReadDelay := flag.Duration("inter-read-delay", cfg.InterReadDelay, "Delay before every remote read (default: 100ms).")
	maxReads := flag.Int("max-reads-per-second", cfg.MaxReadsPerSecond, "Cap on fingerprint attempts per second across workers (default: 0/off).")
	groupTagMarker := flag.String("group-tag-marker", cfg.GroupTagMarker, fmt.Sprintf("Key segment marker used as the tie-break group tag; empty disables it (default: %s).", cfg.GroupTagMarker))
	includes := flag.String("include", "", "Comma-separated list of include patterns (default: none).")
	excludes := flag.String("exclude", "", "Comma-separated list of exclude patterns (default: none).")
	checkNames := flag.Bool("check-names", cfg.CheckNames, "Also report objects sharing a file name (default: false).")
	skipContent := flag.Bool("skip-content", cfg.SkipContent, "Only run the file name check (default: false).")
	region := flag.String("region", cfg.Region, "Store region (default: SDK chain).")
	endpoint := flag.String("endpoint", cfg.Endpoint, "Custom S3 endpoint URL or MinIO host:port (default: none).")
	pathStyle := flag.Bool("path-style", cfg.PathStyle, "Use path-style S3 addressing (default: false).")
	clientMaxAttempts := flag.Int("client-max-attempts", cfg.ClientMaxAttempts, fmt.Sprintf("Attempts made by the S3 SDK retryer per request (default: %d).", cfg.ClientMaxAttempts))
	minioAccessKey := flag.String("minio-access-key", "", "MinIO access key (default: $MINIO_ACCESS_KEY).")
	minioSecretKey := flag.String("minio-secret-key", "", "MinIO secret key (default: $MINIO_SECRET_KEY).")
	minioSecure := flag.Bool("minio-secure", cfg.MinioSecure, "Use TLS for MinIO (default: true).")
	format := flag.String("format", cfg.OutputFormat, fmt.Sprintf("Report format: csv or json (default: %s).", cfg.OutputFormat))
	output := flag.String("output", cfg.OutputFileName, "Report file name without extension (default: dupescan-<timestamp>).")
	logLevel := flag.String("log-level", cfg.LogLevel, fmt.Sprintf("Log level: debug, info, warn, error, fatal, or panic (default: %s).", cfg.LogLevel))
	configFile := flag.String("config", "", "Path to a JSON or YAML configuration file (default: none).")
	diagStallThreshold := flag.Duration(
		"diag-stall-threshold",
		cfg.DiagStallThreshold,
		"If positive, write diagnostics when fingerprinting makes no progress for this long (default: 0/off).",
	)
	diagDir := flag.String("diag-dir", cfg.DiagDir, "Diagnostics output directory (default: current directory).")
	diagGoroutines := flag.Bool("diag-goroutines", cfg.DiagGoroutines, "Include a goroutine profile in stall diagnostics (default: false).")
	otelEndpoint := flag.String("otel-endpoint", cfg.OtelEndpoint, "OTLP/HTTP logs endpoint for report export (default: none).")
	otelFromEnv := flag.Bool("otel-from-env", cfg.OtelFromEnv, "Allow OTEL endpoint fallback from OTEL environment variables (default: false).")
	otelHeaders := flag.String("otel-headers", "", "Comma-separated OTEL headers (key=value) for export (default: none).")
	otelServiceName := flag.String("otel-service-name", cfg.OtelServiceName, "OTEL service name for export (default: dupescan).")
	otelTimeout := flag.Duration("otel-timeout", cfg.OtelTimeout, "OTEL export timeout (default: 5s).")
	traceFlight := flag.Bool("trace-flight", cfg.TraceFlight, fmt.Sprintf("Enable flight recorder tracing (default: %t).", cfg.TraceFlight))
	traceFlightFile := flag.String("trace-flight-file", cfg.TraceFlightFile, fmt.Sprintf("Flight recorder output file (default: %s).", cfg.TraceFlightFile))
	traceFlightMaxBytes := flag.Uint64("trace-flight-max-bytes", cfg.TraceFlightMaxBytes, "Max bytes for flight recorder buffer (default: 0 for runtime default).")
	traceFlightMinAge := flag.Duration("trace-flight-min-age", cfg.TraceFlightMinAge, "Minimum age of trace events to retain (default: 0).")
	traceFile := flag.String("trace-file", cfg.TraceFile, "Execution trace output when built with -tags trace (default: dupescan.trace).")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = displayHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("dupescan version %s\n", version.Version)
		os.Exit(0)
	}

	if *configFile != "" {
		cfg.ConfigFile = *configFile
		if err := cfg.loadFromFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Source = strings.TrimSpace(*source)
		case "strategy":
			cfg.Strategy = *strategy
		case "extensions":
			cfg.ImageExtensions = parseCommaSeparated(*extensions)
		case "perceptual-algorithm":
			cfg.PerceptualAlgorithm = *perceptualAlgorithm
		case "hash-resolution":
			cfg.HashResolution = *hashResolution
		case "digest":
			cfg.DigestAlgorithm = *digest
		case "sample-size":
			cfg.SampleSizeBytes = *sampleSize
		case "full-hash":
			cfg.UseFullHash = *fullHash
		case "full-hash-chunk-size":
			cfg.FullHashChunkSize = *fullHashChunkSize
		case "workers":
			cfg.WorkerCount = *workers
		case "max-retries":
			cfg.MaxRetries = *maxRetries
		case "retry-backoff":
			cfg.RetryBackoff = *retryBackoff
		case "inter-read-delay":
			cfg.InterReadDelay = *interReadDelay
		case "max-reads-per-second":
			cfg.MaxReadsPerSecond = *maxReads
		case "group-tag-marker":
			cfg.GroupTagMarker = strings.TrimSpace(*groupTagMarker)
		case "include":
			cfg.IncludePatterns = parseCommaSeparated(*includes)
		case "exclude":
			cfg.ExcludePatterns = parseCommaSeparated(*excludes)
		case "check-names":
			cfg.CheckNames = *checkNames
		case "skip-content":
			cfg.SkipContent = *skipContent
		case "region":
			cfg.Region = strings.TrimSpace(*region)
		case "endpoint":
			cfg.Endpoint = strings.TrimSpace(*endpoint)
		case "path-style":
			cfg.PathStyle = *pathStyle
		case "client-max-attempts":
			cfg.ClientMaxAttempts = *clientMaxAttempts
		case "minio-access-key":
			cfg.MinioAccessKey = *minioAccessKey
		case "minio-secret-key":
			cfg.MinioSecretKey = *minioSecretKey
		case "minio-secure":
			cfg.MinioSecure = *minioSecure
		case "format":
			cfg.OutputFormat = *format
		case "output":
			cfg.OutputFileName = *output
		case "log-level":
			cfg.LogLevel = *logLevel
		case "diag-stall-threshold":
			cfg.DiagStallThreshold = *diagStallThreshold
		case "diag-dir":
			cfg.DiagDir = strings.TrimSpace(*diagDir)
		case "diag-goroutines":
			cfg.DiagGoroutines = *diagGoroutines
		case "otel-endpoint":
			cfg.OtelEndpoint = strings.TrimSpace(*otelEndpoint)
		case "otel-from-env":
			cfg.OtelFromEnv = *otelFromEnv
		case "otel-headers":
			cfg.OtelHeaders = parseHeaders(*otelHeaders)
		case "otel-service-name":
			cfg.OtelServiceName = strings.TrimSpace(*otelServiceName)
		case "otel-timeout":
			cfg.OtelTimeout = *otelTimeout
		case "trace-flight":
			cfg.TraceFlight = *traceFlight
		case "trace-flight-file":
			cfg.TraceFlightFile = *traceFlightFile
		case "trace-flight-max-bytes":
			cfg.TraceFlightMaxBytes = *traceFlightMaxBytes
		case "trace-flight-min-age":
			cfg.TraceFlightMinAge = *traceFlightMinAge
		case "trace-file":
			cfg.TraceFile = *traceFile
		}
	})

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func displayHelp() {
	fmt.Println("dupescan - duplicate object finder for S3, MinIO and local trees")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dupescan -source <url> [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  dupescan -source s3://media/projects/row530/")
	fmt.Println("  dupescan -source s3://media/raw/ -strategy exact -full-hash -digest sha256")
	fmt.Println("  dupescan -source minio://media/raw/ -endpoint minio.local:9000 -check-names -format json")
}

func (cfg *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %v", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("invalid config file format: %v", err)
		}
	}
	return nil
}

func (cfg *Config) normalize() {
	cfg.Strategy = strings.ToLower(strings.TrimSpace(cfg.Strategy))
	cfg.PerceptualAlgorithm = strings.ToLower(strings.TrimSpace(cfg.PerceptualAlgorithm))
	cfg.DigestAlgorithm = strings.ToLower(strings.TrimSpace(cfg.DigestAlgorithm))
	cfg.OutputFormat = strings.ToLower(strings.TrimSpace(cfg.OutputFormat))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.DiagDir == "" {
		cfg.DiagDir = "."
	}
	if cfg.SkipContent {
		cfg.CheckNames = true
	}
	if cfg.TraceFlight && cfg.TraceFlightFile == "" {
		cfg.TraceFlightFile = "dupescan-flight.out"
	}
}

func (cfg *Config) validate() error {
	if cfg.Source == "" {
		return fmt.Errorf("a source must be specified with --source")
	}
	loc, err := objstore.ParseURL(cfg.Source)
	if err != nil {
		return err
	}
	if loc.Scheme == objstore.SchemeMinio && cfg.Endpoint == "" {
		return fmt.Errorf("minio sources need --endpoint")
	}
	switch cfg.Strategy {
	case StrategyPerceptual:
		h, ok := imagehash.Lookup(cfg.PerceptualAlgorithm)
		if !ok {
			return fmt.Errorf("invalid perceptual algorithm: %s", cfg.PerceptualAlgorithm)
		}
		if err := h.Validate(cfg.HashResolution); err != nil {
			return err
		}
		if len(cfg.ImageExtensions) == 0 {
			return fmt.Errorf("at least one image extension is required for the perceptual strategy")
		}
	case StrategyExact:
		if !slices.Contains(hasher.Supported(), cfg.DigestAlgorithm) {
			return fmt.Errorf("invalid digest algorithm: %s", cfg.DigestAlgorithm)
		}
		if cfg.SampleSizeBytes <= 0 || cfg.SampleSizeBytes > math.MaxInt64/2 {
			return fmt.Errorf("sample-size must be between 1 and %d", int64(math.MaxInt64/2))
		}
		if cfg.FullHashChunkSize <= 0 {
			return fmt.Errorf("full-hash-chunk-size must be positive")
		}
	default:
		return fmt.Errorf("invalid strategy: %s", cfg.Strategy)
	}
	if cfg.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be positive")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max-retries must be zero or positive")
	}
	if cfg.RetryBackoff < 0 || cfg.InterReadDelay < 0 {
		return fmt.Errorf("retry-backoff and inter-read-delay must be zero or positive")
	}
	if cfg.MaxReadsPerSecond < 0 {
		return fmt.Errorf("max-reads-per-second must be zero or positive")
	}
	if cfg.ClientMaxAttempts < 0 {
		return fmt.Errorf("client-max-attempts must be zero or positive")
	}
	if cfg.OutputFormat != "csv" && cfg.OutputFormat != "json" {
		return fmt.Errorf("invalid output format: %s (csv or json)", cfg.OutputFormat)
	}
	if strings.TrimSpace(cfg.OutputFileName) == "" {
		return fmt.Errorf("output file name must not be empty")
	}
	if cfg.DiagStallThreshold < 0 {
		return fmt.Errorf("diag-stall-threshold must be zero or positive")
	}
	if cfg.TraceFlightMinAge < 0 {
		return fmt.Errorf("trace-flight-min-age must be zero or positive")
	}
	if cfg.OtelTimeout < 0 {
		return fmt.Errorf("otel-timeout must be zero or positive")
	}
	if cfg.OtelEndpoint != "" {
		if !strings.HasPrefix(cfg.OtelEndpoint, "http://") && !strings.HasPrefix(cfg.OtelEndpoint, "https://") {
			return fmt.Errorf("otel-endpoint must include scheme (http or https)")
		}
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" &&
		cfg.LogLevel != "error" && cfg.LogLevel != "fatal" && cfg.LogLevel != "panic" {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	return nil
}

func parseCommaSeparated(input string) []string {
	if input == "" {
		return []string{}
	}
	items := strings.Split(input, ",")
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseHeaders(input string) map[string]string {
	headers := make(map[string]string)
	if input == "" {
		return headers
	}
	for _, item := range strings.Split(input, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
