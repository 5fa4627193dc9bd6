// Package pipeline runs one duplicate scan: catalog, partition,
// fingerprint and group.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"dupescan/catalog"
	"dupescan/config"
	"dupescan/dedupe"
	"dupescan/diag"
	"dupescan/executor"
	"dupescan/fingerprint"
	"dupescan/logger"
	"dupescan/objstore"
	"dupescan/partition"
	"dupescan/tracing"
)

type Stats struct {
	Listed  int
	Skipped int
	// SizeUnique counts records the size partition ruled out without a read.
	SizeUnique int
	Hashed     int
	Succeeded  int
	Failed     int
	Groups     int
	Duplicates int
	Elapsed    time.Duration
}

// Report is everything a scan produced. Unique and Failures never overlap:
// the former were evaluated and matched nothing, the latter could not be
// evaluated.
type Report struct {
	RunID      string
	Strategy   string
	Location   string
	StartedAt  time.Time
	Groups     []dedupe.DuplicateGroup
	Failures   []executor.Outcome
	Unique     []catalog.Record
	NameGroups []dedupe.NameGroup
	Stats      Stats
}

// newProgress builds the sink for a pass over n records.
var newProgress = func(n int) executor.ProgressSink {
	return executor.NewProgressBar(n, "Fingerprinting")
}

// NewStrategy builds the fingerprint strategy selected by cfg.
func NewStrategy(cfg *config.Config, reader objstore.Reader) (fingerprint.Strategy, error) {
	switch cfg.Strategy {
	case config.StrategyPerceptual:
		return fingerprint.NewPerceptual(reader, fingerprint.PerceptualOptions{
			Algorithm:  cfg.PerceptualAlgorithm,
			Resolution: cfg.HashResolution,
		})
	case config.StrategyExact:
		return fingerprint.NewExact(reader, fingerprint.ExactOptions{
			Digest:     cfg.DigestAlgorithm,
			SampleSize: cfg.SampleSizeBytes,
			Full:       cfg.UseFullHash,
			ChunkSize:  cfg.FullHashChunkSize,
		})
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
}

// Run scans the source named by cfg using store. It fails only when the
// strategy cannot be built or the listing fails; per-object problems end up
// in Report.Failures.
func Run(ctx context.Context, cfg *config.Config, store objstore.Store) (*Report, error) {
	ctx, endTask := tracing.StartTask(ctx, "dupescan_run")
	defer endTask()

	loc, err := objstore.ParseURL(cfg.Source)
	if err != nil {
		return nil, err
	}
	report := &Report{
		RunID:     uuid.NewString(),
		Location:  loc.String(),
		StartedAt: time.Now(),
	}

	var strategy fingerprint.Strategy
	if !cfg.SkipContent {
		strategy, err = NewStrategy(cfg, store)
		if err != nil {
			return nil, err
		}
		report.Strategy = strategy.Name()
	}

	log := logger.WithFields(map[string]interface{}{"run_id": report.RunID})
	log.Infof("Listing %s", report.Location)

	endRegion := tracing.StartRegion(ctx, "catalog")
	cat, stats, err := catalog.NewBuilder(store, catalogOptions(cfg, loc)).Build(ctx)
	endRegion()
	if err != nil {
		return nil, err
	}
	report.Stats.Listed = stats.Listed
	report.Stats.Skipped = stats.Skipped
	log.Infof("Catalog holds %d records (%d skipped)", cat.Len(), stats.Skipped)

	if cfg.CheckNames {
		report.NameGroups = dedupe.ByName(cat.Records)
	}

	if strategy != nil {
		fingerprintPass(ctx, cfg, strategy, cat.Records, report)
	}

	report.Stats.Elapsed = time.Since(report.StartedAt)
	logSummary(report)
	return report, nil
}

func catalogOptions(cfg *config.Config, loc objstore.Location) catalog.Options {
	opts := catalog.Options{
		Bucket:         loc.Bucket,
		Prefix:         loc.Prefix,
		Include:        cfg.IncludePatterns,
		Exclude:        cfg.ExcludePatterns,
		GroupTagMarker: cfg.GroupTagMarker,
	}
	if cfg.Strategy == config.StrategyPerceptual && !cfg.SkipContent {
		opts.Extensions = cfg.ImageExtensions
	}
	return opts
}

func fingerprintPass(ctx context.Context, cfg *config.Config, strategy fingerprint.Strategy, records []catalog.Record, report *Report) {
	var parts partition.Result
	if cfg.Strategy == config.StrategyExact {
		parts = partition.BySize(records)
	} else {
		parts = partition.PassThrough(records)
	}
	report.Stats.SizeUnique = len(parts.Unique)
	report.Stats.Hashed = len(parts.Candidates)

	exec := executor.New(strategy, executor.Options{
		Workers:           cfg.WorkerCount,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		InterReadDelay:    cfg.InterReadDelay,
		MaxReadsPerSecond: cfg.MaxReadsPerSecond,
		Progress:          newProgress(len(parts.Candidates)),
	})

	diagOpts := diag.Options{
		StallThreshold: cfg.DiagStallThreshold,
		Dir:            cfg.DiagDir,
		Total:          int64(len(parts.Candidates)),
		CompletedFn:    exec.Completed,
		DumpGoroutines: cfg.DiagGoroutines,
	}
	if cfg.TraceFlight {
		diagOpts.DumpFlightRecorder = tracing.WriteFlightRecorder
	}
	watchdog := diag.NewWatchdog(diagOpts)
	watchdog.Start(ctx)
	outcomes := exec.Run(ctx, parts.Candidates)
	watchdog.Stop()

	grouped := dedupe.Group(outcomes)
	report.Groups = grouped.Groups
	report.Failures = grouped.Failures
	report.Unique = append(parts.Unique, grouped.Unique...)
	sort.Slice(report.Unique, func(i, j int) bool { return report.Unique[i].Key < report.Unique[j].Key })

	report.Stats.Failed = len(grouped.Failures)
	report.Stats.Succeeded = len(outcomes) - len(grouped.Failures)
	report.Stats.Groups = len(grouped.Groups)
	for _, g := range grouped.Groups {
		report.Stats.Duplicates += len(g.Duplicates)
	}
}

// TagCounts returns the number of duplicates per group tag.
func TagCounts(groups []dedupe.DuplicateGroup) map[string]int {
	counts := make(map[string]int)
	for _, g := range groups {
		for _, d := range g.Duplicates {
			counts[d.GroupTag]++
		}
	}
	return counts
}

func logSummary(report *Report) {
	counts := TagCounts(report.Groups)
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		logger.WithFields(map[string]interface{}{
			"run_id":     report.RunID,
			"group_tag":  tag,
			"duplicates": counts[tag],
		}).Info("Duplicates per group tag")
	}

	s := report.Stats
	logger.WithFields(map[string]interface{}{
		"run_id":      report.RunID,
		"strategy":    report.Strategy,
		"listed":      s.Listed,
		"size_unique": s.SizeUnique,
		"hashed":      s.Hashed,
		"succeeded":   s.Succeeded,
		"failed":      s.Failed,
		"groups":      s.Groups,
		"duplicates":  s.Duplicates,
		"name_groups": len(report.NameGroups),
		"elapsed":     s.Elapsed.Round(time.Millisecond).String(),
	}).Info("Scan complete")
}
