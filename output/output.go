package output

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"dupescan/catalog"
	"dupescan/config"
	"dupescan/dedupe"
	"dupescan/executor"
	"dupescan/logger"
	"dupescan/objstore"
	"dupescan/pipeline"
	"dupescan/utils"
)

const SchemaVersion = "1"

// File name suffixes for the secondary CSV reports.
const (
	FailedSuffix         = "_failed"
	NameDuplicatesSuffix = "_name_duplicates"
)

var duplicateHeader = []string{
	"Duplicate_File",
	"Duplicate_Path",
	"Duplicate_Batch",
	"Duplicate_Size",
	"Original_File",
	"Original_Path",
	"Original_Batch",
	"Original_Size",
	"Hash",
	"Confidence",
}

var failureHeader = []string{"File", "Path", "Batch", "Size", "Kind", "Attempts", "Error"}

var nameHeader = []string{
	"Name",
	"Duplicate_Path",
	"Duplicate_Batch",
	"Duplicate_Size",
	"Original_Path",
	"Original_Batch",
	"Original_Size",
}

// Writer persists scan reports as CSV or JSON and optionally mirrors them to
// an OTLP logs endpoint.
type Writer struct {
	mu     sync.Mutex
	base   string
	format string
	otel   *otelLogger
}

func New(cfg *config.Config) (*Writer, error) {
	ext := filepath.Ext(cfg.OutputFileName)
	base := cfg.OutputFileName
	if ext == ".csv" || ext == ".json" {
		base = strings.TrimSuffix(base, ext)
	}
	format := strings.ToLower(cfg.OutputFormat)
	if format == "" {
		format = "csv"
	}
	w := &Writer{base: base, format: format}
	otel, err := newOtelLogger(cfg)
	if err != nil {
		logger.Warnf("OTEL export disabled: %v", err)
	} else {
		w.otel = otel
	}
	return w, nil
}

// Write stores report and returns the paths it created.
func (w *Writer) Write(report *pipeline.Report) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	loc, err := objstore.ParseURL(report.Location)
	if err != nil {
		return nil, err
	}
	w.emitReport(report, loc)

	if w.format == "json" {
		name := w.base + ".json"
		if err := writeJSON(name, newJSONReport(report, loc)); err != nil {
			return nil, err
		}
		return []string{name}, nil
	}

	var written []string
	if report.Strategy != "" {
		name := w.base + ".csv"
		if err := writeCSV(name, duplicateHeader, duplicateRows(report.Groups, loc)); err != nil {
			return written, err
		}
		written = append(written, name)
	}
	if len(report.Failures) > 0 {
		name := w.base + FailedSuffix + ".csv"
		if err := writeCSV(name, failureHeader, failureRows(report.Failures, loc)); err != nil {
			return written, err
		}
		written = append(written, name)
	}
	if len(report.NameGroups) > 0 {
		name := w.base + NameDuplicatesSuffix + ".csv"
		if err := writeCSV(name, nameHeader, nameRows(report.NameGroups, loc)); err != nil {
			return written, err
		}
		written = append(written, name)
	}
	return written, nil
}

func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.otel != nil {
		w.otel.Shutdown()
	}
}

func createFile(name string) (*os.File, *bufio.Writer, error) {
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, nil, err
	}
	return f, bufio.NewWriterSize(f, 1024*1024), nil
}

func closeFile(f *os.File, buf *bufio.Writer) error {
	if err := buf.Flush(); err != nil {
		f.Close()
		return err
	}
	_ = f.Sync()
	return f.Close()
}

func writeCSV(name string, header []string, rows [][]string) error {
	f, buf, err := createFile(name)
	if err != nil {
		return err
	}
	csvw := csv.NewWriter(buf)
	if err := csvw.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := csvw.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return closeFile(f, buf)
}

func writeJSON(name string, doc any) error {
	data, err := encodeReport(doc)
	if err != nil {
		return err
	}
	f, buf, err := createFile(name)
	if err != nil {
		return err
	}
	if _, err := buf.Write(data); err != nil {
		f.Close()
		return err
	}
	return closeFile(f, buf)
}

func duplicateRows(groups []dedupe.DuplicateGroup, loc objstore.Location) [][]string {
	var rows [][]string
	for _, g := range groups {
		for _, d := range g.Duplicates {
			rows = append(rows, []string{
				fileName(d.Key),
				objectPath(loc, d),
				d.GroupTag,
				strconv.FormatInt(d.Size, 10),
				fileName(g.Original.Key),
				objectPath(loc, g.Original),
				g.Original.GroupTag,
				strconv.FormatInt(g.Original.Size, 10),
				g.Fingerprint.Value,
				string(g.Fingerprint.Kind),
			})
		}
	}
	return rows
}

func failureRows(failures []executor.Outcome, loc objstore.Location) [][]string {
	rows := make([][]string, 0, len(failures))
	for _, out := range failures {
		kind, msg := "", ""
		if out.Err != nil {
			kind = string(out.Err.Kind)
			msg = out.Err.Error()
		}
		rows = append(rows, []string{
			fileName(out.Key()),
			objectPath(loc, out.Record),
			out.Record.GroupTag,
			strconv.FormatInt(out.Record.Size, 10),
			kind,
			strconv.Itoa(out.Attempts),
			msg,
		})
	}
	return rows
}

func nameRows(groups []dedupe.NameGroup, loc objstore.Location) [][]string {
	var rows [][]string
	for _, g := range groups {
		for _, d := range g.Duplicates {
			rows = append(rows, []string{
				g.Name,
				objectPath(loc, d),
				d.GroupTag,
				strconv.FormatInt(d.Size, 10),
				objectPath(loc, g.Original),
				g.Original.GroupTag,
				strconv.FormatInt(g.Original.Size, 10),
			})
		}
	}
	return rows
}

func fileName(key string) string {
	return path.Base(key)
}

// objectPath renders rec as a URL under the scanned location.
func objectPath(loc objstore.Location, rec catalog.Record) string {
	if loc.Scheme == objstore.SchemeFile {
		return "file://" + utils.JoinKey(filepath.ToSlash(loc.Bucket), rec.Key)
	}
	return fmt.Sprintf("%s://%s/%s", loc.Scheme, rec.Bucket, rec.Key)
}

type jsonRecord struct {
	Key          string    `json:"key"`
	Path         string    `json:"path"`
	GroupTag     string    `json:"group_tag"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitzero"`
}

type jsonGroup struct {
	Hash       string       `json:"hash"`
	Confidence string       `json:"confidence"`
	Original   jsonRecord   `json:"original"`
	Duplicates []jsonRecord `json:"duplicates"`
}

type jsonFailure struct {
	Record   jsonRecord `json:"record"`
	Kind     string     `json:"kind"`
	Attempts int        `json:"attempts"`
	Error    string     `json:"error"`
}

type jsonNameGroup struct {
	Name       string       `json:"name"`
	Original   jsonRecord   `json:"original"`
	Duplicates []jsonRecord `json:"duplicates"`
}

type jsonStats struct {
	Listed         int     `json:"listed"`
	Skipped        int     `json:"skipped"`
	SizeUnique     int     `json:"size_unique"`
	Hashed         int     `json:"hashed"`
	Succeeded      int     `json:"succeeded"`
	Failed         int     `json:"failed"`
	Groups         int     `json:"groups"`
	Duplicates     int     `json:"duplicates"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

type jsonReport struct {
	SchemaVersion string          `json:"schema_version"`
	RunID         string          `json:"run_id"`
	Strategy      string          `json:"strategy,omitempty"`
	Location      string          `json:"location"`
	StartedAt     time.Time       `json:"started_at"`
	Stats         jsonStats       `json:"stats"`
	Groups        []jsonGroup     `json:"groups"`
	Failures      []jsonFailure   `json:"failures"`
	UniqueCount   int             `json:"unique_count"`
	NameGroups    []jsonNameGroup `json:"name_groups,omitempty"`
}

func newJSONRecord(loc objstore.Location, rec catalog.Record) jsonRecord {
	return jsonRecord{
		Key:          rec.Key,
		Path:         objectPath(loc, rec),
		GroupTag:     rec.GroupTag,
		Size:         rec.Size,
		ETag:         rec.ETag,
		LastModified: rec.LastModified,
	}
}

func newJSONRecords(loc objstore.Location, recs []catalog.Record) []jsonRecord {
	out := make([]jsonRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newJSONRecord(loc, rec))
	}
	return out
}

func newJSONReport(report *pipeline.Report, loc objstore.Location) jsonReport {
	s := report.Stats
	doc := jsonReport{
		SchemaVersion: SchemaVersion,
		RunID:         report.RunID,
		Strategy:      report.Strategy,
		Location:      report.Location,
		StartedAt:     report.StartedAt.UTC(),
		Stats: jsonStats{
			Listed:         s.Listed,
			Skipped:        s.Skipped,
			SizeUnique:     s.SizeUnique,
			Hashed:         s.Hashed,
			Succeeded:      s.Succeeded,
			Failed:         s.Failed,
			Groups:         s.Groups,
			Duplicates:     s.Duplicates,
			ElapsedSeconds: s.Elapsed.Seconds(),
		},
		Groups:      make([]jsonGroup, 0, len(report.Groups)),
		Failures:    make([]jsonFailure, 0, len(report.Failures)),
		UniqueCount: len(report.Unique),
	}
	for _, g := range report.Groups {
		doc.Groups = append(doc.Groups, jsonGroup{
			Hash:       g.Fingerprint.Value,
			Confidence: string(g.Fingerprint.Kind),
			Original:   newJSONRecord(loc, g.Original),
			Duplicates: newJSONRecords(loc, g.Duplicates),
		})
	}
	for _, out := range report.Failures {
		f := jsonFailure{Record: newJSONRecord(loc, out.Record), Attempts: out.Attempts}
		if out.Err != nil {
			f.Kind = string(out.Err.Kind)
			f.Error = out.Err.Error()
		}
		doc.Failures = append(doc.Failures, f)
	}
	for _, g := range report.NameGroups {
		doc.NameGroups = append(doc.NameGroups, jsonNameGroup{
			Name:       g.Name,
			Original:   newJSONRecord(loc, g.Original),
			Duplicates: newJSONRecords(loc, g.Duplicates),
		})
	}
	return doc
}
