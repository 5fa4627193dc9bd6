package output

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"dupescan/config"
	"dupescan/logger"
	"dupescan/objstore"
	"dupescan/pipeline"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otelLog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// Record types sent over OTLP.
const (
	recordSummary       = "summary"
	recordDuplicate     = "duplicate"
	recordFailure       = "failure"
	recordNameDuplicate = "name_duplicate"
)

type otelLogger struct {
	provider *sdklog.LoggerProvider
	logger   otelLog.Logger
	timeout  time.Duration
	endpoint string
}

func newOtelLogger(cfg *config.Config) (*otelLogger, error) {
	if cfg == nil {
		return nil, nil
	}
	endpoint := resolveOtelEndpoint(cfg)
	if endpoint == "" {
		return nil, nil
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("otel endpoint must include scheme (http or https)")
	}

	opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(endpoint)}
	if len(cfg.OtelHeaders) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(cfg.OtelHeaders))
	}
	if cfg.OtelTimeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(cfg.OtelTimeout))
	}

	exp, err := otlploghttp.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.OtelServiceName
	if serviceName == "" {
		serviceName = "dupescan"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	)

	return &otelLogger{
		provider: provider,
		logger:   provider.Logger("dupescan"),
		timeout:  cfg.OtelTimeout,
		endpoint: endpoint,
	}, nil
}

func resolveOtelEndpoint(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if endpoint := strings.TrimSpace(cfg.OtelEndpoint); endpoint != "" {
		return endpoint
	}
	if !cfg.OtelFromEnv {
		return ""
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")); endpoint != "" {
		return endpoint
	}
	return strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
}

func (o *otelLogger) Endpoint() string {
	if o == nil {
		return ""
	}
	return o.endpoint
}

func (o *otelLogger) Emit(recordType, runID string, payload map[string]interface{}) {
	if o == nil || o.logger == nil {
		return
	}
	o.logger.Emit(context.Background(), buildRecord(recordType, runID, payload, time.Now()))
}

func buildRecord(recordType, runID string, payload map[string]interface{}, now time.Time) otelLog.Record {
	var record otelLog.Record
	record.SetTimestamp(now)
	record.SetObservedTimestamp(now)
	record.SetEventName("dupescan.record")
	record.AddAttributes(
		otelLog.String("record_type", recordType),
		otelLog.String("schema_version", SchemaVersion),
		otelLog.String("dupescan.run_id", runID),
	)
	if attrs := semanticAttributes(recordType, payload); len(attrs) > 0 {
		record.AddAttributes(attrs...)
	}
	record.SetBody(otelLog.MapValue(toLogKeyValues(payload)...))
	return record
}

func (o *otelLogger) Shutdown() {
	if o == nil || o.provider == nil {
		return
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := o.provider.Shutdown(ctx); err != nil {
		logger.Debugf("OTEL shutdown failed: %v", err)
	}
}

// emitReport sends one record per report row plus a run summary.
func (w *Writer) emitReport(report *pipeline.Report, loc objstore.Location) {
	if w.otel == nil {
		return
	}
	for _, payload := range reportPayloads(report, loc) {
		recordType, _ := payload["record_type"].(string)
		delete(payload, "record_type")
		w.otel.Emit(recordType, report.RunID, payload)
	}
}

func reportPayloads(report *pipeline.Report, loc objstore.Location) []map[string]interface{} {
	var out []map[string]interface{}
	for _, g := range report.Groups {
		for _, d := range g.Duplicates {
			out = append(out, map[string]interface{}{
				"record_type":    recordDuplicate,
				"duplicate_path": objectPath(loc, d),
				"duplicate_tag":  d.GroupTag,
				"duplicate_size": d.Size,
				"original_path":  objectPath(loc, g.Original),
				"original_tag":   g.Original.GroupTag,
				"original_size":  g.Original.Size,
				"hash":           g.Fingerprint.Value,
				"confidence":     string(g.Fingerprint.Kind),
			})
		}
	}
	for _, f := range report.Failures {
		payload := map[string]interface{}{
			"record_type": recordFailure,
			"path":        objectPath(loc, f.Record),
			"group_tag":   f.Record.GroupTag,
			"size":        f.Record.Size,
			"attempts":    f.Attempts,
		}
		if f.Err != nil {
			payload["kind"] = string(f.Err.Kind)
			payload["error"] = f.Err.Error()
		}
		out = append(out, payload)
	}
	for _, g := range report.NameGroups {
		for _, d := range g.Duplicates {
			out = append(out, map[string]interface{}{
				"record_type":    recordNameDuplicate,
				"name":           g.Name,
				"duplicate_path": objectPath(loc, d),
				"original_path":  objectPath(loc, g.Original),
			})
		}
	}
	s := report.Stats
	out = append(out, map[string]interface{}{
		"record_type":     recordSummary,
		"strategy":        report.Strategy,
		"location":        report.Location,
		"listed":          s.Listed,
		"skipped":         s.Skipped,
		"size_unique":     s.SizeUnique,
		"hashed":          s.Hashed,
		"succeeded":       s.Succeeded,
		"failed":          s.Failed,
		"groups":          s.Groups,
		"duplicates":      s.Duplicates,
		"elapsed_seconds": s.Elapsed.Seconds(),
	})
	return out
}

func toLogValue(value interface{}) otelLog.Value {
	switch v := value.(type) {
	case nil:
		return otelLog.Value{}
	case string:
		return otelLog.StringValue(v)
	case bool:
		return otelLog.BoolValue(v)
	case int:
		return otelLog.IntValue(v)
	case int64:
		return otelLog.Int64Value(v)
	case float64:
		return otelLog.Float64Value(v)
	case map[string]interface{}:
		return otelLog.MapValue(toLogKeyValues(v)...)
	case []string:
		values := make([]otelLog.Value, 0, len(v))
		for _, item := range v {
			values = append(values, otelLog.StringValue(item))
		}
		return otelLog.SliceValue(values...)
	default:
		return otelLog.StringValue(fmt.Sprint(v))
	}
}

func toLogKeyValues(values map[string]interface{}) []otelLog.KeyValue {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	kvs := make([]otelLog.KeyValue, 0, len(values))
	for _, key := range keys {
		kvs = append(kvs, otelLog.KeyValue{Key: key, Value: toLogValue(values[key])})
	}
	return kvs
}

func semanticAttributes(recordType string, data map[string]interface{}) []otelLog.KeyValue {
	if len(data) == 0 {
		return nil
	}
	var kvs []otelLog.KeyValue
	switch recordType {
	case recordDuplicate:
		kvs = appendStringAttr(kvs, "url.full", getStringField(data, "duplicate_path"))
		kvs = appendInt64Attr(kvs, "file.size", data["duplicate_size"])
		kvs = appendStringAttr(kvs, "dupescan.original", getStringField(data, "original_path"))
		kvs = appendStringAttr(kvs, "dupescan.hash", getStringField(data, "hash"))
		kvs = appendStringAttr(kvs, "dupescan.confidence", getStringField(data, "confidence"))
	case recordFailure:
		kvs = appendStringAttr(kvs, "url.full", getStringField(data, "path"))
		kvs = appendInt64Attr(kvs, "file.size", data["size"])
		kvs = appendStringAttr(kvs, "error.type", getStringField(data, "kind"))
	case recordNameDuplicate:
		kvs = appendStringAttr(kvs, "file.name", getStringField(data, "name"))
	case recordSummary:
		kvs = appendStringAttr(kvs, "dupescan.strategy", getStringField(data, "strategy"))
		kvs = appendInt64Attr(kvs, "dupescan.duplicates", data["duplicates"])
		kvs = appendInt64Attr(kvs, "dupescan.failed", data["failed"])
	}
	return kvs
}

func getStringField(values map[string]interface{}, key string) string {
	if s, ok := values[key].(string); ok {
		return s
	}
	return ""
}

func appendStringAttr(kvs []otelLog.KeyValue, key, value string) []otelLog.KeyValue {
	if value == "" {
		return kvs
	}
	return append(kvs, otelLog.String(key, value))
}

func appendInt64Attr(kvs []otelLog.KeyValue, key string, value interface{}) []otelLog.KeyValue {
	switch v := value.(type) {
	case int:
		return append(kvs, otelLog.Int64(key, int64(v)))
	case int64:
		return append(kvs, otelLog.Int64(key, v))
	default:
		return kvs
	}
}
