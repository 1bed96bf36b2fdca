package core

import (
	"context"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// RedactedValue replaces secrets and signatures in log fields and error
// metadata.
const RedactedValue = "[REDACTED]"

// Metric tag keys. Every guard metric carries exactly these.
const (
	TagOperation = "operation"
	TagStatus    = "status"
	TagOutcome   = "outcome"
	TagRule      = "rule"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}

// span follows one guard operation. end emits guard.<op>.total and
// guard.<op>.duration_ms plus a debug line on success or an error line on
// failure.
type span struct {
	svc       *Service
	op        string
	startedAt time.Time
	outcome   string
	fields    map[string]any
}

func (s *Service) startSpan(op string, fields map[string]any) *span {
	if fields == nil {
		fields = map[string]any{}
	}
	return &span{svc: s, op: operationName(op), startedAt: s.clock(), fields: fields}
}

func (sp *span) set(key string, value any) {
	sp.fields[key] = value
}

// result names what happened, e.g. "replay" or "exceeded". It becomes the
// outcome tag.
func (sp *span) result(outcome string) {
	sp.outcome = outcome
}

func (sp *span) end(ctx context.Context, err error) {
	s := sp.svc
	if s == nil {
		return
	}
	elapsed := s.clock().Sub(sp.startedAt)
	status := "success"
	if err != nil {
		status = "failure"
		if sp.outcome == "" {
			sp.outcome = "error"
		}
	}

	fields := RedactSensitiveMap(sp.fields)
	fields["event_type"] = sp.op
	fields["status"] = status
	fields["duration_ms"] = elapsed.Milliseconds()
	if sp.outcome != "" {
		fields[TagOutcome] = sp.outcome
	}

	tags := map[string]string{
		TagOperation: sp.op,
		TagStatus:    status,
		TagOutcome:   sp.outcome,
	}
	if rule, ok := sp.fields[TagRule].(string); ok {
		tags[TagRule] = strings.TrimSpace(rule)
	}
	if m := s.metricsRecorder; m != nil {
		m.IncCounter(ctx, "guard."+sp.op+".total", 1, tags)
		m.ObserveHistogram(ctx, "guard."+sp.op+".duration_ms", float64(elapsed.Milliseconds()), copyTags(tags))
	}

	if err == nil {
		s.log(ctx, "debug", sp.op+" succeeded", fields)
		return
	}
	fields["error"] = err.Error()
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		fields["error_category"] = string(rich.Category)
		fields["error_text_code"] = rich.TextCode
		if len(rich.Metadata) > 0 {
			fields["error_metadata"] = RedactSensitiveMap(rich.Metadata)
		}
	}
	s.log(ctx, "error", sp.op+" failed", fields)
}

func (s *Service) log(ctx context.Context, level string, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if scoped, ok := logger.(FieldsLogger); ok {
		logger = scoped.WithFields(fields)
	}
	args := keyValues(fields)
	switch level {
	case "error":
		logger.Error(message, args...)
	case "warn":
		logger.Warn(message, args...)
	case "debug":
		logger.Debug(message, args...)
	default:
		logger.Info(message, args...)
	}
}

// keyValues flattens fields into sorted key/value pairs.
func keyValues(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for key, value := range tags {
		out[key] = value
	}
	return out
}

func operationName(op string) string {
	op = strings.ToLower(strings.TrimSpace(op))
	op = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(op)
	if op == "" {
		return "unknown"
	}
	return op
}

// RedactSensitiveMap returns a copy of metadata with secret-looking keys
// replaced by RedactedValue, walking nested maps and slices. Delivery
// identifiers stay readable.
func RedactSensitiveMap(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if sensitiveKey(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return RedactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = redactValue(item)
		}
		return out
	default:
		return value
	}
}

var sensitiveTokens = []string{
	"secret", "signature", "hmac", "token", "password",
	"authorization", "api_key", "apikey", "credential",
}

func sensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	switch key {
	case "", "event_id", "delivery_id", "trace_id", "repo", "rule", "provider_id", "secret_env":
		return false
	}
	for _, token := range sensitiveTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}
