package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/arka-hq/go-guard/core"
)

// webhookHandler reads the raw body before anything parses it, since the
// signature covers the exact bytes on the wire.
func (a *api) webhookHandler(processor WebhookProcessor, providerID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.opts.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				a.writeError(w, r, core.NewServiceError(
					"httpapi: request body exceeds limit",
					goerrors.CategoryBadInput,
					core.ServiceErrorPayloadTooLarge,
					map[string]any{"limit_bytes": tooLarge.Limit},
				))
				return
			}
			a.writeError(w, r, core.WrapServiceError(err, goerrors.CategoryBadInput, "httpapi: read body failed", core.ServiceErrorBadInput, nil))
			return
		}

		result, err := processor.Process(r.Context(), core.InboundRequest{
			ProviderID: providerID,
			Surface:    "webhook",
			Headers:    flattenHeaders(r.Header),
			Body:       body,
			Metadata:   map[string]any{"trace_id": TraceID(r.Context())},
		})
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		status := result.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, result.Body)
	}
}

// writeError answers {"error":"<code>"} with the status carried by the error
// envelope.
func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	mapped := core.MapError(err)
	status := mapped.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			"route", routePattern(r),
			"trace_id", TraceID(r.Context()),
			"text_code", mapped.TextCode,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]any{"error": core.WireCode(mapped)})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		out[key] = values[0]
	}
	return out
}
