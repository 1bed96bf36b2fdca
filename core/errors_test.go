package core

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestServiceErrorMapper_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		message  string
		textCode string
		category goerrors.Category
		status   int
	}{
		{"webhooks: signature mismatch", ServiceErrorBadSignature, goerrors.CategoryAuth, http.StatusUnauthorized},
		{"webhooks: secret is not configured", ServiceErrorConfigMissing, goerrors.CategoryAuth, http.StatusUnauthorized},
		{"ratelimit: request throttled", ServiceErrorRateLimited, goerrors.CategoryRateLimit, http.StatusTooManyRequests},
		{"githubevents: repo not allowed", ServiceErrorForbidden, goerrors.CategoryAuthz, http.StatusForbidden},
		{"command: key not found", ServiceErrorNotFound, goerrors.CategoryNotFound, http.StatusNotFound},
		{"core: event id is required", ServiceErrorBadInput, goerrors.CategoryBadInput, http.StatusBadRequest},
	}
	for _, tc := range cases {
		mapped := serviceErrorMapper(stderrors.New(tc.message))
		if mapped.TextCode != tc.textCode {
			t.Fatalf("%q: expected text code %q, got %q", tc.message, tc.textCode, mapped.TextCode)
		}
		if mapped.Category != tc.category {
			t.Fatalf("%q: expected category %q, got %q", tc.message, tc.category, mapped.Category)
		}
		if mapped.Code != tc.status {
			t.Fatalf("%q: expected status %d, got %d", tc.message, tc.status, mapped.Code)
		}
	}
}

func TestServiceErrorMapper_PreservesRichErrors(t *testing.T) {
	source := NewServiceError("payload invalid", goerrors.CategoryBadInput, ServiceErrorPayloadInvalid, map[string]any{"event": "push"})
	mapped := serviceErrorMapper(source)
	if mapped != source {
		t.Fatalf("expected rich error to pass through")
	}
	if mapped.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", mapped.Code)
	}
}

func TestWireCode(t *testing.T) {
	cases := map[string]string{
		ServiceErrorBadSignature:    WireCodeBadSignature,
		ServiceErrorRateLimited:     WireCodeRateLimited,
		ServiceErrorForbidden:       WireCodeRepoNotAllowed,
		ServiceErrorPayloadInvalid:  WireCodePayloadInvalid,
		ServiceErrorPayloadTooLarge: WireCodePayloadTooLarge,
		ServiceErrorStoreFailed:     WireCodeInternal,
	}
	for textCode, wire := range cases {
		err := NewServiceError("x", goerrors.CategoryInternal, textCode, nil)
		if got := WireCode(err); got != wire {
			t.Fatalf("text code %q: expected wire code %q, got %q", textCode, wire, got)
		}
	}
	if got := WireCode(nil); got != WireCodeInternal {
		t.Fatalf("expected nil error to map to internal, got %q", got)
	}
}

func TestServiceMethods_MapErrorsToStableServiceCodes(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(Config{}, WithWindowStore(newStubWindowStore()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, err = svc.IsReplay(ctx, "", "sig", time.Minute)
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ServiceErrorBadInput {
		t.Fatalf("expected bad input text code, got %q", richErr.TextCode)
	}

	_, err = svc.Hit(ctx, "ip:1", 0, time.Minute)
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected go-errors type, got %T", err)
	}
	if richErr.TextCode != ServiceErrorBadInput {
		t.Fatalf("expected bad input text code for zero limit, got %q", richErr.TextCode)
	}

	bare, err := NewService(Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := bare.Reset(ctx, "ip:1"); err == nil {
		t.Fatalf("expected missing window store to fail")
	}
}
