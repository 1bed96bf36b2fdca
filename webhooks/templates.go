package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/arka-hq/go-guard/core"
)

const (
	ProviderGitHub = "github"
	ProviderGates  = "gates"

	HeaderGitHubSignature = "X-Hub-Signature-256"
	HeaderGitHubDelivery  = "X-GitHub-Delivery"
	HeaderGitHubEvent     = "X-GitHub-Event"
	HeaderSignature       = "X-Signature"
	HeaderEventID         = "X-Event-Id"
	HeaderDeliveryID      = "X-Delivery-Id"
)

// ProviderWebhookTemplate bundles the verifier and delivery id rules for one
// webhook source. RequiredHeaders are checked before verification.
type ProviderWebhookTemplate struct {
	ProviderID      string
	Verifier        Verifier
	Extractor       DeliveryIDExtractor
	SignatureHeader string
	RequiredHeaders []string
}

// HeaderHMACVerifier checks an HMAC-SHA256 signature carried in a request
// header. The secret is resolved on every call and a missing secret fails
// closed.
type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   SecretSource
	Encoding string // hex | base64
}

func (v HeaderHMACVerifier) Verify(ctx context.Context, req core.InboundRequest) error {
	headerName := strings.TrimSpace(v.Header)
	header := strings.TrimSpace(HeaderValue(req.Headers, headerName))
	if header == "" {
		return badSignature("signature header is missing", headerName, "missing_header")
	}
	if v.Secret == nil {
		return badSignature("signature secret is not configured", headerName, "secret_not_configured")
	}
	secret, err := v.Secret.Secret(ctx)
	if err != nil || secret == "" {
		return badSignature("signature secret is not configured", headerName, "secret_not_configured")
	}
	prefix := strings.TrimSpace(v.Prefix)
	if prefix != "" && !strings.HasPrefix(header, prefix) {
		return badSignature("signature prefix is missing", headerName, "missing_prefix")
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if !verifyEncoded(signature, req.Body, secret, v.Encoding) {
		return badSignature("signature verification failed", headerName, "mismatch")
	}
	return nil
}

func badSignature(message string, header string, reason string) error {
	return core.NewServiceError(
		"webhooks: "+message,
		goerrors.CategoryAuth,
		core.ServiceErrorBadSignature,
		map[string]any{"header": header, "reason": reason},
	)
}

func missingFields(fields ...string) error {
	return core.NewServiceError(
		"webhooks: required delivery headers are missing",
		goerrors.CategoryBadInput,
		core.ServiceErrorMissingFields,
		map[string]any{"missing": fields},
	)
}

var errDeliveryIDMissing = errors.New("webhooks: delivery id is required for dedupe")

func HeaderDeliveryIDExtractor(headers ...string) DeliveryIDExtractor {
	keys := append([]string(nil), headers...)
	return func(req core.InboundRequest) (string, error) {
		for _, key := range keys {
			if value := strings.TrimSpace(HeaderValue(req.Headers, key)); value != "" {
				return value, nil
			}
		}
		return "", errDeliveryIDMissing
	}
}

func ChainDeliveryIDExtractors(extractors ...DeliveryIDExtractor) DeliveryIDExtractor {
	list := append([]DeliveryIDExtractor(nil), extractors...)
	return func(req core.InboundRequest) (string, error) {
		var lastErr error
		for _, extractor := range list {
			if extractor == nil {
				continue
			}
			deliveryID, err := extractor(req)
			if err == nil && strings.TrimSpace(deliveryID) != "" {
				return strings.TrimSpace(deliveryID), nil
			}
			if err != nil {
				lastErr = err
			}
		}
		if lastErr != nil {
			return "", lastErr
		}
		return "", errDeliveryIDMissing
	}
}

// MetadataDeliveryIDExtractor reads the delivery id from request metadata,
// for deliveries that did not arrive over HTTP.
func MetadataDeliveryIDExtractor(keys ...string) DeliveryIDExtractor {
	list := append([]string(nil), keys...)
	return func(req core.InboundRequest) (string, error) {
		for _, key := range list {
			if value := strings.TrimSpace(fmt.Sprint(req.Metadata[key])); value != "" && value != "<nil>" {
				return value, nil
			}
		}
		return "", errDeliveryIDMissing
	}
}

func NewGitHubWebhookTemplate(secret SecretSource) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		ProviderID: ProviderGitHub,
		Verifier: HeaderHMACVerifier{
			Header:   HeaderGitHubSignature,
			Prefix:   SignaturePrefix,
			Secret:   secret,
			Encoding: EncodingHex,
		},
		Extractor: ChainDeliveryIDExtractors(
			HeaderDeliveryIDExtractor(HeaderGitHubDelivery, HeaderDeliveryID),
			MetadataDeliveryIDExtractor("delivery_id"),
		),
		SignatureHeader: HeaderGitHubSignature,
	}
}

// NewGatesWebhookTemplate verifies internal gate callbacks, which carry both
// the signature and the event id in mandatory headers.
func NewGatesWebhookTemplate(secret SecretSource) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		ProviderID: ProviderGates,
		Verifier: HeaderHMACVerifier{
			Header:   HeaderSignature,
			Prefix:   SignaturePrefix,
			Secret:   secret,
			Encoding: EncodingHex,
		},
		Extractor:       HeaderDeliveryIDExtractor(HeaderEventID),
		SignatureHeader: HeaderSignature,
		RequiredHeaders: []string{HeaderSignature, HeaderEventID},
	}
}
