package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/arka-hq/go-guard/core"
)

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

type DeliveryIDExtractor func(req core.InboundRequest) (string, error)

// Handler applies the business effects of a verified first-seen delivery.
// Fields in the returned Body are merged into the {"ok":true} response.
type Handler interface {
	Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

type HandlerFunc func(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)

func (f HandlerFunc) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	return f(ctx, req)
}

// Processor composes verification, replay tracking and the delivery handler:
// a bad signature is rejected, a seen (delivery id, signature) pair is
// answered as idempotent and anything else reaches the handler.
type Processor struct {
	ProviderID      string
	Verifier        Verifier
	Ledger          core.ReplayLedger
	Handler         Handler
	ExtractID       DeliveryIDExtractor
	SignatureHeader string
	RequiredHeaders []string
	ReplayTTL       time.Duration
	Logger          core.Logger
}

func NewProcessor(verifier Verifier, ledger core.ReplayLedger, handler Handler) *Processor {
	return &Processor{
		Verifier:  verifier,
		Ledger:    ledger,
		Handler:   handler,
		ExtractID: DefaultDeliveryIDExtractor,
		ReplayTTL: core.DefaultReplayTTL,
	}
}

// NewTemplateProcessor builds a processor from a provider template. A nil
// handler acknowledges first-seen deliveries without side effects.
func NewTemplateProcessor(template ProviderWebhookTemplate, ledger core.ReplayLedger, handler Handler) *Processor {
	p := NewProcessor(template.Verifier, ledger, handler)
	p.ProviderID = template.ProviderID
	p.SignatureHeader = template.SignatureHeader
	p.RequiredHeaders = append([]string(nil), template.RequiredHeaders...)
	if template.Extractor != nil {
		p.ExtractID = template.Extractor
	}
	return p
}

func (p *Processor) Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if p == nil || p.Ledger == nil {
		return core.InboundResult{}, fmt.Errorf("webhooks: processor requires a replay ledger")
	}
	providerID := strings.TrimSpace(req.ProviderID)
	if providerID == "" {
		providerID = strings.TrimSpace(p.ProviderID)
	}
	if providerID == "" {
		return core.InboundResult{}, core.NewServiceError(
			"webhooks: provider id is required",
			goerrors.CategoryBadInput,
			core.ServiceErrorBadInput,
			nil,
		)
	}
	req.ProviderID = providerID

	if missing := missingHeaders(req.Headers, p.RequiredHeaders); len(missing) > 0 {
		return rejected(providerID, http.StatusBadRequest), missingFields(missing...)
	}

	if p.Verifier != nil {
		if err := p.Verifier.Verify(ctx, req); err != nil {
			p.logger().Warn("webhook signature rejected", "provider_id", providerID, "error", err)
			return rejected(providerID, http.StatusUnauthorized), err
		}
	}

	extractor := p.ExtractID
	if extractor == nil {
		extractor = DefaultDeliveryIDExtractor
	}
	deliveryID, err := extractor(req)
	if err != nil || strings.TrimSpace(deliveryID) == "" {
		return rejected(providerID, http.StatusBadRequest), missingFields(p.deliveryHeaderName())
	}
	signature := HeaderValue(req.Headers, p.SignatureHeader)

	replay, err := p.Ledger.IsReplay(ctx, deliveryID, signature, p.replayTTL())
	if err != nil {
		return core.InboundResult{}, err
	}
	metadata := map[string]any{
		"provider_id": providerID,
		"delivery_id": deliveryID,
	}
	if replay {
		metadata["deduped"] = true
		return core.InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Body:       map[string]any{"ok": true, "idempotent": true},
			Metadata:   metadata,
		}, nil
	}

	if p.Handler == nil {
		return core.InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Body:       map[string]any{"ok": true},
			Metadata:   metadata,
		}, nil
	}

	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	req.Metadata["delivery_id"] = deliveryID

	result, err := p.Handler.Handle(ctx, req)
	if err != nil {
		p.release(ctx, deliveryID, signature)
		return core.InboundResult{Metadata: metadata}, err
	}

	body := map[string]any{}
	for key, value := range result.Body {
		body[key] = value
	}
	body["ok"] = true
	for key, value := range result.Metadata {
		metadata[key] = value
	}
	status := result.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return core.InboundResult{
		Accepted:   true,
		StatusCode: status,
		Body:       body,
		Metadata:   metadata,
	}, nil
}

// release forgets the pair so a redelivery after a handler failure is
// processed instead of being answered as idempotent.
func (p *Processor) release(ctx context.Context, deliveryID string, signature string) {
	forgetter, ok := p.Ledger.(core.ReplayForgetter)
	if !ok {
		return
	}
	if err := forgetter.Forget(ctx, deliveryID, signature); err != nil {
		p.logger().Error("webhook replay release failed", "delivery_id", deliveryID, "error", err)
	}
}

func DefaultDeliveryIDExtractor(req core.InboundRequest) (string, error) {
	return ChainDeliveryIDExtractors(
		MetadataDeliveryIDExtractor("delivery_id", "message_id"),
		HeaderDeliveryIDExtractor(HeaderDeliveryID, HeaderGitHubDelivery, HeaderEventID),
	)(req)
}

func (p *Processor) replayTTL() time.Duration {
	if p != nil && p.ReplayTTL > 0 {
		return p.ReplayTTL
	}
	return core.DefaultReplayTTL
}

func (p *Processor) logger() core.Logger {
	if p == nil {
		return glog.Nop()
	}
	return glog.Ensure(p.Logger)
}

func (p *Processor) deliveryHeaderName() string {
	switch p.ProviderID {
	case ProviderGitHub:
		return HeaderGitHubDelivery
	case ProviderGates:
		return HeaderEventID
	default:
		return HeaderDeliveryID
	}
}

func rejected(providerID string, status int) core.InboundResult {
	return core.InboundResult{
		Accepted:   false,
		StatusCode: status,
		Metadata: map[string]any{
			"provider_id": providerID,
			"rejected":    true,
		},
	}
}

func missingHeaders(headers map[string]string, required []string) []string {
	missing := []string{}
	for _, key := range required {
		if HeaderValue(headers, key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// HeaderValue looks up key case-insensitively and returns its trimmed value.
func HeaderValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
