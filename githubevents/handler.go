package githubevents

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/arka-hq/go-guard/core"
	"github.com/arka-hq/go-guard/webhooks"
)

// Handler records verified, first-seen GitHub deliveries as agent events.
// Deliveries without an X-GitHub-Event header are acknowledged untouched.
type Handler struct {
	Recorder Recorder
	Webhook  core.WebhookConfig
	Logger   core.Logger
	Now      func() time.Time
}

func NewHandler(recorder Recorder, cfg core.WebhookConfig, logger core.Logger) *Handler {
	return &Handler{
		Recorder: recorder,
		Webhook:  cfg,
		Logger:   glog.Ensure(logger),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if h == nil || h.Recorder == nil {
		return core.InboundResult{}, fmt.Errorf("githubevents: recorder is not configured")
	}
	eventName := webhooks.HeaderValue(req.Headers, webhooks.HeaderGitHubEvent)
	if eventName == "ping" {
		return core.InboundResult{Body: map[string]any{"pong": true}}, nil
	}

	payload, err := ParsePayload(req.Body)
	if err != nil {
		return core.InboundResult{}, core.WrapServiceError(
			err,
			goerrors.CategoryBadInput,
			"githubevents: payload is not valid json",
			core.ServiceErrorPayloadInvalid,
			nil,
		)
	}

	// Without an event type there is nothing to normalize; the delivery is
	// acknowledged once and never reaches the allowlist or the recorder.
	if strings.TrimSpace(eventName) == "" {
		return core.InboundResult{
			StatusCode: http.StatusOK,
			Metadata:   map[string]any{"event": "none"},
		}, nil
	}

	repo := payload.RepoName()
	if !h.Webhook.RepoAllowed(repo) {
		return core.InboundResult{}, core.NewServiceError(
			"githubevents: repository is not allowed",
			goerrors.CategoryAuthz,
			core.ServiceErrorForbidden,
			map[string]any{"repo": repo},
		)
	}

	deliveryID := strings.TrimSpace(fmt.Sprint(req.Metadata["delivery_id"]))
	if deliveryID == "<nil>" {
		deliveryID = webhooks.HeaderValue(req.Headers, webhooks.HeaderGitHubDelivery)
	}
	recording, err := Normalize(eventName, deliveryID, payload, h.now())
	if err != nil {
		return core.InboundResult{}, err
	}

	result, err := h.Recorder.Record(ctx, recording)
	if err != nil {
		return core.InboundResult{}, core.WrapServiceError(
			err,
			goerrors.CategoryOperation,
			"githubevents: record agent event failed",
			core.ServiceErrorStoreFailed,
			map[string]any{"repo": repo, "event": eventName},
		)
	}
	metadata := map[string]any{"repo": repo, "event": eventName}
	if result.Duplicate {
		metadata["duplicate"] = true
		return core.InboundResult{
			StatusCode: http.StatusOK,
			Body:       map[string]any{"duplicate": true},
			Metadata:   metadata,
		}, nil
	}
	glog.Ensure(h.Logger).Info("github event recorded",
		"repo", repo,
		"event", eventName,
		"delivery_id", deliveryID,
		"event_id", result.EventID,
	)
	metadata["event_id"] = result.EventID
	return core.InboundResult{
		StatusCode: http.StatusOK,
		Body:       map[string]any{"id": result.EventID},
		Metadata:   metadata,
	}, nil
}

func (h *Handler) now() time.Time {
	if h != nil && h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

var _ webhooks.Handler = (*Handler)(nil)
