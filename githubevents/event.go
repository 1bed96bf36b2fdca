package githubevents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	AgentName   = "AGP"
	EventSource = "webhook"

	KindDialogue = "dialogue"
	KindReport   = "report"

	LotStatusDone       = "done"
	LotStatusInProgress = "in-progress"

	ActionRunChecks   = "run_checks"
	ActionStatusQueue = "queued"

	lotLabelPrefix = "lot:"
)

// AgentEvent is a GitHub delivery normalized into the agent activity feed.
type AgentEvent struct {
	ID         string
	Agent      string
	Kind       string
	Event      string
	Action     string
	Title      string
	Summary    string
	Labels     []string
	Links      []string
	KPIs       map[string]any
	Author     string
	Source     string
	Repo       string
	IssueRef   string
	PRRef      string
	DeliveryID string
	Hash       string
}

// LotUpdate moves a lot to a new status when an event carries a lot:<name>
// label.
type LotUpdate struct {
	LotKey string
	Status string
	KPIs   map[string]any
}

// FollowUpAction is queued once per dedupe key.
type FollowUpAction struct {
	Kind      string
	DedupeKey string
	Payload   map[string]any
}

// Recording is everything one delivery writes. Lot and Action are optional.
type Recording struct {
	Event  AgentEvent
	Lot    *LotUpdate
	Action *FollowUpAction
}

type RecordResult struct {
	EventID   string
	Duplicate bool
}

// Recorder persists a recording atomically. A recording whose event hash was
// already stored reports Duplicate and writes nothing.
type Recorder interface {
	Record(ctx context.Context, recording Recording) (RecordResult, error)
}

type repository struct {
	FullName string          `json:"full_name"`
	PushedAt json.RawMessage `json:"pushed_at"`
}

type label struct {
	Name string `json:"name"`
}

type pullRequest struct {
	Number  int     `json:"number"`
	Title   string  `json:"title"`
	Labels  []label `json:"labels"`
	HTMLURL string  `json:"html_url"`
	Merged  bool    `json:"merged"`
	State   string  `json:"state"`
}

type issue struct {
	Number  int     `json:"number"`
	Title   string  `json:"title"`
	Labels  []label `json:"labels"`
	HTMLURL string  `json:"html_url"`
	State   string  `json:"state"`
}

type account struct {
	Login string `json:"login"`
}

type comment struct {
	HTMLURL string `json:"html_url"`
}

// Payload is the subset of a GitHub webhook body the normalizer reads.
type Payload struct {
	Action      string       `json:"action"`
	Repository  *repository  `json:"repository"`
	Sender      *account     `json:"sender"`
	PullRequest *pullRequest `json:"pull_request"`
	Issue       *issue       `json:"issue"`
	Comment     *comment     `json:"comment"`
	After       string       `json:"after"`
	Compare     string       `json:"compare"`
}

func ParsePayload(raw []byte) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, err
	}
	return payload, nil
}

// RepoName returns repository.full_name or "".
func (p Payload) RepoName() string {
	if p.Repository == nil {
		return ""
	}
	return strings.TrimSpace(p.Repository.FullName)
}

func (p Payload) sender() string {
	if p.Sender == nil || strings.TrimSpace(p.Sender.Login) == "" {
		return "unknown"
	}
	return strings.TrimSpace(p.Sender.Login)
}

// Normalize builds the recording for one delivery. now is used for the hash
// when the payload carries no repository.pushed_at.
func Normalize(eventName string, deliveryID string, payload Payload, now time.Time) (Recording, error) {
	repo := payload.RepoName()
	sender := payload.sender()
	action := strings.TrimSpace(payload.Action)

	var (
		number   int
		title    string
		labels   []string
		url      string
		merged   bool
		state    string
		prRef    string
		issueRef string
	)

	switch eventName {
	case "pull_request":
		if pr := payload.PullRequest; pr != nil {
			number = pr.Number
			title = fmt.Sprintf("[PR] %s#%d: %s", repo, pr.Number, pr.Title)
			labels = labelNames(pr.Labels)
			url = pr.HTMLURL
			merged = pr.Merged
			state = pr.State
		}
		prRef = fmt.Sprintf("pr#%d", number)
	case "issues":
		if is := payload.Issue; is != nil {
			number = is.Number
			title = fmt.Sprintf("[Issue] %s#%d: %s", repo, is.Number, is.Title)
			labels = labelNames(is.Labels)
			url = is.HTMLURL
			state = is.State
		}
		issueRef = fmt.Sprintf("issue#%d", number)
	case "issue_comment":
		if is := payload.Issue; is != nil {
			number = is.Number
			title = fmt.Sprintf("[Comment] %s#%d", repo, is.Number)
			labels = labelNames(is.Labels)
			state = is.State
		}
		if payload.Comment != nil {
			url = payload.Comment.HTMLURL
		}
		issueRef = fmt.Sprintf("issue#%d", number)
	case "push":
		after := payload.After
		if len(after) > 7 {
			after = after[:7]
		}
		title = fmt.Sprintf("[Push] %s@%s", repo, after)
		url = payload.Compare
	}
	if labels == nil {
		labels = []string{}
	}

	kind := KindReport
	if eventName == "issue_comment" {
		kind = KindDialogue
	}
	summary := eventName
	if action != "" {
		summary += ":" + action
	}
	summary += " by " + sender

	links := []string{}
	if url != "" {
		links = append(links, url)
	}

	hashInput := map[string]any{
		"delivery_id": deliveryID,
		"repo":        repo,
		"event":       kind,
		"action":      action,
		"ts":          pushedAt(payload, now),
	}
	if number != 0 {
		hashInput["number"] = number
	}
	hash, err := HashCanonical(hashInput)
	if err != nil {
		return Recording{}, err
	}

	recording := Recording{
		Event: AgentEvent{
			Agent:   AgentName,
			Kind:    kind,
			Event:   eventName,
			Action:  action,
			Title:   title,
			Summary: summary,
			Labels:  labels,
			Links:   links,
			KPIs: map[string]any{
				"action": action,
				"merged": merged,
				"state":  state,
				"sender": sender,
				"event":  eventName,
			},
			Author:     sender,
			Source:     EventSource,
			Repo:       repo,
			IssueRef:   issueRef,
			PRRef:      prRef,
			DeliveryID: deliveryID,
			Hash:       hash,
		},
	}

	if lot := lotLabel(labels); lot != "" {
		status := LotStatusInProgress
		if action == "closed" {
			status = LotStatusDone
		}
		recording.Lot = &LotUpdate{
			LotKey: repo + ":" + lot,
			Status: status,
			KPIs:   map[string]any{"state": state, "merged": merged},
		}
	}

	if eventName == "pull_request" && number != 0 {
		recording.Action = &FollowUpAction{
			Kind:      ActionRunChecks,
			DedupeKey: fmt.Sprintf("%s:%s#%d", ActionRunChecks, repo, number),
			Payload: map[string]any{
				"kind":        ActionRunChecks,
				"repo":        repo,
				"number":      number,
				"url":         url,
				"delivery_id": deliveryID,
			},
		}
	}
	return recording, nil
}

// HashCanonical returns the hex sha256 of value encoded as JSON with map keys
// sorted.
func HashCanonical(value map[string]any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

func pushedAt(payload Payload, now time.Time) any {
	if payload.Repository != nil && len(payload.Repository.PushedAt) > 0 {
		var value any
		if err := json.Unmarshal(payload.Repository.PushedAt, &value); err == nil && value != nil {
			return value
		}
	}
	return now.UTC().Format(time.RFC3339Nano)
}

func labelNames(labels []label) []string {
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		if name := strings.TrimSpace(l.Name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func lotLabel(labels []string) string {
	for _, l := range labels {
		if strings.HasPrefix(l, lotLabelPrefix) {
			return strings.TrimPrefix(l, lotLabelPrefix)
		}
	}
	return ""
}
