package githubevents

import (
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func mustParse(t *testing.T, raw string) Payload {
	t.Helper()
	payload, err := ParsePayload([]byte(raw))
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	return payload
}

func TestNormalize_PullRequestQueuesChecksAndLot(t *testing.T) {
	payload := mustParse(t, `{
		"action": "opened",
		"repository": {"full_name": "arka/cockpit"},
		"sender": {"login": "octo"},
		"pull_request": {
			"number": 42,
			"title": "Add gates",
			"html_url": "https://github.com/arka/cockpit/pull/42",
			"state": "open",
			"labels": [{"name": "bug"}, {"name": "lot:L7"}]
		}
	}`)

	recording, err := Normalize("pull_request", "d-1", payload, fixedNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	event := recording.Event
	if event.Title != "[PR] arka/cockpit#42: Add gates" {
		t.Fatalf("unexpected title %q", event.Title)
	}
	if event.Kind != KindReport || event.Agent != AgentName || event.Source != EventSource {
		t.Fatalf("unexpected event identity %#v", event)
	}
	if event.Summary != "pull_request:opened by octo" {
		t.Fatalf("unexpected summary %q", event.Summary)
	}
	if event.PRRef != "pr#42" || event.IssueRef != "" {
		t.Fatalf("unexpected refs pr=%q issue=%q", event.PRRef, event.IssueRef)
	}
	if len(event.Links) != 1 || event.Links[0] != "https://github.com/arka/cockpit/pull/42" {
		t.Fatalf("unexpected links %#v", event.Links)
	}
	if recording.Lot == nil || recording.Lot.LotKey != "arka/cockpit:L7" || recording.Lot.Status != LotStatusInProgress {
		t.Fatalf("unexpected lot update %#v", recording.Lot)
	}
	if recording.Action == nil || recording.Action.DedupeKey != "run_checks:arka/cockpit#42" {
		t.Fatalf("unexpected follow-up action %#v", recording.Action)
	}
}

func TestNormalize_ClosedLotIsDone(t *testing.T) {
	payload := mustParse(t, `{
		"action": "closed",
		"repository": {"full_name": "arka/cockpit"},
		"issue": {"number": 3, "title": "t", "labels": [{"name": "lot:A"}]}
	}`)
	recording, err := Normalize("issues", "d-2", payload, fixedNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if recording.Lot == nil || recording.Lot.Status != LotStatusDone {
		t.Fatalf("expected done lot, got %#v", recording.Lot)
	}
	if recording.Action != nil {
		t.Fatalf("expected no follow-up action for issues")
	}
	if recording.Event.IssueRef != "issue#3" {
		t.Fatalf("unexpected issue ref %q", recording.Event.IssueRef)
	}
}

func TestNormalize_CommentIsDialogue(t *testing.T) {
	payload := mustParse(t, `{
		"action": "created",
		"repository": {"full_name": "arka/cockpit"},
		"issue": {"number": 9},
		"comment": {"html_url": "https://example.test/c/1"}
	}`)
	recording, err := Normalize("issue_comment", "d-3", payload, fixedNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if recording.Event.Kind != KindDialogue {
		t.Fatalf("expected dialogue, got %q", recording.Event.Kind)
	}
	if recording.Event.Author != "unknown" {
		t.Fatalf("expected unknown author without sender, got %q", recording.Event.Author)
	}
}

func TestNormalize_PushTitleUsesShortSHA(t *testing.T) {
	payload := mustParse(t, `{
		"repository": {"full_name": "arka/cockpit", "pushed_at": 1775037600},
		"after": "0123456789abcdef",
		"compare": "https://example.test/compare"
	}`)
	recording, err := Normalize("push", "d-4", payload, fixedNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if recording.Event.Title != "[Push] arka/cockpit@0123456" {
		t.Fatalf("unexpected title %q", recording.Event.Title)
	}
	if recording.Event.Summary != "push by unknown" {
		t.Fatalf("unexpected summary %q", recording.Event.Summary)
	}
}

func TestNormalize_HashIsStablePerDelivery(t *testing.T) {
	payload := mustParse(t, `{"action":"opened","repository":{"full_name":"a/b","pushed_at":"2026-04-01T09:00:00Z"},"issue":{"number":1}}`)

	first, err := Normalize("issues", "d-5", payload, fixedNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	again, err := Normalize("issues", "d-5", payload, fixedNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("normalize again: %v", err)
	}
	if first.Event.Hash != again.Event.Hash {
		t.Fatalf("expected pushed_at to pin the hash")
	}
	other, err := Normalize("issues", "d-6", payload, fixedNow)
	if err != nil {
		t.Fatalf("normalize other: %v", err)
	}
	if other.Event.Hash == first.Event.Hash {
		t.Fatalf("expected distinct delivery ids to hash differently")
	}
}

func TestHashCanonical_IgnoresKeyOrder(t *testing.T) {
	left, err := HashCanonical(map[string]any{"a": 1, "b": "x"})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	right, err := HashCanonical(map[string]any{"b": "x", "a": 1})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if left != right || len(left) != 64 {
		t.Fatalf("expected identical 64 char hashes, got %q %q", left, right)
	}
}
