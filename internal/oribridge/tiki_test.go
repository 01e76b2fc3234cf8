package oribridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestTikiAdapter(t *testing.T, handler http.Handler) *TikiAdapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	adapter, err := NewTikiAdapter(BackendSpec{
		Name:      "wiki",
		Server:    "tracker.example.org",
		TrackerID: "4",
	})
	if err != nil {
		t.Fatalf("building adapter: %v", err)
	}
	adapter.BaseURL = server.URL
	return adapter
}

func TestTikiGetIssues(t *testing.T) {
	var gotPath string
	adapter := newTestTikiAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []map[string]any{
				{
					"itemId": 12,
					"status": "c",
					"fields": map[string]any{
						"taskSummary":     "done task",
						"taskDescription": "details ~tc~ ori: ori://gh/3 ~/tc~",
					},
				},
			},
		})
	}))

	items, err := adapter.GetItems(context.Background(), TypeIssue, nil)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if gotPath != "/api/trackers/4/items" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(items))
	}
	item := items[0]
	if item.LocalIdentifier != "12" {
		t.Fatalf("unexpected local id %q", item.LocalIdentifier)
	}
	if item.Fields["title"] != "done task" || item.Fields["completed"] != true {
		t.Fatalf("field translation wrong: %v", item.Fields)
	}
	if item.HintedIdentifier != "ori://gh/3" {
		t.Fatalf("hint not recovered: %q", item.HintedIdentifier)
	}
	if item.Fields["body"] != "details" {
		t.Fatalf("hint not stripped: %q", item.Fields["body"])
	}
	if item.MintedIdentifier != "https://tracker.example.org/item12" {
		t.Fatalf("unexpected minted identifier %q", item.MintedIdentifier)
	}
}

func TestTikiGetComments(t *testing.T) {
	adapter := newTestTikiAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("objectId") != "12" {
			t.Errorf("missing objectId filter: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"comments": []map[string]any{
				{"object": "12", "data": "a note", "message_id": "m-77"},
			},
		})
	}))

	items, err := adapter.GetItems(context.Background(), TypeComment, &ItemFilter{Issue: "12"})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 comment, got %d", len(items))
	}
	if items[0].LocalIdentifier != "m-77" || items[0].LocalReferences["issue"] != "12" {
		t.Fatalf("comment translation wrong: %+v", items[0])
	}
	if items[0].MintedIdentifier != "https://tracker.example.org/commentm-77" {
		t.Fatalf("unexpected minted identifier %q", items[0].MintedIdentifier)
	}
}

func TestTikiCreateItemFormEncoding(t *testing.T) {
	adapter := newTestTikiAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("bad form: %v", err)
		}
		if r.PostForm.Get("ins_27") != "summary" || r.PostForm.Get("status") != "o" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"itemId": 31})
	}))

	local, err := adapter.CreateItem(context.Background(), Item{
		Type:       TypeIssue,
		Identifier: "ori://gh/3",
		Fields:     map[string]any{"title": "summary", "body": "desc"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if local != "31" {
		t.Fatalf("unexpected local id %q", local)
	}
}

func TestTikiCreateCommentRequiresThreadID(t *testing.T) {
	adapter := newTestTikiAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))

	_, err := adapter.CreateItem(context.Background(), Item{
		Type:       TypeComment,
		Identifier: "ori://gh/c1",
		Fields:     map[string]any{"body": "note"},
		References: map[string]string{"issue": "12"},
	})
	if err == nil {
		t.Fatalf("missing threadId must fail the create")
	}
}

func TestTikiParseWebhookData(t *testing.T) {
	adapter := newTestTikiAdapter(t, http.NotFoundHandler())

	created := []byte(`{"event":"tracker.item.created","item":{"itemId":12,"status":"o","fields":{"taskSummary":"t"}}}`)
	event, err := adapter.ParseWebhookData(created, nil)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if event.Type != EventCreated || event.Item.LocalIdentifier != "12" {
		t.Fatalf("unexpected event %+v", event)
	}

	comment := []byte(`{"event":"tracker.comment.deleted","comment":{"object":"12","data":"x","message_id":"m-1"}}`)
	event, _ = adapter.ParseWebhookData(comment, nil)
	if event.Type != EventDeleted || event.Item.Type != TypeComment {
		t.Fatalf("unexpected event %+v", event)
	}

	unknown := []byte(`{"event":"user.login"}`)
	event, _ = adapter.ParseWebhookData(unknown, nil)
	if event.Type != EventIgnored {
		t.Fatalf("unhandled event must be ignored, got %s", event.Type)
	}
}

func TestTikiHintSurvivesMarkup(t *testing.T) {
	adapter := newTestTikiAdapter(t, http.NotFoundHandler())

	embedded := adapter.EmbedOriHint("wiki __bold__ text", "ori://gh/3")
	if hint := adapter.OriHint(embedded); hint != "ori://gh/3" {
		t.Fatalf("embedded hint not recoverable: %q", hint)
	}
}
