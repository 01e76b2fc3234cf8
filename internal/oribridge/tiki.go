package oribridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Tiki tracker-comment markers survive the wiki renderer without being
// displayed, which makes them usable as identity hints.
const (
	tikiHintOpen  = "~tc~ ori: "
	tikiHintClose = " ~/tc~"
)

// TikiAdapter speaks the Tiki wiki tracker API for one tracker.
type TikiAdapter struct {
	name        string
	server      string
	trackerID   string
	tokens      map[string]string
	defaultUser string

	// BaseURL is overridable for tests; defaults to https://<server>.
	BaseURL string
	client  *http.Client
}

func NewTikiAdapter(spec BackendSpec) (*TikiAdapter, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("%w: tiki backend needs a name", ErrInvalidInput)
	}
	if strings.TrimSpace(spec.Server) == "" || strings.TrimSpace(spec.TrackerID) == "" {
		return nil, fmt.Errorf("%w: tiki backend %q needs a server and trackerId", ErrInvalidInput, spec.Name)
	}
	return &TikiAdapter{
		name:        spec.Name,
		server:      spec.Server,
		trackerID:   spec.TrackerID,
		tokens:      spec.Tokens,
		defaultUser: spec.DefaultUser,
		BaseURL:     "https://" + spec.Server,
		client:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (a *TikiAdapter) Type() string { return "tiki" }
func (a *TikiAdapter) Name() string { return a.name }

func (a *TikiAdapter) apiCall(ctx context.Context, method, callURL string, form url.Values, out any) error {
	var reader io.Reader
	if form != nil {
		reader = bytes.NewReader([]byte(form.Encode()))
	}
	req, err := http.NewRequestWithContext(ctx, method, callURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if a.defaultUser != "" {
		token, ok := a.tokens[a.defaultUser]
		if !ok {
			return fmt.Errorf("%w: no token for tiki user %q", ErrInvalidInput, a.defaultUser)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tiki %s %s: status %d: %s", method, callURL, resp.StatusCode, truncate(string(data), 200))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

type tikiItem struct {
	ItemID int64  `json:"itemId"`
	Status string `json:"status"`
	Fields struct {
		TaskSummary     string `json:"taskSummary"`
		TaskDescription string `json:"taskDescription"`
	} `json:"fields"`
}

type tikiComment struct {
	Object    string `json:"object"`
	Data      string `json:"data"`
	MessageID string `json:"message_id"`
}

func (a *TikiAdapter) GetItems(ctx context.Context, itemType ItemType, filter *ItemFilter) ([]FetchedItem, error) {
	switch itemType {
	case TypeIssue:
		var response struct {
			Result []tikiItem `json:"result"`
		}
		callURL := fmt.Sprintf("%s/api/trackers/%s/items", a.BaseURL, a.trackerID)
		if err := a.apiCall(ctx, http.MethodGet, callURL, nil, &response); err != nil {
			return nil, err
		}
		items := make([]FetchedItem, 0, len(response.Result))
		for _, item := range response.Result {
			items = append(items, a.translateIssue(item))
		}
		return items, nil
	case TypeComment:
		if filter == nil || filter.Issue == "" {
			return nil, fmt.Errorf("%w: comment fetch needs an issue filter", ErrInvalidInput)
		}
		var response struct {
			Comments []tikiComment `json:"comments"`
		}
		callURL := fmt.Sprintf("%s/api/comments?type=trackeritem&objectId=%s", a.BaseURL, url.QueryEscape(filter.Issue))
		if err := a.apiCall(ctx, http.MethodGet, callURL, nil, &response); err != nil {
			return nil, err
		}
		items := make([]FetchedItem, 0, len(response.Comments))
		for _, comment := range response.Comments {
			items = append(items, a.translateComment(comment))
		}
		return items, nil
	default:
		return nil, fmt.Errorf("%w: tiki cannot fetch items of type %s", ErrInvalidInput, itemType)
	}
}

func (a *TikiAdapter) translateIssue(item tikiItem) FetchedItem {
	localID := strconv.FormatInt(item.ItemID, 10)
	return FetchedItem{
		Type:            TypeIssue,
		LocalIdentifier: localID,
		Fields: map[string]any{
			"title":     item.Fields.TaskSummary,
			"body":      stripHint(item.Fields.TaskDescription, tikiHintOpen, tikiHintClose),
			"completed": item.Status == "c",
		},
		HintedIdentifier: extractHint(item.Fields.TaskDescription, tikiHintOpen, tikiHintClose),
		MintedIdentifier: a.MintIdentifier(TypeIssue, localID),
	}
}

func (a *TikiAdapter) translateComment(comment tikiComment) FetchedItem {
	return FetchedItem{
		Type:            TypeComment,
		LocalIdentifier: comment.MessageID,
		Fields: map[string]any{
			"body": stripHint(comment.Data, tikiHintOpen, tikiHintClose),
		},
		LocalReferences:  map[string]string{"issue": comment.Object},
		HintedIdentifier: extractHint(comment.Data, tikiHintOpen, tikiHintClose),
		MintedIdentifier: a.MintIdentifier(TypeComment, comment.MessageID),
	}
}

func (a *TikiAdapter) CreateItem(ctx context.Context, item Item) (string, error) {
	switch item.Type {
	case TypeIssue:
		form := url.Values{}
		form.Set("status", "o")
		form.Set("syntax", "tiki")
		form.Set("trackerId", a.trackerID)
		form.Set("ins_27", toString(item.Fields["title"]))
		form.Set("ins_31", toString(item.Fields["body"]))
		var response struct {
			ItemID int64 `json:"itemId"`
		}
		callURL := fmt.Sprintf("%s/api/trackers/%s/items", a.BaseURL, a.trackerID)
		if err := a.apiCall(ctx, http.MethodPost, callURL, form, &response); err != nil {
			return "", err
		}
		return strconv.FormatInt(response.ItemID, 10), nil
	case TypeComment:
		issueLocal := item.References["issue"]
		if issueLocal == "" {
			return "", fmt.Errorf("%w: comment for tiki has no local issue reference", ErrInvalidInput)
		}
		form := url.Values{}
		form.Set("type", "trackeritem")
		form.Set("objectId", issueLocal)
		form.Set("post", "1")
		form.Set("syntax", "tiki")
		form.Set("data", toString(item.Fields["body"]))
		var response struct {
			ThreadID string `json:"threadId"`
		}
		callURL := a.BaseURL + "/api/comments"
		if err := a.apiCall(ctx, http.MethodPost, callURL, form, &response); err != nil {
			return "", err
		}
		if response.ThreadID == "" {
			return "", fmt.Errorf("tiki comment create returned no threadId")
		}
		return response.ThreadID, nil
	default:
		return "", fmt.Errorf("%w: tiki cannot create items of type %s", ErrInvalidInput, item.Type)
	}
}

func (a *TikiAdapter) UpdateItem(ctx context.Context, itemType ItemType, localID string, fields map[string]any, references map[string]string) error {
	switch itemType {
	case TypeIssue:
		form := url.Values{}
		form.Set("syntax", "tiki")
		form.Set("ins_27", toString(fields["title"]))
		form.Set("ins_31", toString(fields["body"]))
		if toBool(fields["completed"]) {
			form.Set("status", "c")
		} else {
			form.Set("status", "o")
		}
		callURL := fmt.Sprintf("%s/api/trackers/%s/items/%s", a.BaseURL, a.trackerID, url.PathEscape(localID))
		return a.apiCall(ctx, http.MethodPost, callURL, form, nil)
	case TypeComment:
		form := url.Values{}
		form.Set("post", "1")
		form.Set("syntax", "tiki")
		form.Set("data", toString(fields["body"]))
		callURL := fmt.Sprintf("%s/api/comments/%s", a.BaseURL, url.PathEscape(localID))
		return a.apiCall(ctx, http.MethodPost, callURL, form, nil)
	default:
		return fmt.Errorf("%w: tiki cannot update items of type %s", ErrInvalidInput, itemType)
	}
}

func (a *TikiAdapter) DeleteItem(ctx context.Context, itemType ItemType, localID string) error {
	switch itemType {
	case TypeIssue:
		callURL := fmt.Sprintf("%s/api/trackers/%s/items/%s", a.BaseURL, a.trackerID, url.PathEscape(localID))
		return a.apiCall(ctx, http.MethodDelete, callURL, nil, nil)
	case TypeComment:
		callURL := fmt.Sprintf("%s/api/comments/%s", a.BaseURL, url.PathEscape(localID))
		return a.apiCall(ctx, http.MethodDelete, callURL, nil, nil)
	default:
		return fmt.Errorf("%w: tiki cannot delete items of type %s", ErrInvalidInput, itemType)
	}
}

// ParseWebhookData understands the payload shape Tiki's tracker
// webhook plugin posts: {"event": "...", "item": {...}} or
// {"event": "...", "comment": {...}}.
func (a *TikiAdapter) ParseWebhookData(payload []byte, urlPathTail []string) (WebhookEvent, error) {
	var envelope struct {
		Event   string       `json:"event"`
		Item    *tikiItem    `json:"item"`
		Comment *tikiComment `json:"comment"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return WebhookEvent{}, fmt.Errorf("tiki webhook: %w", err)
	}
	if envelope.Comment != nil {
		item := a.translateComment(*envelope.Comment)
		switch envelope.Event {
		case "tracker.comment.created":
			return WebhookEvent{Type: EventCreated, Item: item}, nil
		case "tracker.comment.updated":
			return WebhookEvent{Type: EventUpdated, Item: item}, nil
		case "tracker.comment.deleted":
			return WebhookEvent{Type: EventDeleted, Item: item}, nil
		default:
			return WebhookEvent{Type: EventIgnored}, nil
		}
	}
	if envelope.Item != nil {
		item := a.translateIssue(*envelope.Item)
		switch envelope.Event {
		case "tracker.item.created":
			return WebhookEvent{Type: EventCreated, Item: item}, nil
		case "tracker.item.updated":
			return WebhookEvent{Type: EventUpdated, Item: item}, nil
		case "tracker.item.deleted":
			return WebhookEvent{Type: EventDeleted, Item: item}, nil
		default:
			return WebhookEvent{Type: EventIgnored}, nil
		}
	}
	return WebhookEvent{Type: EventIgnored}, nil
}

func (a *TikiAdapter) OriHint(contentBody string) string {
	return extractHint(contentBody, tikiHintOpen, tikiHintClose)
}

func (a *TikiAdapter) EmbedOriHint(contentBody, original string) string {
	return embedHint(contentBody, original, tikiHintOpen, tikiHintClose)
}

func (a *TikiAdapter) MintIdentifier(itemType ItemType, localID string) string {
	switch itemType {
	case TypeComment:
		return fmt.Sprintf("https://%s/comment%s", a.server, localID)
	default:
		return fmt.Sprintf("https://%s/item%s", a.server, localID)
	}
}
