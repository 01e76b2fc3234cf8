package oribridge

import (
	"context"
	"fmt"
	"strings"
)

type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
	EventIgnored EventType = "ignored"
)

// WebhookEvent is the canonical result of parsing one backend-native
// webhook payload.
type WebhookEvent struct {
	Type EventType
	Item FetchedItem
}

// ItemFilter narrows a bulk fetch to the children of one parent item,
// expressed in the backend's local identifier.
type ItemFilter struct {
	Issue string
}

// Adapter is the fixed capability contract every backend integration
// implements. Adapters translate vendor payloads to canonical shapes
// and perform the wire calls; they hold no replication state.
//
// UpdateItem and DeleteItem address the backend's own copy, so they
// take the backend-local identifier; the bridge resolves canonical ids
// before calling.
type Adapter interface {
	// Type is the stable backend-kind tag ("github", "tiki"), Name the
	// instance tag; both are webhook routing keys.
	Type() string
	Name() string

	GetItems(ctx context.Context, itemType ItemType, filter *ItemFilter) ([]FetchedItem, error)
	CreateItem(ctx context.Context, item Item) (string, error)
	UpdateItem(ctx context.Context, itemType ItemType, localID string, fields map[string]any, references map[string]string) error
	DeleteItem(ctx context.Context, itemType ItemType, localID string) error

	ParseWebhookData(payload []byte, urlPathTail []string) (WebhookEvent, error)

	// OriHint recovers a canonical identifier embedded in free-text
	// content by a previous push; empty when none is present.
	// EmbedOriHint returns the content with the marker added so future
	// fetches of the created copy self-describe their identity.
	OriHint(contentBody string) string
	EmbedOriHint(contentBody, original string) string

	// MintIdentifier deterministically derives a canonical identifier
	// for a locally originated item that has none yet.
	MintIdentifier(itemType ItemType, localID string) string
}

// BackendSpec is one entry of the bridge connection config file.
type BackendSpec struct {
	Type          string            `json:"type"`
	Name          string            `json:"name"`
	Tokens        map[string]string `json:"tokens,omitempty"`
	DefaultUser   string            `json:"defaultUser,omitempty"`
	Repo          string            `json:"repo,omitempty"`
	Server        string            `json:"server,omitempty"`
	TrackerID     string            `json:"trackerId,omitempty"`
	WebhookSecret string            `json:"webhookSecret,omitempty"`
}

// NewAdapter selects the concrete adapter for a backend spec.
func NewAdapter(spec BackendSpec) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Type)) {
	case "github":
		return NewGitHubAdapter(spec)
	case "tiki":
		return NewTikiAdapter(spec)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, spec.Type)
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toNumber(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
