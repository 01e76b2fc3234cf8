package oribridge

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrIntegrity      = errors.New("identity mapping integrity violation")
	ErrNoIdentifier   = errors.New("no canonical identifier could be established")
	ErrOrdering       = errors.New("dependency ordering failure")
	ErrUnknownBackend = errors.New("unknown backend type")
	ErrNotImplemented = errors.New("not implemented")
)

type IntegrityError struct {
	MapName  string
	Local    string
	Hinted   string
	Original string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation in %s: local=%q hinted=%q original=%q",
		e.MapName, e.Local, e.Hinted, e.Original)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

type ItemType string

const (
	TypeIssue   ItemType = "issue"
	TypeComment ItemType = "comment"
)

// Item is the canonical, backend-agnostic representation of a tracked
// object. Identifier is the cross-backend stable identity (an ORI),
// chosen once and never reassigned. References hold foreign keys in
// canonical identifiers, e.g. a comment's parent issue.
type Item struct {
	Type       ItemType          `json:"type"`
	Identifier string            `json:"identifier"`
	Fields     map[string]any    `json:"fields"`
	References map[string]string `json:"references,omitempty"`
	Deleted    bool              `json:"deleted"`
}

// FetchedItem is the backend-local shape an adapter produces before
// reconciliation. LocalIdentifier is the backend-native id.
// HintedIdentifier is an ORI recovered from the item's own content;
// MintedIdentifier is the ORI the adapter would deterministically
// construct if no identity exists yet. Either may be empty, not both
// for a conforming adapter.
type FetchedItem struct {
	Type             ItemType          `json:"type"`
	LocalIdentifier  string            `json:"localIdentifier"`
	Fields           map[string]any    `json:"fields"`
	LocalReferences  map[string]string `json:"localReferences,omitempty"`
	HintedIdentifier string            `json:"hintedIdentifier,omitempty"`
	MintedIdentifier string            `json:"mintedIdentifier,omitempty"`
}

func (i Item) Validate() error {
	if i.Type == "" {
		return fmt.Errorf("%w: item has no type", ErrInvalidInput)
	}
	if i.Identifier == "" {
		return fmt.Errorf("%w: item of type %s has no identifier", ErrInvalidInput, i.Type)
	}
	return nil
}

// Body returns the free-text content of an item, the place adapters
// embed and recover identity hints.
func (i Item) Body() string {
	body, _ := i.Fields["body"].(string)
	return body
}

func (f FetchedItem) Validate() error {
	if f.Type == "" {
		return fmt.Errorf("%w: fetched item has no type", ErrInvalidInput)
	}
	if f.LocalIdentifier == "" {
		return fmt.Errorf("%w: fetched item of type %s has no local identifier", ErrInvalidInput, f.Type)
	}
	if f.Type == TypeComment && f.LocalReferences["issue"] == "" {
		return fmt.Errorf("%w: comment %s has no issue reference", ErrInvalidInput, f.LocalIdentifier)
	}
	return nil
}

func copyFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func copyReferences(refs map[string]string) map[string]string {
	if len(refs) == 0 {
		return nil
	}
	out := make(map[string]string, len(refs))
	for k, v := range refs {
		out[k] = v
	}
	return out
}
