package oribridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	githubDefaultBaseURL = "https://api.github.com"
	githubAPIVersion     = "2022-11-28"
	githubAccept         = "application/vnd.github+json"

	githubHintOpen  = "<!-- ori: "
	githubHintClose = " -->"
)

// GitHubAdapter speaks the GitHub issues REST API for one repository.
type GitHubAdapter struct {
	name        string
	repo        string
	tokens      map[string]string
	defaultUser string

	// BaseURL is overridable for tests.
	BaseURL string
	client  *http.Client
}

func NewGitHubAdapter(spec BackendSpec) (*GitHubAdapter, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("%w: github backend needs a name", ErrInvalidInput)
	}
	if strings.TrimSpace(spec.Repo) == "" {
		return nil, fmt.Errorf("%w: github backend %q needs a repo", ErrInvalidInput, spec.Name)
	}
	return &GitHubAdapter{
		name:        spec.Name,
		repo:        spec.Repo,
		tokens:      spec.Tokens,
		defaultUser: spec.DefaultUser,
		BaseURL:     githubDefaultBaseURL,
		client:      &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (a *GitHubAdapter) Type() string { return "github" }
func (a *GitHubAdapter) Name() string { return a.name }

func (a *GitHubAdapter) apiCall(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", githubAccept)
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	if a.defaultUser != "" {
		token, ok := a.tokens[a.defaultUser]
		if !ok {
			return fmt.Errorf("%w: no token for github user %q", ErrInvalidInput, a.defaultUser)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
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
		return fmt.Errorf("github %s %s: status %d: %s", method, url, resp.StatusCode, truncate(string(data), 200))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (a *GitHubAdapter) issuesURL() string {
	return fmt.Sprintf("%s/repos/%s/issues", a.BaseURL, a.repo)
}

func (a *GitHubAdapter) commentsURL(issueLocalID string) string {
	return fmt.Sprintf("%s/repos/%s/issues/%s/comments", a.BaseURL, a.repo, issueLocalID)
}

func (a *GitHubAdapter) commentURL(commentLocalID string) string {
	return fmt.Sprintf("%s/repos/%s/issues/comments/%s", a.BaseURL, a.repo, commentLocalID)
}

type githubIssue struct {
	Number int64  `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
}

type githubComment struct {
	ID       int64  `json:"id"`
	Body     string `json:"body"`
	IssueURL string `json:"issue_url"`
}

func (a *GitHubAdapter) GetItems(ctx context.Context, itemType ItemType, filter *ItemFilter) ([]FetchedItem, error) {
	switch itemType {
	case TypeIssue:
		var issues []githubIssue
		if err := a.apiCall(ctx, http.MethodGet, a.issuesURL()+"?state=all", nil, &issues); err != nil {
			return nil, err
		}
		items := make([]FetchedItem, 0, len(issues))
		for _, issue := range issues {
			items = append(items, a.translateIssue(issue))
		}
		return items, nil
	case TypeComment:
		if filter == nil || filter.Issue == "" {
			return nil, fmt.Errorf("%w: comment fetch needs an issue filter", ErrInvalidInput)
		}
		var comments []githubComment
		if err := a.apiCall(ctx, http.MethodGet, a.commentsURL(filter.Issue), nil, &comments); err != nil {
			return nil, err
		}
		items := make([]FetchedItem, 0, len(comments))
		for _, comment := range comments {
			items = append(items, a.translateComment(comment))
		}
		return items, nil
	default:
		return nil, fmt.Errorf("%w: github cannot fetch items of type %s", ErrInvalidInput, itemType)
	}
}

func (a *GitHubAdapter) translateIssue(issue githubIssue) FetchedItem {
	localID := strconv.FormatInt(issue.Number, 10)
	return FetchedItem{
		Type:            TypeIssue,
		LocalIdentifier: localID,
		Fields: map[string]any{
			"title":     issue.Title,
			"body":      stripHint(issue.Body, githubHintOpen, githubHintClose),
			"completed": issue.State == "closed",
		},
		HintedIdentifier: extractHint(issue.Body, githubHintOpen, githubHintClose),
		MintedIdentifier: a.MintIdentifier(TypeIssue, localID),
	}
}

func (a *GitHubAdapter) translateComment(comment githubComment) FetchedItem {
	localID := strconv.FormatInt(comment.ID, 10)
	issueLocal := comment.IssueURL
	if idx := strings.LastIndex(issueLocal, "/"); idx >= 0 {
		issueLocal = issueLocal[idx+1:]
	}
	return FetchedItem{
		Type:            TypeComment,
		LocalIdentifier: localID,
		Fields: map[string]any{
			"body": stripHint(comment.Body, githubHintOpen, githubHintClose),
		},
		LocalReferences:  map[string]string{"issue": issueLocal},
		HintedIdentifier: extractHint(comment.Body, githubHintOpen, githubHintClose),
		MintedIdentifier: a.MintIdentifier(TypeComment, localID),
	}
}

func (a *GitHubAdapter) CreateItem(ctx context.Context, item Item) (string, error) {
	switch item.Type {
	case TypeIssue:
		var created githubIssue
		payload := map[string]any{
			"title": toString(item.Fields["title"]),
			"body":  toString(item.Fields["body"]),
		}
		if err := a.apiCall(ctx, http.MethodPost, a.issuesURL(), payload, &created); err != nil {
			return "", err
		}
		return strconv.FormatInt(created.Number, 10), nil
	case TypeComment:
		issueLocal := item.References["issue"]
		if issueLocal == "" {
			return "", fmt.Errorf("%w: comment for github has no local issue reference", ErrInvalidInput)
		}
		var created githubComment
		payload := map[string]any{"body": toString(item.Fields["body"])}
		if err := a.apiCall(ctx, http.MethodPost, a.commentsURL(issueLocal), payload, &created); err != nil {
			return "", err
		}
		return strconv.FormatInt(created.ID, 10), nil
	default:
		return "", fmt.Errorf("%w: github cannot create items of type %s", ErrInvalidInput, item.Type)
	}
}

func (a *GitHubAdapter) UpdateItem(ctx context.Context, itemType ItemType, localID string, fields map[string]any, references map[string]string) error {
	switch itemType {
	case TypeIssue:
		payload := map[string]any{
			"title": toString(fields["title"]),
			"body":  toString(fields["body"]),
			"state": "open",
		}
		if toBool(fields["completed"]) {
			payload["state"] = "closed"
		}
		return a.apiCall(ctx, http.MethodPatch, a.issuesURL()+"/"+localID, payload, nil)
	case TypeComment:
		payload := map[string]any{"body": toString(fields["body"])}
		return a.apiCall(ctx, http.MethodPatch, a.commentURL(localID), payload, nil)
	default:
		return fmt.Errorf("%w: github cannot update items of type %s", ErrInvalidInput, itemType)
	}
}

func (a *GitHubAdapter) DeleteItem(ctx context.Context, itemType ItemType, localID string) error {
	switch itemType {
	case TypeIssue:
		// the REST API cannot delete an issue; closing is the nearest tombstone
		return a.apiCall(ctx, http.MethodPatch, a.issuesURL()+"/"+localID, map[string]any{"state": "closed"}, nil)
	case TypeComment:
		return a.apiCall(ctx, http.MethodDelete, a.commentURL(localID), nil, nil)
	default:
		return fmt.Errorf("%w: github cannot delete items of type %s", ErrInvalidInput, itemType)
	}
}

func (a *GitHubAdapter) ParseWebhookData(payload []byte, urlPathTail []string) (WebhookEvent, error) {
	var envelope struct {
		Action  string         `json:"action"`
		Issue   *githubIssue   `json:"issue"`
		Comment *githubComment `json:"comment"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return WebhookEvent{}, fmt.Errorf("github webhook: %w", err)
	}
	if envelope.Comment != nil {
		item := a.translateComment(*envelope.Comment)
		if envelope.Issue != nil {
			item.LocalReferences = map[string]string{"issue": strconv.FormatInt(envelope.Issue.Number, 10)}
		}
		switch envelope.Action {
		case "created":
			return WebhookEvent{Type: EventCreated, Item: item}, nil
		case "edited":
			return WebhookEvent{Type: EventUpdated, Item: item}, nil
		case "deleted":
			return WebhookEvent{Type: EventDeleted, Item: item}, nil
		default:
			return WebhookEvent{Type: EventIgnored}, nil
		}
	}
	if envelope.Issue != nil {
		item := a.translateIssue(*envelope.Issue)
		switch envelope.Action {
		case "opened":
			return WebhookEvent{Type: EventCreated, Item: item}, nil
		case "edited", "closed", "reopened":
			return WebhookEvent{Type: EventUpdated, Item: item}, nil
		case "deleted":
			return WebhookEvent{Type: EventDeleted, Item: item}, nil
		default:
			return WebhookEvent{Type: EventIgnored}, nil
		}
	}
	return WebhookEvent{Type: EventIgnored}, nil
}

func (a *GitHubAdapter) OriHint(contentBody string) string {
	return extractHint(contentBody, githubHintOpen, githubHintClose)
}

func (a *GitHubAdapter) EmbedOriHint(contentBody, original string) string {
	return embedHint(contentBody, original, githubHintOpen, githubHintClose)
}

func (a *GitHubAdapter) MintIdentifier(itemType ItemType, localID string) string {
	switch itemType {
	case TypeComment:
		return fmt.Sprintf("%s/repos/%s/issues/comments/%s", githubDefaultBaseURL, a.repo, localID)
	default:
		return fmt.Sprintf("%s/repos/%s/issues/%s", githubDefaultBaseURL, a.repo, localID)
	}
}

func extractHint(body, open, closing string) string {
	start := strings.Index(body, open)
	if start < 0 {
		return ""
	}
	rest := body[start+len(open):]
	end := strings.Index(rest, closing)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

func stripHint(body, open, closing string) string {
	start := strings.Index(body, open)
	if start < 0 {
		return body
	}
	rest := body[start+len(open):]
	end := strings.Index(rest, closing)
	if end < 0 {
		return body
	}
	return strings.TrimRight(body[:start], "\n") + rest[end+len(closing):]
}

func embedHint(body, original, open, closing string) string {
	if original == "" || strings.Contains(body, open) {
		return body
	}
	if body == "" {
		return open + original + closing
	}
	return body + "\n\n" + open + original + closing
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
