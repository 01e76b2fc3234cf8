package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oribridge/oribridge/internal/oribridge"
)

// webhookAck is the fixed body every acknowledged webhook delivery
// receives. Providers only look at the 200; the body is a diagnostic
// nicety.
const webhookAck = `{ "happy": true }`

type ServerConfig struct {
	MaxBodyBytes  int64
	FanoutTimeout time.Duration
}

// BridgeEntry pairs a bridge with the shared secret (if any) used to
// verify inbound webhook signatures for that backend.
type BridgeEntry struct {
	Bridge        *oribridge.Bridge
	WebhookSecret string
}

// Server is the single HTTP listener shared by every configured
// backend. Webhook deliveries arrive on POST /<backendType>/<backendName>/...
// and are routed to the matching bridge, then fanned out to its peers.
type Server struct {
	store *oribridge.DataStore
	cfg   ServerConfig
	hub   *eventHub

	mu      sync.RWMutex
	entries []BridgeEntry
}

func NewServer(store *oribridge.DataStore) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store *oribridge.DataStore, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.FanoutTimeout <= 0 {
		cfg.FanoutTimeout = 60 * time.Second
	}
	return &Server{
		store: store,
		cfg:   cfg,
		hub:   newEventHub(),
	}
}

// SetBridges swaps the full bridge set. Called at startup and again
// whenever the config file is reloaded; in-flight requests keep the
// snapshot they grabbed at routing time. Replaced bridges are closed
// so their state backends release pooled connections.
func (s *Server) SetBridges(entries []BridgeEntry) {
	s.mu.Lock()
	replaced := s.entries
	s.entries = append([]BridgeEntry(nil), entries...)
	s.mu.Unlock()

	for _, entry := range replaced {
		if err := entry.Bridge.Close(); err != nil {
			log.Printf("closing replaced bridge %s/%s: %v", entry.Bridge.Type(), entry.Bridge.Name(), err)
		}
	}
}

func (s *Server) Bridges() []BridgeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]BridgeEntry(nil), s.entries...)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/status" && r.Method == http.MethodGet {
		s.handleStatus(w, r)
		return
	}
	if r.URL.Path == "/dashboard" && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}
	if r.URL.Path == "/events" && r.Method == http.MethodGet {
		s.handleEvents(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if r.Method == http.MethodPost && len(parts) >= 2 && parts[0] != "" && parts[1] != "" {
		s.handleWebhook(w, r, parts)
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "route not found")
}

// handleWebhook is deliberately forgiving: apart from oversized bodies
// and signature mismatches, every delivery gets a 200 so providers
// never disable the hook over a transient problem on our side.
// Failures are logged instead.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, parts []string) {
	backendType := parts[0]
	backendName := parts[1]
	tail := parts[2:]

	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}

	if !json.Valid(body) {
		log.Printf("webhook %s/%s: discarding non-JSON payload (%d bytes)", backendType, backendName, len(body))
		s.ack(w)
		return
	}

	entry, found := s.lookupBridge(backendType, backendName)
	if !found {
		log.Printf("webhook %s/%s: no bridge configured for this backend", backendType, backendName)
		s.ack(w)
		return
	}

	if entry.WebhookSecret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if signature == "" {
			signature = r.Header.Get("X-Webhook-Signature")
		}
		if authErr := verifyWebhookSignature(entry.WebhookSecret, signature, body); authErr != nil {
			log.Printf("webhook %s/%s: %s", backendType, backendName, authErr.message)
			writeError(w, authErr.status, authErr.code, authErr.message)
			return
		}
	}

	// Fan-out runs on its own context: the provider may hang up as
	// soon as it sees the response headers, and that must not cancel
	// pushes already under way.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FanoutTimeout)
	defer cancel()

	event, item, err := entry.Bridge.ProcessWebhook(ctx, body, tail)
	if err != nil {
		log.Printf("webhook %s/%s: %v", backendType, backendName, err)
		s.ack(w)
		return
	}
	if event == oribridge.EventIgnored {
		s.ack(w)
		return
	}

	s.fanOut(ctx, entry.Bridge, event, item)
	s.hub.publish(Event{
		Kind:       string(event),
		ItemType:   string(item.Type),
		Identifier: item.Identifier,
		Origin:     entry.Bridge.Name(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
	s.persist(entry.Bridge)
	s.ack(w)
}

// fanOut propagates a change to every bridge except the one it
// arrived on, and waits for all of them before the caller
// acknowledges the delivery.
func (s *Server) fanOut(ctx context.Context, origin *oribridge.Bridge, event oribridge.EventType, item oribridge.Item) {
	entries := s.Bridges()
	var wg sync.WaitGroup
	for _, entry := range entries {
		if entry.Bridge == origin {
			continue
		}
		wg.Add(1)
		go func(peer *oribridge.Bridge) {
			defer wg.Done()
			var err error
			switch event {
			case oribridge.EventCreated:
				err = peer.PushItem(ctx, item)
			case oribridge.EventUpdated:
				err = peer.PushUpdate(ctx, item)
			case oribridge.EventDeleted:
				err = peer.PushDelete(ctx, item)
			}
			if err != nil {
				log.Printf("fan-out %s %s to %s/%s failed: %v", event, item.Identifier, peer.Type(), peer.Name(), err)
			}
		}(entry.Bridge)
	}
	wg.Wait()
}

// persist writes every bridge's identifier maps and the shared item
// store after a webhook cycle. Best effort: a failed save is logged
// and the delivery is still acknowledged.
func (s *Server) persist(origin *oribridge.Bridge) {
	for _, entry := range s.Bridges() {
		if err := entry.Bridge.Save(); err != nil {
			log.Printf("saving maps for %s/%s: %v", entry.Bridge.Type(), entry.Bridge.Name(), err)
		}
	}
	if err := origin.Store().Save(); err != nil {
		log.Printf("saving item store: %v", err)
	}
}

func (s *Server) lookupBridge(backendType, backendName string) (BridgeEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.entries {
		if entry.Bridge.Type() == backendType && entry.Bridge.Name() == backendName {
			return entry, true
		}
	}
	return BridgeEntry{}, false
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type bridgeStatus struct {
		Type     string `json:"type"`
		Name     string `json:"name"`
		Issues   int    `json:"issues"`
		Comments int    `json:"comments"`
	}
	entries := s.Bridges()
	bridges := make([]bridgeStatus, 0, len(entries))
	for _, entry := range entries {
		bridges = append(bridges, bridgeStatus{
			Type:     entry.Bridge.Type(),
			Name:     entry.Bridge.Name(),
			Issues:   entry.Bridge.Map(oribridge.TypeIssue).Len(),
			Comments: entry.Bridge.Map(oribridge.TypeComment).Len(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bridges":  bridges,
		"issues":   len(s.store.GetAllItemsOfType(oribridge.TypeIssue)),
		"comments": len(s.store.GetAllItemsOfType(oribridge.TypeComment)),
	})
}

func (s *Server) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, webhookAck+"\n")
}

// readRequestBody caps the body at MaxBodyBytes. An oversized body
// aborts the connection outright instead of returning a status, so
// the sender sees a transport error rather than a misleading ack.
func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			log.Printf("webhook %s: body over %d byte limit, dropping connection", r.URL.Path, s.cfg.MaxBodyBytes)
			panic(http.ErrAbortHandler)
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
