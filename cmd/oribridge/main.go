package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oribridge/oribridge/internal/config"
	"github.com/oribridge/oribridge/internal/httpapi"
	"github.com/oribridge/oribridge/internal/oribridge"
)

func main() {
	addr := os.Getenv("ORIBRIDGE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	configPath := os.Getenv("ORIBRIDGE_CONFIG")
	if configPath == "" {
		configPath = "backends.json"
	}
	stateDSN := strings.TrimSpace(os.Getenv("ORIBRIDGE_STATE_DSN"))
	if stateDSN == "" {
		stateDSN = "file://.oribridge"
	}

	specs, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if len(specs) == 0 {
		log.Fatalf("config %s declares no backends", configPath)
	}

	storeBackend, err := oribridge.BuildStateBackendFromDSN(stateDSN, "items")
	if err != nil {
		log.Fatalf("failed to initialize item store backend: %v", err)
	}
	store := oribridge.NewDataStore(storeBackend)
	if err := store.Load(); err != nil {
		log.Fatalf("failed to load item store: %v", err)
	}

	entries, err := buildBridges(specs, store, stateDSN)
	if err != nil {
		log.Fatalf("failed to build bridges: %v", err)
	}

	server := httpapi.NewServerWithConfig(store, httpapi.ServerConfig{
		MaxBodyBytes:  int64Env("ORIBRIDGE_MAX_BODY_BYTES", 0),
		FanoutTimeout: durationEnv("ORIBRIDGE_FANOUT_TIMEOUT", 0),
	})
	server.SetBridges(entries)

	if !boolEnv("ORIBRIDGE_SKIP_INITIAL_SYNC", false) {
		initialSync(entries, store)
	}

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		log.Printf("config watching disabled: %v", err)
	} else {
		go watcher.Run(func(specs []oribridge.BackendSpec) {
			entries, err := buildBridges(specs, store, stateDSN)
			if err != nil {
				log.Printf("config reload rejected: %v", err)
				return
			}
			server.SetBridges(entries)
		})
		defer watcher.Close()
	}

	log.Printf("oribridge listening on %s (%d backends)", addr, len(entries))
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildBridges(specs []oribridge.BackendSpec, store *oribridge.DataStore, stateDSN string) ([]httpapi.BridgeEntry, error) {
	cacheDir := strings.TrimSpace(os.Getenv("ORIBRIDGE_FETCH_CACHE_DIR"))
	callTimeout := durationEnv("ORIBRIDGE_CALL_TIMEOUT", 0)
	maxConcurrency := intEnv("ORIBRIDGE_MAX_CONCURRENCY", 0)

	entries := make([]httpapi.BridgeEntry, 0, len(specs))
	for _, spec := range specs {
		adapter, err := oribridge.NewAdapter(spec)
		if err != nil {
			return nil, err
		}
		if cacheDir != "" {
			adapter = oribridge.NewCachingAdapter(adapter, cacheDir)
		}

		issueBackend, err := oribridge.BuildStateBackendFromDSN(stateDSN, spec.Name+"-issue")
		if err != nil {
			return nil, err
		}
		commentBackend, err := oribridge.BuildStateBackendFromDSN(stateDSN, spec.Name+"-comment")
		if err != nil {
			return nil, err
		}

		bridge := oribridge.NewBridge(adapter, store, oribridge.BridgeOptions{
			IssueMap:       oribridge.NewLriMap(spec.Name+"-issue", issueBackend),
			CommentMap:     oribridge.NewLriMap(spec.Name+"-comment", commentBackend),
			CallTimeout:    callTimeout,
			MaxConcurrency: maxConcurrency,
		})
		if err := bridge.Load(); err != nil {
			return nil, err
		}
		entries = append(entries, httpapi.BridgeEntry{
			Bridge:        bridge,
			WebhookSecret: spec.WebhookSecret,
		})
	}
	return entries, nil
}

// initialSync pulls current state from every backend, then pushes so
// each backend ends up with every item. Fetches run concurrently;
// pushes run bridge by bridge so newly minted mappings from one
// backend are visible before the next one pushes.
func initialSync(entries []httpapi.BridgeEntry, store *oribridge.DataStore) {
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(bridge *oribridge.Bridge) {
			defer wg.Done()
			if err := bridge.FetchAll(ctx); err != nil {
				log.Printf("initial fetch from %s/%s: %v", bridge.Type(), bridge.Name(), err)
			}
		}(entry.Bridge)
	}
	wg.Wait()

	for _, entry := range entries {
		if err := entry.Bridge.PushAll(ctx); err != nil {
			log.Printf("initial push to %s/%s: %v", entry.Bridge.Type(), entry.Bridge.Name(), err)
		}
		if err := entry.Bridge.Save(); err != nil {
			log.Printf("saving maps for %s/%s: %v", entry.Bridge.Type(), entry.Bridge.Name(), err)
		}
	}
	if err := store.Save(); err != nil {
		log.Printf("saving item store: %v", err)
	}
	log.Printf("initial sync complete: %d items", store.Len())
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}
