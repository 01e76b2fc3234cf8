// Command oribridge-check exercises every configured backend
// read-only: it fetches issues and their comments, validates the
// shapes the adapters produce, and reports identifier coverage. Run
// it against a new config before pointing the bridge at production
// trackers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/oribridge/oribridge/internal/config"
	"github.com/oribridge/oribridge/internal/oribridge"
)

func main() {
	configPath := flag.String("config", "backends.json", "backend connection config file")
	cacheDir := flag.String("cache", "", "optional fetch cache directory")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall check timeout")
	flag.Parse()

	specs, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	failed := false
	for _, spec := range specs {
		if err := checkBackend(ctx, spec, *cacheDir); err != nil {
			log.Printf("FAIL %s/%s: %v", spec.Type, spec.Name, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func checkBackend(ctx context.Context, spec oribridge.BackendSpec, cacheDir string) error {
	adapter, err := oribridge.NewAdapter(spec)
	if err != nil {
		return err
	}
	if cacheDir != "" {
		adapter = oribridge.NewCachingAdapter(adapter, cacheDir)
	}

	issues, err := adapter.GetItems(ctx, oribridge.TypeIssue, nil)
	if err != nil {
		return fmt.Errorf("fetching issues: %w", err)
	}

	hinted := 0
	comments := 0
	for _, issue := range issues {
		if err := issue.Validate(); err != nil {
			return fmt.Errorf("issue %s: %w", issue.LocalIdentifier, err)
		}
		if issue.MintedIdentifier == "" {
			return fmt.Errorf("issue %s: adapter minted no identifier", issue.LocalIdentifier)
		}
		if issue.HintedIdentifier != "" {
			hinted++
		}

		issueComments, err := adapter.GetItems(ctx, oribridge.TypeComment, &oribridge.ItemFilter{Issue: issue.LocalIdentifier})
		if err != nil {
			return fmt.Errorf("fetching comments of issue %s: %w", issue.LocalIdentifier, err)
		}
		for _, comment := range issueComments {
			if err := comment.Validate(); err != nil {
				return fmt.Errorf("comment %s: %w", comment.LocalIdentifier, err)
			}
			if comment.LocalReferences["issue"] == "" {
				return fmt.Errorf("comment %s: missing issue reference", comment.LocalIdentifier)
			}
		}
		comments += len(issueComments)
	}

	log.Printf("OK   %s/%s: %d issues (%d hinted), %d comments", spec.Type, spec.Name, len(issues), hinted, comments)
	return nil
}
