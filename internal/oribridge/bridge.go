package oribridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Bridge orchestrates replication between one backend and the shared
// DataStore, using that backend's identity maps (one per item type).
type Bridge struct {
	adapter Adapter
	store   *DataStore
	maps    map[ItemType]*LriMap

	callTimeout time.Duration
	sem         chan struct{}
}

type BridgeOptions struct {
	IssueMap   *LriMap
	CommentMap *LriMap
	// CallTimeout bounds every adapter network call so a hung backend
	// cannot stall a sync cycle forever.
	CallTimeout time.Duration
	// MaxConcurrency bounds the per-item fan-out within one bulk
	// fetch or push wave.
	MaxConcurrency int
}

func NewBridge(adapter Adapter, store *DataStore, opts BridgeOptions) *Bridge {
	issueMap := opts.IssueMap
	if issueMap == nil {
		issueMap = NewLriMap(adapter.Name()+"-issue", nil)
	}
	commentMap := opts.CommentMap
	if commentMap == nil {
		commentMap = NewLriMap(adapter.Name()+"-comment", nil)
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Bridge{
		adapter: adapter,
		store:   store,
		maps: map[ItemType]*LriMap{
			TypeIssue:   issueMap,
			TypeComment: commentMap,
		},
		callTimeout: callTimeout,
		sem:         make(chan struct{}, maxConcurrency),
	}
}

func (b *Bridge) Type() string      { return b.adapter.Type() }
func (b *Bridge) Name() string      { return b.adapter.Name() }
func (b *Bridge) Adapter() Adapter  { return b.adapter }
func (b *Bridge) Store() *DataStore { return b.store }

func (b *Bridge) Map(itemType ItemType) *LriMap {
	return b.maps[itemType]
}

// Load restores all owned identity maps from durable state.
func (b *Bridge) Load() error {
	for _, m := range b.maps {
		if err := m.Load(); err != nil {
			return err
		}
	}
	return nil
}

// Save persists all owned identity maps.
func (b *Bridge) Save() error {
	var errs []error
	for _, m := range b.maps {
		if err := m.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the identity maps' state backends. The shared
// DataStore outlives any one bridge and is left open.
func (b *Bridge) Close() error {
	var errs []error
	for _, m := range b.maps {
		if err := m.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.callTimeout)
}

// reconcile resolves a fetched item's canonical identity through this
// backend's identity maps, translates its references to canonical
// identifiers, and upserts the result into the shared store.
func (b *Bridge) reconcile(f FetchedItem) (Item, error) {
	if err := f.Validate(); err != nil {
		return Item{}, err
	}
	m, ok := b.maps[f.Type]
	if !ok {
		return Item{}, fmt.Errorf("%w: no identity map for type %s", ErrInvalidInput, f.Type)
	}
	original, err := m.ToOriginal(f)
	if err != nil {
		return Item{}, err
	}
	var references map[string]string
	if f.Type == TypeComment {
		parentLocal := f.LocalReferences["issue"]
		parentOriginal, ok := b.maps[TypeIssue].OriginalOf(parentLocal)
		if !ok {
			return Item{}, fmt.Errorf("%w: comment %s references unknown issue local=%q at %s",
				ErrOrdering, f.LocalIdentifier, parentLocal, b.Name())
		}
		references = map[string]string{"issue": parentOriginal}
	}
	item := Item{
		Type:       f.Type,
		Identifier: original,
		Fields:     copyFields(f.Fields),
		References: references,
	}
	if err := b.store.Add(item); err != nil {
		return Item{}, err
	}
	return item, nil
}

// FetchAll pulls every issue and then every comment from the backend
// and reconciles them into the shared store. Comments only start after
// the whole issue wave has been reconciled, so their parent references
// always resolve. A failure on one item does not abort its siblings;
// all collected errors surface after the batch completes.
func (b *Bridge) FetchAll(ctx context.Context) error {
	fetchCtx, cancel := b.callCtx(ctx)
	issues, err := b.adapter.GetItems(fetchCtx, TypeIssue, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("bridge %s: fetching issues: %w", b.Name(), err)
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	collect := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, issue := range issues {
		wg.Add(1)
		go func(issue FetchedItem) {
			defer wg.Done()
			b.sem <- struct{}{}
			defer func() { <-b.sem }()
			if _, err := b.reconcile(issue); err != nil {
				collect(fmt.Errorf("bridge %s: issue local=%q: %w", b.Name(), issue.LocalIdentifier, err))
			}
		}(issue)
	}
	wg.Wait()

	var (
		commentsMu sync.Mutex
		comments   []FetchedItem
	)
	for _, issue := range issues {
		wg.Add(1)
		go func(issue FetchedItem) {
			defer wg.Done()
			b.sem <- struct{}{}
			defer func() { <-b.sem }()
			fetchCtx, cancel := b.callCtx(ctx)
			defer cancel()
			issueComments, err := b.adapter.GetItems(fetchCtx, TypeComment, &ItemFilter{Issue: issue.LocalIdentifier})
			if err != nil {
				collect(fmt.Errorf("bridge %s: fetching comments for issue local=%q: %w", b.Name(), issue.LocalIdentifier, err))
				return
			}
			commentsMu.Lock()
			comments = append(comments, issueComments...)
			commentsMu.Unlock()
		}(issue)
	}
	wg.Wait()

	for _, comment := range comments {
		wg.Add(1)
		go func(comment FetchedItem) {
			defer wg.Done()
			b.sem <- struct{}{}
			defer func() { <-b.sem }()
			if _, err := b.reconcile(comment); err != nil {
				collect(fmt.Errorf("bridge %s: comment local=%q: %w", b.Name(), comment.LocalIdentifier, err))
			}
		}(comment)
	}
	wg.Wait()

	log.Printf("bridge %s: fetched %d issues, %d comments", b.Name(), len(issues), len(comments))
	return errors.Join(errs...)
}

// PushItem creates an item at this backend if it does not exist there
// yet. An existing local mapping for either the canonical identifier or
// the hint embedded in the item's own content means the item is already
// synced and the push is a no-op; this is the loop-prevention guarantee
// that keeps a push echoed back by a webhook from replicating forever.
func (b *Bridge) PushItem(ctx context.Context, item Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	m, ok := b.maps[item.Type]
	if !ok {
		return fmt.Errorf("%w: no identity map for type %s", ErrInvalidInput, item.Type)
	}
	if _, ok := m.ToLocal(item.Identifier); ok {
		return nil
	}
	if hint := b.adapter.OriHint(item.Body()); hint != "" {
		if _, ok := m.ToLocal(hint); ok {
			return nil
		}
	}
	switch item.Type {
	case TypeIssue:
		return b.pushIssue(ctx, item)
	case TypeComment:
		return b.pushComment(ctx, item)
	default:
		return fmt.Errorf("%w: cannot push items of type %s", ErrInvalidInput, item.Type)
	}
}

func (b *Bridge) pushIssue(ctx context.Context, issue Item) error {
	m := b.maps[TypeIssue]
	if _, ok := m.ToLocal(issue.Identifier); ok {
		return nil
	}
	outgoing := issue
	outgoing.Fields = copyFields(issue.Fields)
	outgoing.Fields["body"] = b.adapter.EmbedOriHint(issue.Body(), issue.Identifier)
	callCtx, cancel := b.callCtx(ctx)
	local, err := b.adapter.CreateItem(callCtx, outgoing)
	cancel()
	if err != nil {
		return fmt.Errorf("bridge %s: creating issue %s: %w", b.Name(), issue.Identifier, err)
	}
	log.Printf("bridge %s: created issue %s as local=%q", b.Name(), issue.Identifier, local)
	return m.AddMapping(local, issue.Identifier)
}

func (b *Bridge) pushComment(ctx context.Context, comment Item) error {
	issueMap := b.maps[TypeIssue]
	parentOriginal := comment.References["issue"]
	if parentOriginal == "" {
		return fmt.Errorf("%w: comment %s has no issue reference", ErrInvalidInput, comment.Identifier)
	}
	if _, ok := issueMap.ToLocal(parentOriginal); !ok {
		// a comment cannot exist at a backend before its parent issue
		parent, ok := b.store.GetItem(TypeIssue, parentOriginal)
		if !ok {
			return fmt.Errorf("%w: parent issue %s of comment %s is not in the store",
				ErrOrdering, parentOriginal, comment.Identifier)
		}
		if err := b.pushIssue(ctx, parent); err != nil {
			return err
		}
	}
	parentLocal, ok := issueMap.ToLocal(parentOriginal)
	if !ok {
		return fmt.Errorf("%w: parent issue %s still has no local mapping at %s after push",
			ErrOrdering, parentOriginal, b.Name())
	}

	outgoing := comment
	outgoing.Fields = copyFields(comment.Fields)
	outgoing.Fields["body"] = b.adapter.EmbedOriHint(comment.Body(), comment.Identifier)
	outgoing.References = map[string]string{"issue": parentLocal}
	callCtx, cancel := b.callCtx(ctx)
	local, err := b.adapter.CreateItem(callCtx, outgoing)
	cancel()
	if err != nil {
		return fmt.Errorf("bridge %s: creating comment %s: %w", b.Name(), comment.Identifier, err)
	}
	log.Printf("bridge %s: created comment %s as local=%q", b.Name(), comment.Identifier, local)
	return b.maps[TypeComment].AddMapping(local, comment.Identifier)
}

// PushAll replicates the whole store to this backend: every issue
// first, then every comment as a second wave, so parent mappings exist
// before any comment is created.
func (b *Bridge) PushAll(ctx context.Context) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	push := func(item Item) {
		defer wg.Done()
		b.sem <- struct{}{}
		defer func() { <-b.sem }()
		if item.Deleted {
			return
		}
		if err := b.PushItem(ctx, item); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	}
	for _, issue := range b.store.GetAllItemsOfType(TypeIssue) {
		wg.Add(1)
		go push(issue)
	}
	wg.Wait()
	for _, comment := range b.store.GetAllItemsOfType(TypeComment) {
		wg.Add(1)
		go push(comment)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// PushUpdate overwrites this backend's copy of an item. Without a
// local mapping the update degrades to a create.
func (b *Bridge) PushUpdate(ctx context.Context, item Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	m, ok := b.maps[item.Type]
	if !ok {
		return fmt.Errorf("%w: no identity map for type %s", ErrInvalidInput, item.Type)
	}
	local, ok := m.ToLocal(item.Identifier)
	if !ok {
		return b.PushItem(ctx, item)
	}
	fields := copyFields(item.Fields)
	fields["body"] = b.adapter.EmbedOriHint(item.Body(), item.Identifier)
	var references map[string]string
	if item.Type == TypeComment {
		parentLocal, ok := b.maps[TypeIssue].ToLocal(item.References["issue"])
		if !ok {
			return fmt.Errorf("%w: parent issue %s of comment %s has no local mapping at %s",
				ErrOrdering, item.References["issue"], item.Identifier, b.Name())
		}
		references = map[string]string{"issue": parentLocal}
	}
	callCtx, cancel := b.callCtx(ctx)
	defer cancel()
	return b.adapter.UpdateItem(callCtx, item.Type, local, fields, references)
}

// PushDelete removes this backend's copy of an item. The identity
// mapping is retained so echoes of the deletion stay idempotent.
func (b *Bridge) PushDelete(ctx context.Context, item Item) error {
	if err := item.Validate(); err != nil {
		return err
	}
	m, ok := b.maps[item.Type]
	if !ok {
		return fmt.Errorf("%w: no identity map for type %s", ErrInvalidInput, item.Type)
	}
	local, ok := m.ToLocal(item.Identifier)
	if !ok {
		return nil
	}
	callCtx, cancel := b.callCtx(ctx)
	defer cancel()
	return b.adapter.DeleteItem(callCtx, item.Type, local)
}

// ProcessWebhook turns one inbound backend-native payload into a
// canonical item, runs the same reconciliation as FetchAll, and hands
// the result back for fan-out.
func (b *Bridge) ProcessWebhook(ctx context.Context, payload []byte, urlPathTail []string) (EventType, Item, error) {
	event, err := b.adapter.ParseWebhookData(payload, urlPathTail)
	if err != nil {
		return EventIgnored, Item{}, fmt.Errorf("bridge %s: %w", b.Name(), err)
	}
	switch event.Type {
	case EventCreated, EventUpdated:
		item, err := b.reconcile(event.Item)
		if err != nil {
			return event.Type, Item{}, err
		}
		return event.Type, item, nil
	case EventDeleted:
		m, ok := b.maps[event.Item.Type]
		if !ok {
			return event.Type, Item{}, fmt.Errorf("%w: no identity map for type %s", ErrInvalidInput, event.Item.Type)
		}
		original, err := m.ToOriginal(event.Item)
		if err != nil {
			return event.Type, Item{}, err
		}
		b.store.MarkDeleted(event.Item.Type, original)
		item, _ := b.store.GetItem(event.Item.Type, original)
		item.Type = event.Item.Type
		item.Identifier = original
		item.Deleted = true
		return event.Type, item, nil
	default:
		return EventIgnored, Item{}, nil
	}
}
