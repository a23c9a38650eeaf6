// Package inbox keeps the conversation list of the signed-in identity, with a
// transient unread flag per conversation.
package inbox

import (
	"context"
	"sort"
	"sync"

	"booking-inbox/client/internal/ui"
	"booking-inbox/client/pkg/apiclient"
	apperrors "booking-inbox/client/pkg/errors"
	"booking-inbox/client/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// API is the slice of the REST client the aggregator uses
type API interface {
	ListConversations(ctx context.Context) ([]apiclient.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]apiclient.Message, error)
	MarkSeen(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	SendMessage(ctx context.Context, req apiclient.SendRequest) (apiclient.SendResult, error)
}

// Session identifies the current user
type Session interface {
	Token() string
	UserID() string
}

// Options tunes an Aggregator
type Options struct {
	// Concurrency bounds the per-conversation unread fetches
	Concurrency int

	// Greeting is the first message of a new conversation
	Greeting string

	Logger *logger.Logger
}

// Snapshot is an immutable copy of the list state
type Snapshot struct {
	Conversations []apiclient.Conversation `json:"conversations"`
	Unread        map[string]bool          `json:"unread"`
	TotalUnread   int                      `json:"totalUnread"`
	Loaded        bool                     `json:"loaded"`
	LoadError     string                   `json:"loadError,omitempty"`
}

const loadErrorMessage = "Could not load conversations"

// Aggregator is the conversation list view model
type Aggregator struct {
	api         API
	session     Session
	log         *logger.Logger
	concurrency int
	greeting    string

	mu            sync.RWMutex
	conversations []apiclient.Conversation
	unread        map[string]bool
	loaded        bool
	loadErr       error
	issued        uint64
	applied       uint64
	listeners     []func(Snapshot)
}

// New creates an Aggregator
func New(api API, session Session, opts Options) *Aggregator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Greeting == "" {
		opts.Greeting = "Hi!"
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobal()
	}
	return &Aggregator{
		api:         api,
		session:     session,
		log:         opts.Logger,
		concurrency: opts.Concurrency,
		greeting:    opts.Greeting,
		unread:      make(map[string]bool),
	}
}

// OnChange registers a listener called with a snapshot after every change
func (a *Aggregator) OnChange(fn func(Snapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Snapshot returns a copy of the current state
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Snapshot {
	snap := Snapshot{
		Conversations: append([]apiclient.Conversation{}, a.conversations...),
		Unread:        make(map[string]bool, len(a.unread)),
		Loaded:        a.loaded,
	}
	for id, v := range a.unread {
		snap.Unread[id] = v
		if v {
			snap.TotalUnread++
		}
	}
	if a.loadErr != nil {
		snap.LoadError = loadErrorMessage
	}
	return snap
}

// TotalUnread is the number of conversations flagged unread
func (a *Aggregator) TotalUnread() int {
	return a.Snapshot().TotalUnread
}

// Loaded reports whether a list has been fetched successfully at least once
func (a *Aggregator) Loaded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loaded
}

// notify must be called without the lock held
func (a *Aggregator) notify() {
	a.mu.RLock()
	snap := a.snapshotLocked()
	listeners := append([]func(Snapshot){}, a.listeners...)
	a.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// LoadConversations replaces the list with the API's, most recent first.
// On failure the previous list stays and the load error is set.
func (a *Aggregator) LoadConversations(ctx context.Context) error {
	a.mu.Lock()
	a.issued++
	seq := a.issued
	a.mu.Unlock()

	conversations, err := a.api.ListConversations(ctx)
	if apperrors.Is(err, apperrors.ErrNoToken) {
		return err
	}

	a.mu.Lock()
	if seq <= a.applied {
		a.mu.Unlock()
		a.log.Debug("Discarding superseded conversation list", "seq", seq)
		return err
	}
	if err != nil {
		a.loadErr = err
		a.mu.Unlock()
		a.log.LogError(err, "Failed to load conversations")
		a.notify()
		return err
	}

	a.applied = seq
	sortByRecency(conversations)
	a.conversations = conversations
	a.loaded = true
	a.loadErr = nil

	present := make(map[string]bool, len(conversations))
	for _, c := range conversations {
		present[c.ID] = true
	}
	for id := range a.unread {
		if !present[id] {
			delete(a.unread, id)
		}
	}
	a.mu.Unlock()

	a.log.Debug("Conversations loaded", "count", len(conversations))
	a.notify()
	return nil
}

// sortByRecency orders descending by UpdatedAt; conversations without a
// timestamp go last in their original order.
func sortByRecency(conversations []apiclient.Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		ti, tj := conversations[i].UpdatedAt, conversations[j].UpdatedAt
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		}
		return ti.After(*tj)
	})
}

// ComputeUnread fetches each conversation's messages and derives its unread
// flag. A failed fetch counts as read and never aborts the batch.
func (a *Aggregator) ComputeUnread(ctx context.Context, conversations []apiclient.Conversation) {
	self := a.session.UserID()
	if self == "" || a.session.Token() == "" {
		a.log.Warn("Skipping unread computation without a session")
		return
	}

	var (
		resultsMu sync.Mutex
		results   = make(map[string]bool, len(conversations))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, c := range conversations {
		id := c.ID
		g.Go(func() error {
			unread := false
			messages, err := a.api.ListMessages(gctx, id)
			if err != nil {
				a.log.WithConversationID(id).LogWarn(err, "Unread check failed, treating conversation as read")
			} else {
				unread = IsUnread(messages, self)
			}
			resultsMu.Lock()
			results[id] = unread
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	a.mu.Lock()
	for _, c := range a.conversations {
		if v, ok := results[c.ID]; ok {
			a.unread[c.ID] = v
		}
	}
	a.mu.Unlock()
	a.notify()
}

// IsUnread reports whether the most recent message was sent by someone other
// than self and is not seen yet. No messages means read.
func IsUnread(messages []apiclient.Message, self string) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[0]
	for _, m := range messages[1:] {
		if !m.CreatedAt.Before(last.CreatedAt) {
			last = m
		}
	}
	return last.Sender.ID != self && !last.Seen
}

// Resync reloads the list and recomputes every unread flag
func (a *Aggregator) Resync(ctx context.Context, trigger ui.Trigger) error {
	a.log.Debug("Resyncing conversation list", "trigger", string(trigger))
	if err := a.LoadConversations(ctx); err != nil {
		return err
	}
	a.ComputeUnread(ctx, a.Snapshot().Conversations)
	return nil
}

// Reset forgets the list, e.g. after the session changed hands. Loads issued
// before the reset are discarded when they resolve.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.conversations = nil
	a.unread = make(map[string]bool)
	a.loaded = false
	a.loadErr = nil
	a.applied = a.issued
	a.mu.Unlock()
	a.notify()
}

// find returns the conversation shared by self and recipient
func (a *Aggregator) find(self, recipientID string) (apiclient.Conversation, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, c := range a.conversations {
		if c.HasParticipant(self) && c.HasParticipant(recipientID) {
			return c, true
		}
	}
	return apiclient.Conversation{}, false
}

// StartConversation opens the thread with recipientID, creating it with a
// first message when none exists yet.
func (a *Aggregator) StartConversation(ctx context.Context, recipientID string, view ui.UI) error {
	self := a.session.UserID()
	if self == "" || a.session.Token() == "" {
		a.log.Warn("Cannot start a conversation without a session")
		return apperrors.ErrNoToken
	}
	if recipientID == "" || recipientID == self {
		return apperrors.NewBadRequestError(apperrors.CodeBadRequest, "invalid recipient")
	}

	if !a.Loaded() {
		// Best effort: an unloaded list only means we cannot match locally.
		_ = a.LoadConversations(ctx)
	}
	if c, ok := a.find(self, recipientID); ok {
		view.Navigate(c.ID)
		return nil
	}

	result, err := a.api.SendMessage(ctx, apiclient.SendRequest{
		RecipientID: recipientID,
		Content:     a.greeting,
	})
	if err != nil {
		a.log.LogError(err, "Failed to start conversation", "recipient_id", recipientID)
		view.Alert("Could not start the conversation. Please try again.")
		return err
	}

	if result.ConversationID != "" {
		view.Navigate(result.ConversationID)
		return nil
	}

	if err := a.LoadConversations(ctx); err != nil {
		view.Alert("Could not start the conversation. Please try again.")
		return err
	}
	if c, ok := a.find(self, recipientID); ok {
		view.Navigate(c.ID)
		return nil
	}
	a.log.Warn("New conversation not found after reload", "recipient_id", recipientID)
	return apperrors.NewNotFoundError(apperrors.CodeNotFound, "conversation not found")
}

// DeleteConversation removes a conversation after the user confirms
func (a *Aggregator) DeleteConversation(ctx context.Context, id string, view ui.UI) error {
	if a.session.Token() == "" {
		a.log.Warn("Cannot delete a conversation without a session")
		return apperrors.ErrNoToken
	}
	if !view.Confirm("Are you sure you want to delete this conversation?") {
		return nil
	}

	if err := a.api.DeleteConversation(ctx, id); err != nil {
		a.log.WithConversationID(id).LogError(err, "Failed to delete conversation")
		view.Alert("Failed to delete the conversation.")
		return err
	}

	a.mu.Lock()
	kept := a.conversations[:0:0]
	for _, c := range a.conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	a.conversations = kept
	delete(a.unread, id)
	a.mu.Unlock()

	a.notify()
	return nil
}

// OpenConversation marks a conversation seen and navigates to it. Navigation
// happens whether or not the mark-seen call succeeds.
func (a *Aggregator) OpenConversation(ctx context.Context, id string, view ui.UI) {
	if err := a.api.MarkSeen(ctx, id); err != nil {
		a.log.WithConversationID(id).LogWarn(err, "Mark seen failed before opening conversation")
	} else {
		a.mu.Lock()
		changed := a.unread[id]
		if _, ok := a.unread[id]; ok {
			a.unread[id] = false
		}
		a.mu.Unlock()
		if changed {
			a.notify()
		}
	}
	view.Navigate(id)
}
