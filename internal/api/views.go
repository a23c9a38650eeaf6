package api

import (
	"context"
	"strings"
	"sync"

	"booking-inbox/client/internal/inbox"
	"booking-inbox/client/internal/thread"
	"booking-inbox/client/internal/ui"
	"booking-inbox/client/pkg/cache"
	apperrors "booking-inbox/client/pkg/errors"
	"booking-inbox/client/pkg/logger"
	"booking-inbox/client/pkg/session"
	pkgws "booking-inbox/client/pkg/ws"
)

// Publisher pushes frames to websocket subscribers
type Publisher interface {
	Publish(topic string, env pkgws.Envelope)
}

// SessionNotifier reports sign-in and sign-out
type SessionNotifier interface {
	OnChange(fn func(session.Identity, bool))
}

// ThreadView is the rendered state of one conversation view
type ThreadView struct {
	ConversationID string                   `json:"conversationId"`
	State          thread.State             `json:"state"`
	LoadFailed     bool                     `json:"loadFailed"`
	Sending        bool                     `json:"sending"`
	Messages       []thread.RenderedMessage `json:"messages"`
}

func renderThread(s *thread.Synchronizer) ThreadView {
	snap := s.Snapshot()
	return ThreadView{
		ConversationID: snap.ConversationID,
		State:          snap.State,
		LoadFailed:     snap.LoadFailed,
		Sending:        snap.Sending,
		Messages:       s.Render(),
	}
}

// view is a cached conversation view. Mount runs once per view.
type view struct {
	synchronizer *thread.Synchronizer
	once         sync.Once
	mountErr     error
}

func (v *view) mount(ctx context.Context) error {
	v.once.Do(func() {
		v.mountErr = v.synchronizer.Mount(ctx)
	})
	return v.mountErr
}

// Views owns the conversation list and the open conversation views. Views
// leave the cache when idle past the TTL, when closed, or when the session
// changes; each is unmounted on its way out.
type Views struct {
	inbox   *inbox.Aggregator
	api     thread.API
	session thread.Session
	opts    thread.Options
	cache   *cache.Cache[*view]
	log     *logger.Logger

	mu  sync.RWMutex
	pub Publisher
}

// NewViews creates the view registry
func NewViews(aggregator *inbox.Aggregator, api thread.API, sess thread.Session, threadOpts thread.Options, cacheOpts cache.Options) *Views {
	if threadOpts.Logger == nil {
		threadOpts.Logger = logger.GetGlobal()
	}
	v := &Views{
		inbox:   aggregator,
		api:     api,
		session: sess,
		opts:    threadOpts,
		cache:   cache.New[*view](cacheOpts),
		log:     threadOpts.Logger,
	}
	v.cache.SetOnEvicted(func(id string, entry *view) {
		entry.synchronizer.Unmount()
		v.log.Debug("Conversation view unmounted", "conversation_id", id)
	})
	return v
}

// Attach streams list and view changes to pub and resets every view when
// the session changes hands.
func (v *Views) Attach(pub Publisher, sessions SessionNotifier) {
	v.mu.Lock()
	v.pub = pub
	v.mu.Unlock()

	v.inbox.OnChange(func(snap inbox.Snapshot) {
		v.publish(pkgws.TopicInbox, pkgws.Envelope{Type: pkgws.TypeInbox, Payload: snap})
	})
	if sessions != nil {
		sessions.OnChange(func(identity session.Identity, signedIn bool) {
			v.Reset()
			var payload any
			if signedIn {
				payload = identity.Redacted()
			}
			v.publish("", pkgws.Envelope{Type: pkgws.TypeSession, Payload: payload})
		})
	}
}

func (v *Views) publish(topic string, env pkgws.Envelope) {
	v.mu.RLock()
	pub := v.pub
	v.mu.RUnlock()
	if pub != nil {
		pub.Publish(topic, env)
	}
}

// Inbox returns the conversation list view model
func (v *Views) Inbox() *inbox.Aggregator {
	return v.inbox
}

// Thread returns the view of conversationID, creating it in INIT if needed
func (v *Views) Thread(conversationID string) *thread.Synchronizer {
	return v.entry(conversationID).synchronizer
}

func (v *Views) entry(conversationID string) *view {
	entry, created := v.cache.GetOrCreate(conversationID, func() *view {
		s := thread.New(conversationID, v.api, v.session, v.opts)
		return &view{synchronizer: s}
	})
	if created {
		s := entry.synchronizer
		topic := pkgws.ThreadTopic(conversationID)
		s.OnChange(func(thread.Snapshot) {
			v.publish(topic, pkgws.Envelope{Type: pkgws.TypeThread, Payload: renderThread(s)})
		})
	}
	return entry
}

// Open returns the mounted view of conversationID. A failed initial fetch
// shows up as LoadFailed on the view; only a missing session is an error.
func (v *Views) Open(ctx context.Context, conversationID string) (*thread.Synchronizer, error) {
	entry := v.entry(conversationID)
	if err := entry.mount(ctx); apperrors.Is(err, apperrors.ErrNoToken) {
		return entry.synchronizer, err
	}
	return entry.synchronizer, nil
}

// Close unmounts and forgets the view of conversationID
func (v *Views) Close(conversationID string) {
	v.cache.Delete(conversationID)
}

// Reset unmounts every view and clears the conversation list
func (v *Views) Reset() {
	v.cache.Flush()
	v.inbox.Reset()
}

// Shutdown unmounts every view and stops the cache purge loop
func (v *Views) Shutdown() {
	v.cache.Close()
	v.cache.Flush()
}

// OpenViews lists the conversation ids with a live view
func (v *Views) OpenViews() []string {
	return v.cache.Keys()
}

// ensureInbox loads the list and its unread flags on first access
func (v *Views) ensureInbox(ctx context.Context) error {
	if v.inbox.Loaded() {
		return nil
	}
	err := v.inbox.Resync(ctx, ui.TriggerManual)
	if apperrors.Is(err, apperrors.ErrNoToken) {
		return err
	}
	return nil
}

// Subscribe returns the current frame of a websocket topic
func (v *Views) Subscribe(ctx context.Context, topic string) (pkgws.Envelope, error) {
	if topic == pkgws.TopicInbox {
		if err := v.ensureInbox(ctx); err != nil {
			return pkgws.Envelope{}, err
		}
		return pkgws.Envelope{Type: pkgws.TypeInbox, Payload: v.inbox.Snapshot()}, nil
	}

	id, ok := threadID(topic)
	if !ok {
		return pkgws.Envelope{}, apperrors.NewBadRequestError(apperrors.CodeBadRequest, "unknown topic "+topic)
	}
	s, err := v.Open(ctx, id)
	if err != nil {
		return pkgws.Envelope{}, err
	}
	return pkgws.Envelope{Type: pkgws.TypeThread, Payload: renderThread(s)}, nil
}

// Resync re-synchronizes the list or a conversation view
func (v *Views) Resync(ctx context.Context, topic string, trigger ui.Trigger) error {
	if topic == pkgws.TopicInbox {
		return v.inbox.Resync(ctx, trigger)
	}
	id, ok := threadID(topic)
	if !ok {
		return apperrors.NewBadRequestError(apperrors.CodeBadRequest, "unknown topic "+topic)
	}
	return v.Thread(id).Resync(ctx, trigger)
}

func threadID(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, pkgws.ThreadTopic(""))
	return id, ok && id != ""
}
