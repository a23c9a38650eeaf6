// Package thread keeps one conversation's messages in sync with the API and
// mediates sending new ones.
//
// A Synchronizer moves through INIT, READY and SYNCING while mounted. Every
// network failure is contained here: it is logged, turned into an alert where
// the user has to know, and never propagated past the view.
package thread

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"booking-inbox/client/internal/attachment"
	"booking-inbox/client/internal/ui"
	"booking-inbox/client/pkg/apiclient"
	apperrors "booking-inbox/client/pkg/errors"
	"booking-inbox/client/pkg/logger"

	"github.com/google/uuid"
)

// TempPrefix marks message ids that the API has not confirmed yet
const TempPrefix = "temp-"

// State of a mounted view
type State string

const (
	StateInit      State = "INIT"
	StateReady     State = "READY"
	StateSyncing   State = "SYNCING"
	StateUnmounted State = "UNMOUNTED"
)

const (
	alertSendFailed    = "Failed to send message. Please try again."
	alertImageRejected = "Only JPEG, PNG, WEBP and GIF images can be sent."
)

// API is the slice of the REST client a conversation view uses
type API interface {
	ListMessages(ctx context.Context, conversationID string) ([]apiclient.Message, error)
	MarkSeen(ctx context.Context, conversationID string) error
	SendMessage(ctx context.Context, req apiclient.SendRequest) (apiclient.SendResult, error)
}

// Session identifies the current user
type Session interface {
	Token() string
	UserID() string
}

// Options for a Synchronizer
type Options struct {
	// BaseURL resolves relative attachment links
	BaseURL *url.URL

	Logger *logger.Logger
	Now    func() time.Time
}

// File is an attachment picked by the user
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Draft is the content of the message input
type Draft struct {
	Text string
	File *File
}

// Snapshot is an immutable copy of the view state
type Snapshot struct {
	ConversationID string              `json:"conversationId"`
	State          State               `json:"state"`
	Messages       []apiclient.Message `json:"messages"`
	LoadFailed     bool                `json:"loadFailed"`
	Sending        bool                `json:"sending"`
}

// Synchronizer is the view model of one open conversation
type Synchronizer struct {
	id      string
	api     API
	session Session
	base    *url.URL
	log     *logger.Logger
	now     func() time.Time

	viewCtx context.Context
	cancel  context.CancelFunc

	mu         sync.Mutex
	state      State
	messages   []apiclient.Message
	loadFailed bool
	sending    bool
	syncing    int
	issued     uint64
	applied    uint64
	inFlight   map[string]bool
	seenIDs    map[string]bool
	listeners  []func(Snapshot)
}

// New creates a Synchronizer for conversationID in state INIT
func New(conversationID string, api API, session Session, opts Options) *Synchronizer {
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobal()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	viewCtx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		id:       conversationID,
		api:      api,
		session:  session,
		base:     opts.BaseURL,
		log:      opts.Logger.WithConversationID(conversationID),
		now:      opts.Now,
		viewCtx:  viewCtx,
		cancel:   cancel,
		state:    StateInit,
		inFlight: make(map[string]bool),
		seenIDs:  make(map[string]bool),
	}
}

// ConversationID is the conversation this view shows
func (s *Synchronizer) ConversationID() string {
	return s.id
}

// OnChange registers a listener called with a snapshot after every change
func (s *Synchronizer) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Snapshot returns a copy of the current state
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	return Snapshot{
		ConversationID: s.id,
		State:          s.state,
		Messages:       append([]apiclient.Message{}, s.messages...),
		LoadFailed:     s.loadFailed,
		Sending:        s.sending,
	}
}

// State returns the current state
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sending reports whether a file upload is outstanding
func (s *Synchronizer) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

func (s *Synchronizer) notify() {
	s.mu.Lock()
	if s.state == StateUnmounted {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	listeners := append([]func(Snapshot){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// bind derives a context that also ends when the view is unmounted
func (s *Synchronizer) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.viewCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Mount runs the initial mark-seen and fetch concurrently and enters READY
// once the fetch has resolved. A failed fetch leaves the list empty and sets
// LoadFailed; no alert is raised for it.
func (s *Synchronizer) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInit {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.session.Token() == "" {
		s.log.Warn("Mounting conversation without a session; nothing to load")
		s.setState(StateReady)
		return apperrors.ErrNoToken
	}

	ctx, cancel := s.bind(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var seenErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		seenErr = s.MarkSeen(ctx)
	}()

	err := s.fetch(ctx)
	s.mu.Lock()
	if s.state == StateInit {
		s.state = StateReady
		s.loadFailed = err != nil
	}
	s.mu.Unlock()
	s.notify()

	wg.Wait()
	// mark-seen may have resolved before the list arrived
	if seenErr == nil {
		s.projectSeen()
	}
	return err
}

// Resync repeats the mark-seen and fetch pair
func (s *Synchronizer) Resync(ctx context.Context, trigger ui.Trigger) error {
	s.mu.Lock()
	switch s.state {
	case StateUnmounted:
		s.mu.Unlock()
		return nil
	case StateInit:
		s.mu.Unlock()
		return s.Mount(ctx)
	}
	s.syncing++
	s.state = StateSyncing
	s.mu.Unlock()
	s.notify()

	s.log.Debug("Resyncing conversation", "trigger", string(trigger))

	ctx, cancel := s.bind(ctx)
	defer cancel()

	_ = s.MarkSeen(ctx)
	err := s.fetch(ctx)

	s.mu.Lock()
	s.syncing--
	if s.state == StateSyncing && s.syncing == 0 {
		s.state = StateReady
	}
	if err == nil {
		s.loadFailed = false
	}
	s.mu.Unlock()
	s.notify()
	return err
}

// Unmount abandons outstanding work. No state changes after it.
func (s *Synchronizer) Unmount() {
	s.mu.Lock()
	s.state = StateUnmounted
	s.listeners = nil
	s.mu.Unlock()
	s.cancel()
}

func (s *Synchronizer) setState(state State) {
	s.mu.Lock()
	if s.state == StateUnmounted {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.notify()
}

// fetch loads the message list. Results of fetches issued before the last
// applied one are dropped, and optimistic messages whose send is still in
// flight are kept at the end of the list.
func (s *Synchronizer) fetch(ctx context.Context) error {
	s.mu.Lock()
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	messages, err := s.api.ListMessages(ctx, s.id)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNoToken) {
			return err
		}
		s.log.LogError(err, "Failed to fetch messages")
		return err
	}

	s.mu.Lock()
	if s.state == StateUnmounted {
		s.mu.Unlock()
		return nil
	}
	if seq <= s.applied {
		s.mu.Unlock()
		s.log.Debug("Discarding superseded message list", "seq", seq)
		return nil
	}
	s.applied = seq

	next := make([]apiclient.Message, 0, len(messages)+len(s.inFlight))
	for _, m := range messages {
		if s.seenIDs[m.ID] {
			m.Seen = true
		}
		next = append(next, m)
	}
	for _, m := range s.messages {
		if s.inFlight[m.ID] {
			next = append(next, m)
		}
	}
	s.messages = next
	s.mu.Unlock()

	s.notify()
	return nil
}

// MarkSeen flags the conversation seen on the API and projects that onto the
// local messages from other senders. A failure never reverts an earlier
// projection, and a repeated success changes nothing.
func (s *Synchronizer) MarkSeen(ctx context.Context) error {
	if err := s.api.MarkSeen(ctx, s.id); err != nil {
		if !apperrors.Is(err, apperrors.ErrNoToken) {
			s.log.LogWarn(err, "Mark seen failed")
		}
		return err
	}
	s.projectSeen()
	return nil
}

// projectSeen flags local messages from other senders as seen
func (s *Synchronizer) projectSeen() {
	self := s.session.UserID()
	changed := false
	s.mu.Lock()
	if s.state == StateUnmounted {
		s.mu.Unlock()
		return
	}
	for i := range s.messages {
		m := &s.messages[i]
		if m.Sender.ID == self || strings.HasPrefix(m.ID, TempPrefix) {
			continue
		}
		s.seenIDs[m.ID] = true
		if !m.Seen {
			m.Seen = true
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// HandleSend sends the draft. Text-only messages appear immediately under a
// temporary id; on failure every temporary message is rolled back and the
// user is alerted.
func (s *Synchronizer) HandleSend(ctx context.Context, draft Draft, view ui.UI) error {
	text := strings.TrimSpace(draft.Text)
	if text == "" && draft.File == nil {
		return nil
	}
	if s.session.Token() == "" {
		s.log.Warn("Not sending without a session")
		return apperrors.ErrNoToken
	}

	req := apiclient.SendRequest{ConversationID: s.id, Content: text}
	var tempID string

	if draft.File != nil {
		contentType := attachment.MediaType(draft.File.ContentType)
		if contentType == "" {
			contentType = attachment.Sniff(draft.File.Data)
		}
		kind := attachment.Classify(contentType)
		if kind == attachment.KindImage && !attachment.AllowedImage(contentType) {
			s.log.Warn("Rejected image attachment", "content_type", contentType, "file", draft.File.Name)
			view.Alert(alertImageRejected)
			return apperrors.NewAttachmentRejectedError(contentType)
		}

		s.mu.Lock()
		if s.sending {
			s.mu.Unlock()
			s.log.Debug("Ignoring send while an upload is outstanding")
			return nil
		}
		s.sending = true
		s.mu.Unlock()
		s.notify()
		defer func() {
			s.mu.Lock()
			s.sending = false
			s.mu.Unlock()
			s.notify()
		}()

		req.Kind = string(kind)
		req.File = &apiclient.FilePart{
			Name:        draft.File.Name,
			ContentType: contentType,
			Data:        bytes.NewReader(draft.File.Data),
		}
	} else {
		tempID = s.insertOptimistic(text)
	}

	ctx, cancel := s.bind(ctx)
	defer cancel()

	result, err := s.api.SendMessage(ctx, req)

	s.mu.Lock()
	delete(s.inFlight, tempID)
	unmounted := s.state == StateUnmounted
	s.mu.Unlock()
	if unmounted {
		return err
	}

	if err != nil {
		s.log.LogError(err, "Failed to send message")
		view.Alert(alertSendFailed)
		s.rollback()
		return err
	}

	view.ClearDraft()
	if result.ConversationID != "" && result.ConversationID != s.id {
		s.log.Info("Message landed in another conversation", "target_conversation_id", result.ConversationID)
		view.Navigate(result.ConversationID)
		return nil
	}

	_ = s.Resync(ctx, ui.TriggerSend)
	return nil
}

func (s *Synchronizer) insertOptimistic(text string) string {
	identity := apiclient.Participant{ID: s.session.UserID()}
	msg := apiclient.Message{
		ID:             TempPrefix + uuid.NewString(),
		ConversationID: s.id,
		Content:        text,
		CreatedAt:      s.now(),
		Sender:         identity,
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.inFlight[msg.ID] = true
	s.mu.Unlock()
	s.notify()
	return msg.ID
}

// rollback drops every message that still carries a temporary id
func (s *Synchronizer) rollback() {
	s.mu.Lock()
	kept := s.messages[:0:0]
	for _, m := range s.messages {
		if strings.HasPrefix(m.ID, TempPrefix) {
			delete(s.inFlight, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
	s.mu.Unlock()
	s.notify()
}
