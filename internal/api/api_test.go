package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"booking-inbox/client/internal/inbox"
	"booking-inbox/client/internal/thread"
	"booking-inbox/client/pkg/apiclient"
	"booking-inbox/client/pkg/cache"
	apperrors "booking-inbox/client/pkg/errors"
	"booking-inbox/client/pkg/logger"
	"booking-inbox/client/pkg/middleware"
	"booking-inbox/client/pkg/session"
	pkgws "booking-inbox/client/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu            sync.Mutex
	conversations []apiclient.Conversation
	messages      map[string][]apiclient.Message
	sent          []apiclient.SendRequest
	deleted       []string
	seen          []string
	sendErr       error
}

func (f *fakeAPI) ListConversations(context.Context) ([]apiclient.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiclient.Conversation(nil), f.conversations...), nil
}

func (f *fakeAPI) ListMessages(_ context.Context, id string) ([]apiclient.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiclient.Message(nil), f.messages[id]...), nil
}

func (f *fakeAPI) MarkSeen(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, id)
	return nil
}

func (f *fakeAPI) DeleteConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	kept := f.conversations[:0:0]
	for _, c := range f.conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	f.conversations = kept
	return nil
}

func (f *fakeAPI) SendMessage(_ context.Context, req apiclient.SendRequest) (apiclient.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return apiclient.SendResult{}, f.sendErr
	}
	f.sent = append(f.sent, req)
	id := req.ConversationID
	if id == "" {
		id = "c-new"
	}
	return apiclient.SendResult{ConversationID: id}, nil
}

type fakeAuth struct {
	result apiclient.LoginResult
	err    error
}

func (a fakeAuth) Login(context.Context, string, string) (apiclient.LoginResult, error) {
	return a.result, a.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	frames []pkgws.Envelope
}

func (p *recordingPublisher) Publish(_ string, env pkgws.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, env)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.frames))
	for _, f := range p.frames {
		out = append(out, f.Type)
	}
	return out
}

type gateway struct {
	engine *gin.Engine
	api    *fakeAPI
	store  *session.Store
	views  *Views
	pub    *recordingPublisher
}

func newGateway(t *testing.T, auth Authenticator) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.Discard()
	fake := &fakeAPI{
		conversations: []apiclient.Conversation{{
			ID:           "c1",
			Participants: []apiclient.Participant{{ID: "u1"}, {ID: "u2"}},
		}},
		messages: map[string][]apiclient.Message{
			"c1": {{ID: "m1", ConversationID: "c1", Content: "hello", Sender: apiclient.Participant{ID: "u2"}, CreatedAt: time.Now()}},
		},
	}
	store := session.NewStore(session.NewMemoryPersister(), log)
	aggregator := inbox.New(fake, store, inbox.Options{Logger: log})
	views := NewViews(aggregator, fake, store, thread.Options{Logger: log}, cache.Options{TTL: time.Minute})
	pub := &recordingPublisher{}
	views.Attach(pub, store)
	t.Cleanup(views.Shutdown)

	if auth == nil {
		auth = fakeAuth{err: apperrors.NewAPIStatusError("login", http.StatusUnauthorized)}
	}

	engine := gin.New()
	engine.Use(middleware.SessionMiddleware(store), apperrors.ErrorHandler())
	group := engine.Group("/api")
	NewSessionController(store, auth).RegisterRoutes(group)
	protected := group.Group("")
	protected.Use(middleware.RequireSession())
	NewInboxController(views).RegisterRoutes(protected)
	NewThreadController(views).RegisterRoutes(protected)

	return &gateway{engine: engine, api: fake, store: store, views: views, pub: pub}
}

func (g *gateway) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	g.engine.ServeHTTP(w, req)
	return w
}

func (g *gateway) login(t *testing.T) {
	t.Helper()
	w := g.do(t, http.MethodPost, "/api/session", gin.H{
		"token": "opaque-token",
		"user":  gin.H{"id": "u1", "name": "Ada", "role": "artist"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func TestProtectedRoutesNeedSession(t *testing.T) {
	g := newGateway(t, nil)

	for _, path := range []string{"/api/inbox", "/api/threads/c1"} {
		w := g.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, apperrors.CodeNoToken, decode[errorBody](t, w).Error.Code, path)
	}

	w := g.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginWithToken(t *testing.T) {
	g := newGateway(t, nil)
	g.login(t)

	w := g.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Identity session.Identity `json:"identity"`
	}](t, w)
	assert.Equal(t, "u1", body.Identity.ID)
	assert.Empty(t, body.Identity.Token)
	assert.Contains(t, g.pub.types(), pkgws.TypeSession)
}

func TestLoginRejects(t *testing.T) {
	g := newGateway(t, nil)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"unknown role", gin.H{"token": "t", "user": gin.H{"id": "u1", "role": "guest"}}, http.StatusBadRequest, "INVALID_SESSION"},
		{"opaque token without id", gin.H{"token": "t"}, http.StatusBadRequest, "INVALID_SESSION"},
		{"nothing", gin.H{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad credentials", gin.H{"email": "a@b.c", "password": "nope"}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := g.do(t, http.MethodPost, "/api/session", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode[errorBody](t, w).Error.Code)
		})
	}
	_, ok := g.store.Identity()
	assert.False(t, ok)
}

func TestLoginWithCredentials(t *testing.T) {
	var result apiclient.LoginResult
	result.Token = "issued-token"
	result.User.ID = "u9"
	result.User.Role = "organizer"
	g := newGateway(t, fakeAuth{result: result})

	w := g.do(t, http.MethodPost, "/api/session", gin.H{"email": "a@b.c", "password": "pw"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "issued-token", g.store.Token())
	assert.Equal(t, "u9", g.store.UserID())
}

func TestInboxListAndStart(t *testing.T) {
	g := newGateway(t, nil)
	g.login(t)

	w := g.do(t, http.MethodGet, "/api/inbox", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[inbox.Snapshot](t, w)
	assert.True(t, snap.Loaded)
	require.Len(t, snap.Conversations, 1)
	assert.True(t, snap.Unread["c1"])
	assert.Equal(t, 1, snap.TotalUnread)

	w = g.do(t, http.MethodPost, "/api/inbox/start", gin.H{"recipientId": "u2"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", decode[ActionResponse](t, w).Redirect)

	w = g.do(t, http.MethodPost, "/api/inbox/start", gin.H{"recipientId": "u3"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c-new", decode[ActionResponse](t, w).Redirect)
	require.Len(t, g.api.sent, 1)
	assert.Equal(t, "u3", g.api.sent[0].RecipientID)

	w = g.do(t, http.MethodPost, "/api/inbox/start", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteAsksFirst(t *testing.T) {
	g := newGateway(t, nil)
	g.login(t)
	require.Equal(t, http.StatusOK, g.do(t, http.MethodGet, "/api/inbox", nil).Code)

	w := g.do(t, http.MethodDelete, "/api/inbox/c1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[ActionResponse](t, w)
	assert.Equal(t, "Are you sure you want to delete this conversation?", res.Confirm)
	assert.Empty(t, g.api.deleted)

	w = g.do(t, http.MethodDelete, "/api/inbox/c1?confirm=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res = decode[ActionResponse](t, w)
	assert.Empty(t, res.Confirm)
	assert.Equal(t, []string{"c1"}, g.api.deleted)
	assert.Empty(t, g.views.Inbox().Snapshot().Conversations)
}

func TestThreadMountAndSend(t *testing.T) {
	g := newGateway(t, nil)
	g.login(t)

	w := g.do(t, http.MethodGet, "/api/threads/c1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[ThreadView](t, w)
	assert.Equal(t, thread.StateReady, view.State)
	require.Len(t, view.Messages, 1)
	assert.False(t, view.Messages[0].Mine)
	assert.Equal(t, []string{"c1"}, g.views.OpenViews())

	w = g.do(t, http.MethodPost, "/api/threads/c1/send", gin.H{"content": "  hi there "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[ActionResponse](t, w)
	assert.True(t, res.Cleared)
	assert.Empty(t, res.Alerts)
	require.Len(t, g.api.sent, 1)
	assert.Equal(t, "hi there", g.api.sent[0].Content)
	assert.Equal(t, "c1", g.api.sent[0].ConversationID)
}

func TestSendFailureAlerts(t *testing.T) {
	g := newGateway(t, nil)
	g.login(t)
	g.api.sendErr = apperrors.NewAPIStatusError("send", http.StatusInternalServerError)

	w := g.do(t, http.MethodPost, "/api/threads/c1/send", gin.H{"content": "hi"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	res := decode[ActionResponse](t, w)
	assert.Equal(t, []string{"Failed to send message. Please try again."}, res.Alerts)
	assert.False(t, res.Cleared)
	require.NotNil(t, res.Error)
	assert.Equal(t, apperrors.CodeAPIStatus, res.Error.Code)

	for _, m := range g.views.Thread("c1").Render() {
		assert.False(t, m.Pending, "optimistic message must be rolled back")
	}
}

func multipartDraft(t *testing.T, content, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("content", content))

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestSendAttachment(t *testing.T) {
	g := newGateway(t, nil)
	g.login(t)

	body, contentType := multipartDraft(t, "see attached", "flyer.pdf", "application/pdf", []byte("%PDF-1.4 test"))
	req := httptest.NewRequest(http.MethodPost, "/api/threads/c1/send", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	g.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, g.api.sent, 1)
	sent := g.api.sent[0]
	assert.Empty(t, sent.Kind, "documents carry no kind tag")
	require.NotNil(t, sent.File)
	assert.Equal(t, "flyer.pdf", sent.File.Name)
	assert.Equal(t, "application/pdf", sent.File.ContentType)
}

func TestSendRejectsImageType(t *testing.T) {
	g := newGateway(t, nil)
	g.login(t)

	body, contentType := multipartDraft(t, "", "photo.bmp", "image/bmp", []byte("BM...."))
	req := httptest.NewRequest(http.MethodPost, "/api/threads/c1/send", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	g.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	res := decode[ActionResponse](t, w)
	require.Len(t, res.Alerts, 1)
	assert.True(t, strings.HasPrefix(res.Alerts[0], "Only JPEG"))
	require.NotNil(t, res.Error)
	assert.Equal(t, apperrors.CodeAttachmentRejected, res.Error.Code)
	assert.Empty(t, g.api.sent)
}

func TestLogoutResetsViews(t *testing.T) {
	g := newGateway(t, nil)
	g.login(t)
	require.Equal(t, http.StatusOK, g.do(t, http.MethodGet, "/api/inbox", nil).Code)
	require.Equal(t, http.StatusOK, g.do(t, http.MethodGet, "/api/threads/c1", nil).Code)
	s := g.views.Thread("c1")

	w := g.do(t, http.MethodDelete, "/api/session", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Empty(t, g.views.OpenViews())
	assert.Equal(t, thread.StateUnmounted, s.State())
	assert.False(t, g.views.Inbox().Loaded())

	w = g.do(t, http.MethodGet, "/api/inbox", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCloseThread(t *testing.T) {
	g := newGateway(t, nil)
	g.login(t)
	require.Equal(t, http.StatusOK, g.do(t, http.MethodGet, "/api/threads/c1", nil).Code)

	w := g.do(t, http.MethodDelete, "/api/threads/c1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, g.views.OpenViews())
}
