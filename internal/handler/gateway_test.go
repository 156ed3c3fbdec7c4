package handler

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime_chat/internal/config"
	"realtime_chat/internal/connectivity"
	"realtime_chat/internal/docstore"
	"realtime_chat/internal/domain"
	"realtime_chat/internal/middleware"
	"realtime_chat/internal/objectstore"
	"realtime_chat/internal/repository"
	"realtime_chat/internal/service"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

const testSDP = "v=0\r\no=- 4215775240449105457 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"

type codeCapture struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *codeCapture) SendCode(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[phone] = code
	return nil
}

func (s *codeCapture) code(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

type gateway struct {
	server  *httptest.Server
	client  *resty.Client
	store   *docstore.MemoryStore
	monitor *connectivity.Monitor
	sender  *codeCapture
}

type session struct {
	userID string
	token  string
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	log := logger.NewNop()

	store := docstore.NewMemory(nil, log)
	t.Cleanup(func() { _ = store.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{AllowedOrigins: []string{"*"}},
		JWT: config.JWTConfig{
			AccessSecret:  "access-secret",
			RefreshSecret: "refresh-secret",
			AccessTTL:     time.Minute,
			RefreshTTL:    time.Hour,
			VerifyTTL:     time.Hour,
			Issuer:        "realtime-chat",
		},
		Media:     config.MediaConfig{BaseURL: "/media", MaxBytes: 1 << 20, UploadTimeout: time.Second},
		Chat:      config.ChatConfig{MaxMessageLength: 100, WriteTimeout: time.Second, WSRate: 100, WSBurst: 100},
		Auth:      config.AuthConfig{MinPasswordLength: 8, PhoneCodeTTL: time.Minute, PhoneCodeMaxAttempts: 3},
		RateLimit: config.RateLimitConfig{AuthLimit: 100, AuthWindow: time.Minute, PhoneLimit: 3, PhoneWindow: time.Minute},
	}

	objects, err := objectstore.NewLocalStore(t.TempDir(), cfg.Media.BaseURL, log)
	require.NoError(t, err)

	monitor := connectivity.NewMonitor(true)
	sender := &codeCapture{codes: map[string]string{}}
	services := service.NewServices(repository.NewRepositories(store, rdb, log), service.Deps{
		Objects:    objects,
		Monitor:    monitor,
		CodeSender: sender,
	}, cfg, log)

	router := NewRouter(NewHandlers(services, store, monitor, cfg, log), RouterOptions{
		Auth:      middleware.NewAuthMiddleware(services.Auth, log),
		RateLimit: middleware.NewRateLimitMiddleware(services.RateLimit, log),
		MediaDir:  objects.Dir(),
	}, cfg, log)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &gateway{
		server:  server,
		client:  resty.New().SetBaseURL(server.URL),
		store:   store,
		monitor: monitor,
		sender:  sender,
	}
}

func (g *gateway) signIn(t *testing.T, phone, name string) session {
	t.Helper()

	resp, err := g.client.R().
		SetBody(map[string]string{"phone": phone}).
		Post("/api/v1/auth/phone/code")
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode(), resp.String())

	var login service.LoginResponse
	resp, err = g.client.R().
		SetBody(map[string]string{"phone": phone, "code": g.sender.code(phone), "display_name": name}).
		SetResult(&login).
		Post("/api/v1/auth/phone/verify")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), resp.String())

	return session{userID: login.User.ID, token: login.AccessToken}
}

func (g *gateway) as(s session) *resty.Request {
	return g.client.R().SetAuthToken(s.token)
}

func (g *gateway) dial(t *testing.T, path string, s session) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + path + "?token=" + s.token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(OutboundFrame) bool) OutboundFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var frame OutboundFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if match(frame) {
			return frame
		}
	}
}

// drainUntilClosed reads frames until the server closes conn and returns
// them with the read error. It fails if conn is still open after a while.
func drainUntilClosed(t *testing.T, conn *websocket.Conn) ([]OutboundFrame, error) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frames []OutboundFrame
	for {
		var frame OutboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				t.Fatalf("socket still open: %v", err)
			}
			return frames, err
		}
		frames = append(frames, frame)
	}
}

type messagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []*domain.Message `json:"messages"`
}

func TestGateway_ConversationOverREST(t *testing.T) {
	g := newGateway(t)
	u1 := g.signIn(t, "+15550000001", "Ann")
	u2 := g.signIn(t, "+15550000002", "Bob")

	var sent struct {
		ID             string `json:"id"`
		ConversationID string `json:"conversation_id"`
	}
	resp, err := g.as(u1).
		SetBody(map[string]string{"text": "hi"}).
		SetResult(&sent).
		Post("/api/v1/conversations/" + u2.userID + "/messages")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())

	var list messagesResponse
	resp, err = g.as(u2).SetResult(&list).Get("/api/v1/conversations/" + u1.userID + "/messages")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, sent.ConversationID, list.ConversationID)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, "hi", list.Messages[0].Payload.Text)
	assert.Equal(t, u1.userID, list.Messages[0].AuthorID)

	resp, err = g.as(u2).Delete("/api/v1/conversations/" + u1.userID + "/messages/" + sent.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())

	resp, err = g.as(u1).Delete("/api/v1/conversations/" + u2.userID + "/messages/" + sent.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode())

	list = messagesResponse{}
	resp, err = g.as(u1).SetResult(&list).Get("/api/v1/conversations/" + u2.userID + "/messages")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Empty(t, list.Messages)
}

func TestGateway_ErrorMapping(t *testing.T) {
	g := newGateway(t)
	u1 := g.signIn(t, "+15550000001", "Ann")

	resp, err := g.client.R().Get("/api/v1/users/me")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())

	var apiErr apperrors.APIError
	resp, err = g.as(u1).
		SetBody(map[string]string{"text": "   "}).
		SetError(&apiErr).
		Post("/api/v1/conversations/peer/messages")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Equal(t, apperrors.KindValidation, apiErr.Kind)

	g.store.SetReachable(false)
	apiErr = apperrors.APIError{}
	resp, err = g.as(u1).
		SetBody(map[string]string{"text": "hi"}).
		SetError(&apiErr).
		Post("/api/v1/conversations/peer/messages")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode())
	assert.Equal(t, apperrors.KindUnreachable, apiErr.Kind)

	resp, err = g.client.R().Get("/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode())
}

func TestGateway_ProfileAndContacts(t *testing.T) {
	g := newGateway(t)
	u1 := g.signIn(t, "+15550000001", "Ann")
	u2 := g.signIn(t, "+15550000002", "Bob")

	var found domain.Profile
	resp, err := g.as(u1).SetQueryParam("phone", "+15550000002").SetResult(&found).Get("/api/v1/users/lookup")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), resp.String())
	assert.Equal(t, u2.userID, found.ID)

	var me domain.Profile
	resp, err = g.as(u1).SetBody(map[string]string{"display_name": "Annie"}).SetResult(&me).Put("/api/v1/users/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode(), resp.String())
	assert.Equal(t, "Annie", me.DisplayName)

	resp, err = g.as(u1).SetBody(map[string]string{"presence": "online"}).Put("/api/v1/users/me/presence")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode())

	var other domain.Profile
	resp, err = g.as(u2).SetResult(&other).Get("/api/v1/users/" + u1.userID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, domain.PresenceOnline, other.Presence)

	resp, err = g.as(u1).SetBody(map[string]string{"friend_id": u2.userID}).Post("/api/v1/contacts")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())

	var contacts []*domain.Contact
	resp, err = g.as(u2).SetResult(&contacts).Get("/api/v1/contacts")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Len(t, contacts, 1)
	assert.Equal(t, u1.userID, contacts[0].FriendID)

	resp, err = g.as(u2).Delete("/api/v1/contacts/" + u1.userID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode())

	contacts = nil
	resp, err = g.as(u1).SetResult(&contacts).Get("/api/v1/contacts")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Len(t, contacts, 1, "removal is one-directional")
}

func TestGateway_MediaMessage(t *testing.T) {
	g := newGateway(t)
	u1 := g.signIn(t, "+15550000001", "Ann")
	u2 := g.signIn(t, "+15550000002", "Bob")

	var sent struct {
		ID    string          `json:"id"`
		Media domain.MediaRef `json:"media"`
	}
	resp, err := g.as(u1).
		SetFileReader("file", "pic.png", bytes.NewReader(pngBytes)).
		SetResult(&sent).
		Post("/api/v1/conversations/" + u2.userID + "/media")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())
	assert.Equal(t, domain.MediaKindImage, sent.Media.Kind)
	require.True(t, strings.HasPrefix(sent.Media.URL, "/media/"))

	served, err := g.client.R().Get(sent.Media.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, served.StatusCode())
	assert.Equal(t, pngBytes, served.Body())

	var me domain.Profile
	resp, err = g.as(u1).
		SetFileReader("file", "notes.txt", strings.NewReader("plain text")).
		SetResult(&me).
		Post("/api/v1/users/me/avatar")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
}

func TestGateway_ConversationSocket(t *testing.T) {
	g := newGateway(t)
	u1 := g.signIn(t, "+15550000001", "Ann")
	u2 := g.signIn(t, "+15550000002", "Bob")

	conn := g.dial(t, "/ws/conversations/"+u2.userID, u1)

	first := readUntil(t, conn, func(f OutboundFrame) bool { return f.Type == FrameSnapshot })
	assert.Empty(t, first.Snapshot.Messages)

	require.NoError(t, conn.WriteJSON(InboundFrame{Type: FrameSend, Text: "hello"}))
	snap := readUntil(t, conn, func(f OutboundFrame) bool {
		return f.Type == FrameSnapshot && len(f.Snapshot.Messages) == 1
	})
	assert.Equal(t, "hello", snap.Snapshot.Messages[0].Payload.Text)
	assert.Len(t, snap.Snapshot.Added, 1)

	g.monitor.Set(false)
	require.NoError(t, conn.WriteJSON(InboundFrame{Type: FrameSend, Text: "retry me"}))
	failed := readUntil(t, conn, func(f OutboundFrame) bool { return f.Type == FrameError })
	assert.Equal(t, apperrors.KindUnreachable, failed.Kind)
	assert.Equal(t, "retry me", failed.Draft)

	g.monitor.Set(true)
	require.NoError(t, conn.WriteJSON(InboundFrame{Type: FrameSend}))
	readUntil(t, conn, func(f OutboundFrame) bool { return f.Type == FrameSent })

	var list messagesResponse
	resp, err := g.as(u2).SetResult(&list).Get("/api/v1/conversations/" + u1.userID + "/messages")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	require.Len(t, list.Messages, 2)
	assert.Equal(t, "retry me", list.Messages[1].Payload.Text)
}

func TestGateway_CallSignaling(t *testing.T) {
	g := newGateway(t)
	caller := g.signIn(t, "+15550000001", "Ann")
	callee := g.signIn(t, "+15550000002", "Bob")

	incoming := g.dial(t, "/ws/incoming-calls", callee)
	readUntil(t, incoming, func(f OutboundFrame) bool { return f.Type == FrameIncoming })

	var call domain.Call
	resp, err := g.as(caller).
		SetBody(map[string]interface{}{
			"callee_id": callee.userID,
			"offer":     map[string]string{"type": "offer", "sdp": testSDP},
		}).
		SetResult(&call).
		Post("/api/v1/calls")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())
	assert.Equal(t, domain.CallStatusRinging, call.Status)

	ringing := readUntil(t, incoming, func(f OutboundFrame) bool { return f.Type == FrameIncoming && len(f.Calls) == 1 })
	assert.Equal(t, call.ID, ringing.Calls[0].ID)

	callerSocket := g.dial(t, "/ws/calls/"+call.ID, caller)
	readUntil(t, callerSocket, func(f OutboundFrame) bool { return f.Type == FrameCall })

	resp, err = g.as(callee).
		SetBody(map[string]interface{}{"answer": map[string]string{"type": "answer", "sdp": testSDP}}).
		Post("/api/v1/calls/" + call.ID + "/answer")
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode(), resp.String())

	active := readUntil(t, callerSocket, func(f OutboundFrame) bool {
		return f.Type == FrameCall && f.Call.Status == domain.CallStatusActive
	})
	require.NotNil(t, active.Call.Answer)

	resp, err = g.as(callee).
		SetBody(map[string]interface{}{"candidate": "candidate:1 1 udp 2122260223 192.168.1.2 54321 typ host"}).
		Post("/api/v1/calls/" + call.ID + "/candidates")
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode(), resp.String())

	candidates := readUntil(t, callerSocket, func(f OutboundFrame) bool {
		return f.Type == FrameCandidates && len(f.Candidates) == 1
	})
	assert.Equal(t, callee.userID, candidates.Candidates[0].FromID)

	resp, err = g.as(callee).Delete("/api/v1/calls/" + call.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode())

	readUntil(t, callerSocket, func(f OutboundFrame) bool { return f.Type == FrameEnded })

	resp, err = g.as(caller).Get("/api/v1/calls/" + call.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode())
}

func TestGateway_SignOut(t *testing.T) {
	g := newGateway(t)
	u1 := g.signIn(t, "+15550000001", "Ann")

	resp, err := g.as(u1).Post("/api/v1/auth/logout")
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode())

	resp, err = g.as(u1).Get("/api/v1/users/me")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
}

func TestGateway_SignOutClosesSockets(t *testing.T) {
	g := newGateway(t)
	u1 := g.signIn(t, "+15550000001", "Ann")
	u2 := g.signIn(t, "+15550000002", "Bob")

	conversation := g.dial(t, "/ws/conversations/"+u2.userID, u1)
	readUntil(t, conversation, func(f OutboundFrame) bool { return f.Type == FrameSnapshot })
	incoming := g.dial(t, "/ws/incoming-calls", u1)
	readUntil(t, incoming, func(f OutboundFrame) bool { return f.Type == FrameIncoming })
	contacts := g.dial(t, "/ws/contacts", u1)
	readUntil(t, contacts, func(f OutboundFrame) bool { return f.Type == FrameContacts })

	resp, err := g.as(u1).Post("/api/v1/auth/logout")
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode())

	// The write may fail once the server side is gone.
	_ = conversation.WriteJSON(InboundFrame{Type: FrameSend, Text: "after sign out"})
	frames, _ := drainUntilClosed(t, conversation)
	for _, f := range frames {
		assert.NotEqual(t, FrameSent, f.Type)
	}

	_, err = drainUntilClosed(t, incoming)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	_, err = drainUntilClosed(t, contacts)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	var list messagesResponse
	resp, err = g.as(u2).SetResult(&list).Get("/api/v1/conversations/" + u1.userID + "/messages")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Empty(t, list.Messages)

	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws/conversations/" + u2.userID + "?token=" + u1.token
	_, dialResp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, dialResp)
	_ = dialResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, dialResp.StatusCode)
}

func TestGateway_SignOutLeavesOtherUsersSockets(t *testing.T) {
	g := newGateway(t)
	u1 := g.signIn(t, "+15550000001", "Ann")
	u2 := g.signIn(t, "+15550000002", "Bob")

	conn := g.dial(t, "/ws/conversations/"+u1.userID, u2)
	readUntil(t, conn, func(f OutboundFrame) bool { return f.Type == FrameSnapshot })

	resp, err := g.as(u1).Post("/api/v1/auth/logout")
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode())

	require.NoError(t, conn.WriteJSON(InboundFrame{Type: FrameSend, Text: "still here"}))
	readUntil(t, conn, func(f OutboundFrame) bool { return f.Type == FrameSent })
}

func TestGateway_ContactsSocket(t *testing.T) {
	g := newGateway(t)
	u1 := g.signIn(t, "+15550000001", "Ann")
	u2 := g.signIn(t, "+15550000002", "Bob")

	conn := g.dial(t, "/ws/contacts", u1)
	first := readUntil(t, conn, func(f OutboundFrame) bool { return f.Type == FrameContacts })
	assert.Empty(t, first.Contacts)

	resp, err := g.as(u2).SetBody(map[string]string{"friend_id": u1.userID}).Post("/api/v1/contacts")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())

	added := readUntil(t, conn, func(f OutboundFrame) bool { return f.Type == FrameContacts && len(f.Contacts) == 1 })
	assert.Equal(t, u2.userID, added.Contacts[0].FriendID)
	assert.Equal(t, "Bob", added.Contacts[0].FriendName)

	resp, err = g.as(u1).Delete("/api/v1/contacts/" + u2.userID)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode())

	readUntil(t, conn, func(f OutboundFrame) bool { return f.Type == FrameContacts && len(f.Contacts) == 0 })
}

func TestGateway_PhoneCodeRateLimit(t *testing.T) {
	g := newGateway(t)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		resp, err := g.client.R().
			SetBody(map[string]string{"phone": "+15550000009"}).
			Post("/api/v1/auth/phone/code")
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode())
	}
	assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	g := newGateway(t)

	resp, err := g.client.R().Get("/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	resp, err = g.client.R().Get("/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Contains(t, resp.String(), "chat_http_requests_total")
}
