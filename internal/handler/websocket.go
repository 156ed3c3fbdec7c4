package handler

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"realtime_chat/internal/config"
	"realtime_chat/internal/connectivity"
	"realtime_chat/internal/domain"
	"realtime_chat/internal/metrics"
	"realtime_chat/internal/middleware"
	"realtime_chat/internal/service"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// Frame types.
const (
	FrameSnapshot   = "snapshot"
	FrameSent       = "sent"
	FrameError      = "error"
	FrameDraft      = "draft"
	FrameSend       = "send"
	FrameCall       = domain.SignalTypeCall
	FrameCandidates = domain.SignalTypeCandidates
	FrameEnded      = domain.SignalTypeEnded
	FrameIncoming   = "incoming"
	FrameContacts   = "contacts"
)

// InboundFrame is what clients send on a conversation socket.
type InboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// OutboundFrame is what the server pushes on every socket.
type OutboundFrame struct {
	Type       string                  `json:"type"`
	Snapshot   *domain.Snapshot        `json:"snapshot,omitempty"`
	MessageID  string                  `json:"message_id,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Kind       apperrors.Kind          `json:"kind,omitempty"`
	Draft      string                  `json:"draft,omitempty"`
	Call       *domain.Call            `json:"call,omitempty"`
	Calls      []*domain.Call          `json:"calls,omitempty"`
	Candidates []*domain.CallCandidate `json:"candidates,omitempty"`
	Contacts   []*domain.Contact       `json:"contacts,omitempty"`
}

type WebSocketHandler struct {
	authService     service.AuthService
	chatService     service.ChatService
	contactService  service.ContactService
	presenceService service.PresenceService
	callService     service.CallService
	monitor         *connectivity.Monitor
	upgrader        websocket.Upgrader
	wsRate          rate.Limit
	wsBurst         int
	readLimit       int64
	log             logger.Logger
}

func NewWebSocketHandler(
	authService service.AuthService,
	chatService service.ChatService,
	contactService service.ContactService,
	presenceService service.PresenceService,
	callService service.CallService,
	monitor *connectivity.Monitor,
	cfg *config.Config,
	log logger.Logger,
) *WebSocketHandler {
	origins := cfg.Server.AllowedOrigins
	return &WebSocketHandler{
		authService:     authService,
		chatService:     chatService,
		contactService:  contactService,
		presenceService: presenceService,
		callService:     callService,
		monitor:         monitor,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(origins, r.Header.Get("Origin"))
			},
		},
		wsRate:  rate.Limit(cfg.Chat.WSRate),
		wsBurst: cfg.Chat.WSBurst,
		// Four bytes per rune plus framing.
		readLimit: int64(cfg.Chat.MaxMessageLength)*4 + 1024,
		log:       log,
	}
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	log  logger.Logger
}

func (w *wsConn) send(frame OutboundFrame) {
	w.mu.Lock()
	defer w.mu.Unlock()

	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := w.conn.WriteJSON(frame); err != nil {
		w.log.Debug("Failed to write frame", "error", err, "type", frame.Type)
	}
}

func (w *wsConn) sendError(err error, draft string) {
	apiErr := apperrors.FromError(err)
	w.send(OutboundFrame{Type: FrameError, Error: apiErr.Message, Kind: apiErr.Kind, Draft: draft})
}

// closeWith sends a close frame and drops the connection, which ends any
// pending read.
func (w *wsConn) closeWith(code int, reason string) {
	w.mu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsWriteWait))
	w.mu.Unlock()
	_ = w.conn.Close()
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// keepAlive pings until done closes.
func (w *wsConn) keepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := w.ping(); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) upgrade(c *gin.Context, endpoint string) (*wsConn, func(), bool) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "error", err, "endpoint", endpoint)
		return nil, nil, false
	}

	conn.SetReadLimit(h.readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	gauge := metrics.WebSocketConnections.WithLabelValues(endpoint)
	gauge.Inc()

	ws := &wsConn{conn: conn, log: h.log}
	done := make(chan struct{})
	go ws.keepAlive(done)

	return ws, func() {
		close(done)
		gauge.Dec()
		_ = conn.Close()
	}, true
}

// closeOnSignOut closes ws as soon as userID signs out. The returned channel
// is closed at that moment; the returned func unregisters the listener.
func (h *WebSocketHandler) closeOnSignOut(ws *wsConn, userID string) (<-chan struct{}, func()) {
	signedOut := make(chan struct{})
	var once sync.Once
	unregister := h.authService.OnAuthStateChange(func(state domain.AuthState) {
		if state.Event != domain.AuthEventSignedOut || state.UserID != userID {
			return
		}
		once.Do(func() {
			close(signedOut)
			h.log.Info("Closing socket after sign out", "user_id", userID)
			ws.closeWith(websocket.ClosePolicyViolation, "signed out")
		})
	})
	return signedOut, unregister
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// HandleConversation streams snapshots of the conversation with :peerId and
// accepts draft and send frames. A failed send is answered with an error
// frame that carries the unsent draft.
func (h *WebSocketHandler) HandleConversation(c *gin.Context) {
	userID := middleware.UserID(c)
	conversationID, err := h.chatService.ConversationID(userID, c.Param("peerId"))
	if err != nil {
		fail(c, err)
		return
	}

	ws, closeConn, ok := h.upgrade(c, "conversation")
	if !ok {
		return
	}
	defer closeConn()

	signedOut, unregister := h.closeOnSignOut(ws, userID)
	defer unregister()

	ctx := c.Request.Context()
	stopPresence := h.presenceService.Track(ctx, userID, h.monitor)
	defer stopPresence()

	sub, err := h.chatService.Subscribe(conversationID,
		func(snap *domain.Snapshot) {
			ws.send(OutboundFrame{Type: FrameSnapshot, Snapshot: snap})
		},
		func(err error) {
			ws.sendError(err, "")
		},
	)
	if err != nil {
		ws.sendError(err, "")
		return
	}
	defer sub.Cancel()

	h.log.Info("Conversation socket opened", "user_id", userID, "conversation_id", conversationID)
	defer h.log.Info("Conversation socket closed", "user_id", userID, "conversation_id", conversationID)

	composer := service.NewComposer(h.chatService, conversationID, userID)
	limiter := rate.NewLimiter(h.wsRate, h.wsBurst)

	for {
		var in InboundFrame
		if err := ws.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Conversation socket read failed", "error", err, "user_id", userID)
			}
			return
		}

		switch in.Type {
		case FrameDraft:
			composer.SetInput(in.Text)

		case FrameSend:
			if isClosed(signedOut) {
				return
			}
			if in.Text != "" {
				composer.SetInput(in.Text)
			}
			if !limiter.Allow() {
				ws.sendError(fmt.Errorf("%w: slow down", apperrors.ErrRateLimited), composer.Input())
				continue
			}
			id, err := composer.Send(ctx)
			if err != nil {
				ws.sendError(err, composer.Input())
				continue
			}
			ws.send(OutboundFrame{Type: FrameSent, MessageID: id})

		default:
			ws.sendError(fmt.Errorf("%w: unknown frame type %q", apperrors.ErrValidation, in.Type), "")
		}
	}
}

// HandleCall streams the call document and the peer's ICE candidates until
// the call is hung up or the socket closes.
func (h *WebSocketHandler) HandleCall(c *gin.Context) {
	userID := middleware.UserID(c)
	callID := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.callService.GetCall(ctx, callID, userID); err != nil {
		fail(c, err)
		return
	}

	ws, closeConn, ok := h.upgrade(c, "call")
	if !ok {
		return
	}
	defer closeConn()

	_, unregister := h.closeOnSignOut(ws, userID)
	defer unregister()

	ended := make(chan struct{})
	var endOnce sync.Once

	callSub, err := h.callService.WatchCall(callID,
		func(call *domain.Call) {
			if call == nil {
				ws.send(OutboundFrame{Type: FrameEnded})
				endOnce.Do(func() { close(ended) })
				return
			}
			ws.send(OutboundFrame{Type: FrameCall, Call: call})
		},
		func(err error) { ws.sendError(err, "") },
	)
	if err != nil {
		ws.sendError(err, "")
		return
	}
	defer callSub.Cancel()

	candidateSub, err := h.callService.WatchCandidates(ctx, callID, userID,
		func(candidates []*domain.CallCandidate) {
			ws.send(OutboundFrame{Type: FrameCandidates, Candidates: candidates})
		},
		func(err error) { ws.sendError(err, "") },
	)
	if err != nil {
		ws.sendError(err, "")
		return
	}
	defer candidateSub.Cancel()

	h.waitForClose(ws, ended)
}

// HandleIncoming streams ringing calls addressed to the caller.
func (h *WebSocketHandler) HandleIncoming(c *gin.Context) {
	userID := middleware.UserID(c)

	ws, closeConn, ok := h.upgrade(c, "incoming")
	if !ok {
		return
	}
	defer closeConn()

	_, unregister := h.closeOnSignOut(ws, userID)
	defer unregister()

	sub, err := h.callService.WatchIncoming(userID,
		func(calls []*domain.Call) {
			ws.send(OutboundFrame{Type: FrameIncoming, Calls: calls})
		},
		func(err error) { ws.sendError(err, "") },
	)
	if err != nil {
		ws.sendError(err, "")
		return
	}
	defer sub.Cancel()

	h.waitForClose(ws, nil)
}

// HandleContacts streams the caller's contact list, one frame per change.
func (h *WebSocketHandler) HandleContacts(c *gin.Context) {
	userID := middleware.UserID(c)

	ws, closeConn, ok := h.upgrade(c, "contacts")
	if !ok {
		return
	}
	defer closeConn()

	_, unregister := h.closeOnSignOut(ws, userID)
	defer unregister()

	sub, err := h.contactService.WatchFriends(userID,
		func(contacts []*domain.Contact) {
			ws.send(OutboundFrame{Type: FrameContacts, Contacts: contacts})
		},
		func(err error) { ws.sendError(err, "") },
	)
	if err != nil {
		ws.sendError(err, "")
		return
	}
	defer sub.Cancel()

	h.waitForClose(ws, nil)
}

// waitForClose drains client frames until the socket closes or done fires.
// Signaling sockets are push only.
func (h *WebSocketHandler) waitForClose(ws *wsConn, done <-chan struct{}) {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.conn.NextReader(); err != nil {
				return
			}
		}
	}()

	select {
	case <-closed:
	case <-done:
		ws.closeWith(websocket.CloseNormalClosure, "call ended")
	}
}
