package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/sink"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientFrame is the envelope for all frames a client may send.
type clientFrame struct {
	Type    string        `json:"type"`
	Token   string        `json:"token,omitempty"`
	RoomID  domain.RoomID `json:"room_id,omitempty"`
	Content string        `json:"content,omitempty"`
}

type serverFrame struct {
	Type    string           `json:"type"`
	UserID  domain.UserID    `json:"user_id,omitempty"`
	RoomID  domain.RoomID    `json:"room_id,omitempty"`
	Members int              `json:"members,omitempty"`
	Message *messageResponse `json:"message,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// wsConn serializes writes to one websocket connection. Gorilla allows a
// single concurrent writer; both the delivery sink and the read loop's
// replies funnel through writeFrame.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) writeFrame(frame serverFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// handleWebsocket upgrades the connection and requires an auth frame before
// anything else. A connection that stays silent past the auth timeout is
// dropped without ever touching the registry.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Websocket upgrade failed", "error", err)
		return
	}
	ws := &wsConn{conn: rawConn}

	userID, err := s.awaitAuth(r, ws)
	if err != nil {
		_ = ws.writeFrame(serverFrame{Type: "error", Error: "not authenticated"})
		_ = rawConn.Close()
		return
	}
	_ = rawConn.SetReadDeadline(time.Time{})

	session := domain.SessionFor(userID)
	connSink := sink.NewBuffered(s.log, s.wsBufferSize, func(e event.DomainEvent) error {
		appended, ok := e.(event.MessageAppended)
		if !ok {
			return nil
		}
		msg := toMessageResponse(appended.Message)
		return ws.writeFrame(serverFrame{Type: "message", RoomID: msg.Room, Message: &msg})
	})

	s.service.Connect(session, connSink)
	s.log.Info("Websocket session opened", "session_id", session.ID)

	// A dead or superseded sink must unblock the read loop below.
	go func() {
		<-connSink.Done()
		_ = rawConn.Close()
	}()

	_ = ws.writeFrame(serverFrame{Type: "ready", UserID: userID})
	s.readLoop(r, ws, session)

	connSink.Close()
	s.service.Disconnect(session, connSink)
	_ = rawConn.Close()
	s.log.Info("Websocket session closed", "session_id", session.ID)
}

func (s *Server) awaitAuth(r *http.Request, ws *wsConn) (domain.UserID, error) {
	if err := ws.conn.SetReadDeadline(time.Now().Add(s.authTimeout)); err != nil {
		return "", err
	}

	_, payload, err := ws.conn.ReadMessage()
	if err != nil {
		return "", err
	}

	var frame clientFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return "", errors.ErrNotAuthenticated
	}
	if frame.Type != "auth" || frame.Token == "" {
		return "", errors.ErrNotAuthenticated
	}
	return s.identity.Authenticate(r.Context(), frame.Token)
}

func (s *Server) readLoop(r *http.Request, ws *wsConn, session domain.Session) {
	ctx := auth.WithUser(r.Context(), session.UserID)

	for {
		_, payload, err := ws.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			_ = ws.writeFrame(serverFrame{Type: "error", Error: "malformed frame"})
			continue
		}

		switch frame.Type {
		case "join":
			members, err := s.service.Join(ctx, session, frame.RoomID)
			if err != nil {
				_ = ws.writeFrame(serverFrame{Type: "error", RoomID: frame.RoomID, Error: err.Error()})
				continue
			}
			_ = ws.writeFrame(serverFrame{Type: "joined", RoomID: frame.RoomID, Members: members})

		case "leave":
			s.service.Leave(session.ID, frame.RoomID)
			_ = ws.writeFrame(serverFrame{Type: "left", RoomID: frame.RoomID})

		case "send":
			msg, err := s.service.SendMessage(ctx, session.UserID, frame.RoomID, frame.Content)
			if err != nil {
				_ = ws.writeFrame(serverFrame{Type: "error", RoomID: frame.RoomID, Error: err.Error()})
				continue
			}
			ack := toMessageResponse(msg)
			_ = ws.writeFrame(serverFrame{Type: "ack", RoomID: frame.RoomID, Message: &ack})

		default:
			_ = ws.writeFrame(serverFrame{Type: "error", Error: "unknown frame type"})
		}
	}
}
