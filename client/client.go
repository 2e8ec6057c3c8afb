// Package client is the Go client of the chat relay: REST for rooms and
// history, websocket for live delivery. It tracks the highest sequence seen
// per room so a reconnect can catch up without gaps or duplicates.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

type Room struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

type Message struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"room_id"`
	SenderID string    `json:"sender_id"`
	Content  string    `json:"content"`
	Lang     string    `json:"lang,omitempty"`
	Sequence uint64    `json:"sequence"`
	SentAt   time.Time `json:"sent_at"`
}

// Frame is one server push: a live message, a join confirmation, or an error.
type Frame struct {
	Type    string   `json:"type"`
	UserID  string   `json:"user_id,omitempty"`
	RoomID  string   `json:"room_id,omitempty"`
	Members int      `json:"members,omitempty"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type outboundFrame struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	RoomID  string `json:"room_id,omitempty"`
	Content string `json:"content,omitempty"`
}

type Client struct {
	log     *slog.Logger
	baseURL string
	token   string
	http    *http.Client

	connMu sync.Mutex
	conn   *websocket.Conn
	events chan Frame

	seqMu   sync.Mutex
	lastSeq map[string]uint64
}

func New(baseURL, token string, log *slog.Logger) *Client {
	return &Client{
		log:     log,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		events:  make(chan Frame, 64),
		lastSeq: make(map[string]uint64),
	}
}

// Events delivers the frames received over the live connection. The channel
// closes when Run returns.
func (c *Client) Events() <-chan Frame {
	return c.events
}

// LastSequence returns the highest sequence seen for the room, from live
// frames and history fetches alike.
func (c *Client) LastSequence(roomID string) uint64 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	return c.lastSeq[roomID]
}

func (c *Client) observe(msg *Message) {
	if msg == nil {
		return
	}
	c.seqMu.Lock()
	if msg.Sequence > c.lastSeq[msg.RoomID] {
		c.lastSeq[msg.RoomID] = msg.Sequence
	}
	c.seqMu.Unlock()
}

// OpenChat resolves the one-to-one room with another user.
func (c *Client) OpenChat(ctx context.Context, otherUserID string) (Room, error) {
	var room Room
	err := c.rest(ctx, http.MethodPost, "/chats/"+otherUserID, nil, &room)
	return room, err
}

// History pages backward; beforeSeq 0 starts from the latest message.
func (c *Client) History(ctx context.Context, roomID string, beforeSeq uint64, limit int) ([]Message, error) {
	path := fmt.Sprintf("/chats/%s/messages?limit=%d", roomID, limit)
	if beforeSeq > 0 {
		path += fmt.Sprintf("&before=%d", beforeSeq)
	}
	return c.fetchMessages(ctx, path)
}

// CatchUp fetches everything the client missed since the last sequence it
// saw for the room. Called after Connect to close the reconnect gap.
func (c *Client) CatchUp(ctx context.Context, roomID string, limit int) ([]Message, error) {
	path := fmt.Sprintf("/chats/%s/messages?after=%d&limit=%d",
		roomID, c.LastSequence(roomID), limit)
	return c.fetchMessages(ctx, path)
}

func (c *Client) fetchMessages(ctx context.Context, path string) ([]Message, error) {
	var page struct {
		Messages []Message `json:"messages"`
	}
	if err := c.rest(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	for i := range page.Messages {
		c.observe(&page.Messages[i])
	}
	return page.Messages, nil
}

func (c *Client) rest(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, failure.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Connect dials the websocket endpoint and authenticates with the first
// frame. It returns once the server confirmed the session.
func (c *Client) Connect(ctx context.Context) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err := conn.WriteJSON(outboundFrame{Type: "auth", Token: c.token}); err != nil {
		_ = conn.Close()
		return err
	}

	var ready Frame
	if err := conn.ReadJSON(&ready); err != nil {
		_ = conn.Close()
		return err
	}
	if ready.Type != "ready" {
		_ = conn.Close()
		return fmt.Errorf("authentication rejected: %s", ready.Error)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.log.Debug("Live connection established", "user_id", ready.UserID)
	return nil
}

// Run pumps server frames into Events until the connection drops or ctx is
// canceled. It closes the events channel on return.
func (c *Client) Run(ctx context.Context) error {
	conn := c.current()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	defer close(c.events)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.observe(frame.Message)

		select {
		case c.events <- frame:
		default:
			c.log.Warn("Event buffer full, frame dropped", "type", frame.Type)
		}
	}
}

// Join subscribes to a room's live updates; the confirmation arrives as a
// "joined" frame on Events.
func (c *Client) Join(roomID string) error {
	return c.writeFrame(outboundFrame{Type: "join", RoomID: roomID})
}

func (c *Client) Leave(roomID string) error {
	return c.writeFrame(outboundFrame{Type: "leave", RoomID: roomID})
}

// Send submits a message over the live connection. The acknowledgment, with
// the assigned sequence, arrives as an "ack" frame on Events.
func (c *Client) Send(roomID, content string) error {
	return c.writeFrame(outboundFrame{Type: "send", RoomID: roomID, Content: content})
}

func (c *Client) writeFrame(frame outboundFrame) error {
	conn := c.current()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return conn.WriteJSON(frame)
}

func (c *Client) current() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Client) Close() {
	if conn := c.current(); conn != nil {
		_ = conn.Close()
	}
}
