package server

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/search"
	"chat-relay/services"
	"chat-relay/social"
)

var testSecret = []byte("server_test_secret_key_000000001")

type testEnv struct {
	http *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	req := require.New(t)
	log := slog.Default()

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	req.NoError(err)
	t.Cleanup(func() { _ = blugeWriter.Close() })

	moderator, err := moderation.NewModerator([]string{"scammer"}, '*', log)
	req.NoError(err)

	metrics := observability.NewMetrics()
	messages := repositories.NewMessageRepository(db, log)
	rooms := repositories.NewRoomRepository(db, log)
	registry := runtime.NewRegistry(log, metrics)
	index := search.NewIndex(blugeWriter, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// The deliverer reads membership from the manager and the manager's spawn
	// closure needs the deliverer; the closure captures the variable, which is
	// set before any worker can be spawned.
	var deliverer *runtime.Deliverer
	spawn := func(room domain.RoomID, commands chan domain.Command) {
		worker := workers.NewRoomWorker(room, commands, messages, deliverer,
			&moderator, metrics, log, time.Second)
		go func() { _ = worker.Run(ctx) }()
	}
	manager := runtime.NewManager(log, rooms, metrics, spawn, 64, index)
	deliverer = runtime.NewDeliverer(log, manager, registry, index)

	service := services.NewChatService(log, manager, messages, registry,
		social.AllowAll{}, index, 2*time.Second)
	server := NewServer(log, service, auth.NewVerifier(testSecret), metrics,
		64, 500*time.Millisecond)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return &testEnv{http: ts}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateToken(testSecret, userID, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	req := require.New(t)

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		req.NoError(err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	r, err := http.NewRequest(method, e.http.URL+path, reader)
	req.NoError(err)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	r.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Client().Do(r)
	req.NoError(err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	req.NoError(err)
	return resp, buf.Bytes()
}

func (e *testEnv) openChat(t *testing.T, token, other string) roomResponse {
	t.Helper()
	resp, body := e.request(t, http.MethodPost, "/chats/"+other, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var room roomResponse
	require.NoError(t, json.Unmarshal(body, &room))
	return room
}

func TestServer_OpenChat_Is_Deterministic(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	// When both sides open the same conversation
	roomFromAlice := env.openChat(t, env.token(t, "alice"), "bob")
	roomFromBob := env.openChat(t, env.token(t, "bob"), "alice")

	// Then they land in the same room
	req.Equal(roomFromAlice.ID, roomFromBob.ID)
	req.ElementsMatch([]domain.UserID{"alice", "bob"}, roomFromAlice.Participants)
}

func TestServer_OpenChat_Implicitly_Joins_The_Caller(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	// Given alice connected, never sending a join frame
	alice := dialWS(t, env, "alice")
	room := env.openChat(t, env.token(t, "alice"), "bob")

	bob := dialWS(t, env, "bob")
	req.NoError(bob.WriteJSON(clientFrame{Type: "join", RoomID: room.ID}))
	req.Equal("joined", readFrame(t, bob).Type)

	// When bob sends into the room
	req.NoError(bob.WriteJSON(clientFrame{Type: "send", RoomID: room.ID, Content: "hi alice"}))

	// Then alice receives it: opening the chat joined her already
	delivered := readFrame(t, alice)
	req.Equal("message", delivered.Type)
	req.NotNil(delivered.Message)
	req.Equal("hi alice", delivered.Message.Content)
	req.Equal(domain.UserID("bob"), delivered.Message.Sender)
}

func TestServer_Send_And_Page_History(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	aliceToken := env.token(t, "alice")
	room := env.openChat(t, aliceToken, "bob")

	// Given ten sent messages
	for i := 1; i <= 10; i++ {
		resp, body := env.request(t, http.MethodPost,
			fmt.Sprintf("/chats/%s/messages", room.ID), aliceToken,
			sendRequest{Content: fmt.Sprintf("message %d", i)})
		req.Equal(http.StatusCreated, resp.StatusCode, string(body))

		var msg messageResponse
		req.NoError(json.Unmarshal(body, &msg))
		req.Equal(uint64(i), msg.Sequence)
	}

	// When fetching the latest page of four
	resp, body := env.request(t, http.MethodGet,
		fmt.Sprintf("/chats/%s/messages?limit=4", room.ID), aliceToken, nil)
	req.Equal(http.StatusOK, resp.StatusCode)

	var page struct {
		Messages []messageResponse `json:"messages"`
	}
	req.NoError(json.Unmarshal(body, &page))
	req.Len(page.Messages, 4)
	req.Equal(uint64(7), page.Messages[0].Sequence)
	req.Equal(uint64(10), page.Messages[3].Sequence)

	// And paging backward from the page's oldest message
	resp, body = env.request(t, http.MethodGet,
		fmt.Sprintf("/chats/%s/messages?before=%d&limit=4", room.ID, page.Messages[0].Sequence),
		aliceToken, nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.NoError(json.Unmarshal(body, &page))
	req.Equal(uint64(3), page.Messages[0].Sequence)
	req.Equal(uint64(6), page.Messages[3].Sequence)

	// And catch-up after sequence 8 returns only 9 and 10
	resp, body = env.request(t, http.MethodGet,
		fmt.Sprintf("/chats/%s/messages?after=8", room.ID), aliceToken, nil)
	req.Equal(http.StatusOK, resp.StatusCode)
	req.NoError(json.Unmarshal(body, &page))
	req.Len(page.Messages, 2)
	req.Equal(uint64(9), page.Messages[0].Sequence)
}

func TestServer_Rejects_Outsiders(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	room := env.openChat(t, env.token(t, "alice"), "bob")

	// No token at all
	resp, _ := env.request(t, http.MethodGet,
		fmt.Sprintf("/chats/%s/messages", room.ID), "", nil)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	// A valid token for a user outside the room
	resp, _ = env.request(t, http.MethodGet,
		fmt.Sprintf("/chats/%s/messages", room.ID), env.token(t, "mallory"), nil)
	req.Equal(http.StatusForbidden, resp.StatusCode)

	// Sending into an unknown room
	resp, _ = env.request(t, http.MethodPost,
		"/chats/no-such-room/messages", env.token(t, "alice"),
		sendRequest{Content: "hello"})
	req.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestServer_Search_Within_Room(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	aliceToken := env.token(t, "alice")
	room := env.openChat(t, aliceToken, "bob")

	resp, body := env.request(t, http.MethodPost,
		fmt.Sprintf("/chats/%s/messages", room.ID), aliceToken,
		sendRequest{Content: "let us discuss the quarterly report"})
	req.Equal(http.StatusCreated, resp.StatusCode, string(body))

	resp, body = env.request(t, http.MethodGet,
		fmt.Sprintf("/chats/%s/search?q=quarterly", room.ID), aliceToken, nil)
	req.Equal(http.StatusOK, resp.StatusCode)

	var result struct {
		Hits []search.Hit `json:"hits"`
	}
	req.NoError(json.Unmarshal(body, &result))
	req.Len(result.Hits, 1)
	req.Contains(result.Hits[0].Content, "quarterly")
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func dialWS(t *testing.T, env *testEnv, userID string) *websocket.Conn {
	t.Helper()
	req := require.New(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.http.URL), nil)
	req.NoError(err)
	t.Cleanup(func() { _ = conn.Close() })

	req.NoError(conn.WriteJSON(clientFrame{Type: "auth", Token: env.token(t, userID)}))

	var ready serverFrame
	req.NoError(conn.ReadJSON(&ready))
	req.Equal("ready", ready.Type)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame serverFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestServer_Websocket_Live_Delivery(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	room := env.openChat(t, env.token(t, "alice"), "bob")

	alice := dialWS(t, env, "alice")
	bob := dialWS(t, env, "bob")

	// Given both sessions joined the room
	req.NoError(alice.WriteJSON(clientFrame{Type: "join", RoomID: room.ID}))
	req.Equal("joined", readFrame(t, alice).Type)
	req.NoError(bob.WriteJSON(clientFrame{Type: "join", RoomID: room.ID}))
	joined := readFrame(t, bob)
	req.Equal("joined", joined.Type)
	req.Equal(2, joined.Members)

	// When alice sends over the socket
	req.NoError(alice.WriteJSON(clientFrame{Type: "send", RoomID: room.ID, Content: "hello bob"}))

	// Then alice gets her acknowledgment plus her own fan-out copy, in
	// whichever order the two writer paths raced
	frames := map[string]serverFrame{}
	for range 2 {
		frame := readFrame(t, alice)
		frames[frame.Type] = frame
	}
	req.Contains(frames, "ack")
	req.Contains(frames, "message")
	req.Equal(uint64(1), frames["ack"].Message.Sequence)

	// And bob receives the live message
	delivered := readFrame(t, bob)
	req.Equal("message", delivered.Type)
	req.NotNil(delivered.Message)
	req.Equal("hello bob", delivered.Message.Content)
	req.Equal(domain.UserID("alice"), delivered.Message.Sender)
}

func TestServer_Websocket_Censors_Content(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	room := env.openChat(t, env.token(t, "alice"), "bob")

	alice := dialWS(t, env, "alice")
	req.NoError(alice.WriteJSON(clientFrame{Type: "join", RoomID: room.ID}))
	req.Equal("joined", readFrame(t, alice).Type)

	// When a message includes a forbidden word
	req.NoError(alice.WriteJSON(clientFrame{Type: "send", RoomID: room.ID, Content: "what a scammer"}))

	// Then both the acknowledgment and the fan-out copy carry the
	// censored content
	for range 2 {
		frame := readFrame(t, alice)
		req.NotNil(frame.Message)
		req.Equal("what a *******", frame.Message.Content)
	}
}

func TestServer_Websocket_Requires_Auth_Frame(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.http.URL), nil)
	req.NoError(err)
	defer conn.Close()

	// When the first frame is not an auth frame
	req.NoError(conn.WriteJSON(clientFrame{Type: "join", RoomID: "whatever"}))

	frame := readFrame(t, conn)
	req.Equal("error", frame.Type)

	// Then the server closes the connection
	req.NoError(conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	req.Error(err)
}

func TestServer_Websocket_New_Login_Supersedes_Old(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t)
	room := env.openChat(t, env.token(t, "alice"), "bob")

	first := dialWS(t, env, "bob")
	req.NoError(first.WriteJSON(clientFrame{Type: "join", RoomID: room.ID}))
	req.Equal("joined", readFrame(t, first).Type)

	// When bob logs in again from elsewhere
	second := dialWS(t, env, "bob")
	req.NoError(second.WriteJSON(clientFrame{Type: "join", RoomID: room.ID}))
	req.Equal("joined", readFrame(t, second).Type)

	// Then the first connection is closed by the server
	req.NoError(first.SetReadDeadline(time.Now().Add(2 * time.Second)))
	for {
		_, _, err := first.ReadMessage()
		if err != nil {
			break
		}
	}

	// And only the second connection receives new messages. Alice was
	// joined by her openChat call, so she gets her own fan-out copy next
	// to the acknowledgment, in whichever order the writer paths raced.
	alice := dialWS(t, env, "alice")
	req.NoError(alice.WriteJSON(clientFrame{Type: "send", RoomID: room.ID, Content: "anyone there?"}))
	aliceFrames := map[string]serverFrame{}
	for range 2 {
		frame := readFrame(t, alice)
		aliceFrames[frame.Type] = frame
	}
	req.Contains(aliceFrames, "ack")

	delivered := readFrame(t, second)
	req.Equal("message", delivered.Type)
	req.Equal("anyone there?", delivered.Message.Content)
}
