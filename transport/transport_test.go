package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/blocksettledb/bdv-server/bdvsession"
	"github.com/blocksettledb/bdv-server/logs"
	"github.com/blocksettledb/bdv-server/notify"
	"github.com/btcsuite/websocket"
)

var upgrader = websocket.Upgrader{}

func newPipe(t *testing.T, onMessage func(bdvsession.Message)) (*Conn, *websocket.Conn) {
	t.Helper()

	backend := logs.NewBackend(nil)
	log := backend.Logger("TRSP")
	log.SetLevel(logs.LevelOff)

	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-serverConns
	c := New(serverConn, log, onMessage)
	t.Cleanup(c.Close)
	return c, clientConn
}

func TestSendReplyReachesClient(t *testing.T) {
	c, client := newPipe(t, func(bdvsession.Message) {})

	c.SendReply(bdvsession.Reply{MessageID: 7, Payload: []byte("ok")})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	msg, err := decodeFrame(raw)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if msg.ID != 7 || string(msg.Payload) != "ok" {
		t.Fatalf("unexpected frame: %+v", msg)
	}
	if raw[0] != kindReply {
		t.Fatalf("expected kindReply frame, got %d", raw[0])
	}
}

func TestSendNotifyEncodesEventAsJSON(t *testing.T) {
	c, client := newPipe(t, func(bdvsession.Message) {})

	c.SendNotify(notify.Event{Kind: notify.KindReady})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if raw[0] != kindNotify {
		t.Fatalf("expected kindNotify frame, got %d", raw[0])
	}
}

func TestInHandlerDecodesClientFrames(t *testing.T) {
	received := make(chan bdvsession.Message, 1)
	_, client := newPipe(t, func(msg bdvsession.Message) {
		received <- msg
	})

	frame := encodeFrame(kindReply, bdvsession.Message{ID: 42, PacketCount: 1, Payload: []byte("hi")})
	if err := client.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	select {
	case msg := <-received:
		if msg.ID != 42 || string(msg.Payload) != "hi" {
			t.Fatalf("unexpected decoded message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for inHandler to decode frame")
	}
}

func TestCloseStopsPumpsIdempotently(t *testing.T) {
	c, _ := newPipe(t, func(bdvsession.Message) {})
	c.Close()
	c.Close()
}
