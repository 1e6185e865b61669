// Package transport wraps a single BDV client's websocket connection:
// an inHandler goroutine decoding frames into bdvsession.Message, and
// an outHandler goroutine serializing replies/notifications onto the
// wire, mirroring the teacher's wsClient inHandler/outHandler split
// (infrastructure/network/rpc/rpcwebsocket.go).
package transport

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"sync"

	"github.com/blocksettledb/bdv-server/bdvsession"
	"github.com/blocksettledb/bdv-server/logs"
	"github.com/blocksettledb/bdv-server/notify"
	"github.com/btcsuite/websocket"
	"github.com/pkg/errors"
)

// frame kinds distinguish a command reply from an out-of-band
// notification on the wire; both share the same packet/reassembly
// header so large payloads of either kind can be split.
const (
	kindReply byte = iota
	kindNotify
)

// frameHeaderSize is the fixed prefix before a frame's payload:
// kind(1) + msgID(8) + packetIdx(4) + packetCount(4).
const frameHeaderSize = 1 + 8 + 4 + 4

// encodeFrame serializes one bdvsession.Message packet onto the wire.
func encodeFrame(kind byte, msg bdvsession.Message) []byte {
	buf := make([]byte, frameHeaderSize+len(msg.Payload))
	buf[0] = kind
	binary.BigEndian.PutUint64(buf[1:9], msg.ID)
	binary.BigEndian.PutUint32(buf[9:13], msg.PacketIdx)
	binary.BigEndian.PutUint32(buf[13:17], msg.PacketCount)
	copy(buf[frameHeaderSize:], msg.Payload)
	return buf
}

// decodeFrame parses one inbound frame into a bdvsession.Message.
// Clients only ever send command frames, so the kind byte is not
// interpreted on read.
func decodeFrame(raw []byte) (bdvsession.Message, error) {
	if len(raw) < frameHeaderSize {
		return bdvsession.Message{}, errors.New("transport: frame shorter than header")
	}
	return bdvsession.Message{
		ID:          binary.BigEndian.Uint64(raw[1:9]),
		PacketIdx:   binary.BigEndian.Uint32(raw[9:13]),
		PacketCount: binary.BigEndian.Uint32(raw[13:17]),
		Payload:     append([]byte(nil), raw[frameHeaderSize:]...),
	}, nil
}

// outgoingMessage is queued onto sendChan for the outHandler to write.
type outgoingMessage struct {
	data     []byte
	doneChan chan bool
}

// Conn is one connected client's read/write pump, implementing
// bdvsession.Transport.
type Conn struct {
	conn *websocket.Conn
	log  *logs.Logger

	sendChan chan outgoingMessage
	quit     chan struct{}
	wg       sync.WaitGroup

	onMessage func(bdvsession.Message)
}

// New wraps an established websocket connection. onMessage is called
// from the read goroutine for every decoded frame; the caller is
// expected to route it into a bdvsession.Session.Dispatch.
func New(conn *websocket.Conn, log *logs.Logger, onMessage func(bdvsession.Message)) *Conn {
	c := &Conn{
		conn:      conn,
		log:       log,
		sendChan:  make(chan outgoingMessage, 64),
		quit:      make(chan struct{}),
		onMessage: onMessage,
	}
	c.wg.Add(2)
	go c.inHandler()
	go c.outHandler()
	return c
}

// SendReply implements bdvsession.Transport.
func (c *Conn) SendReply(r bdvsession.Reply) {
	c.send(kindReply, bdvsession.Message{ID: r.MessageID, PacketCount: 1, Payload: r.Payload})
}

// SendNotify implements bdvsession.Transport, JSON-encoding the event
// the same way the teacher's websocket RPC frames its JSON-RPC
// responses (infrastructure/network/rpc/rpcwebsocket.go).
func (c *Conn) SendNotify(e notify.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		c.log.Errorf("failed to encode notification: %s", err)
		return
	}
	c.send(kindNotify, bdvsession.Message{PacketCount: 1, Payload: payload})
}

func (c *Conn) send(kind byte, msg bdvsession.Message) {
	select {
	case c.sendChan <- outgoingMessage{data: encodeFrame(kind, msg)}:
	case <-c.quit:
	}
}

// Close stops both pump goroutines and closes the underlying
// connection.
func (c *Conn) Close() {
	select {
	case <-c.quit:
		return
	default:
		close(c.quit)
	}
	c.conn.Close()
	c.wg.Wait()
}

func (c *Conn) inHandler() {
	defer c.wg.Done()
	for {
		select {
		case <-c.quit:
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if err != io.EOF {
				c.log.Errorf("websocket receive error: %s", err)
			}
			c.Close()
			return
		}

		msg, err := decodeFrame(raw)
		if err != nil {
			c.log.Errorf("failed to decode frame: %s", err)
			continue
		}
		c.onMessage(msg)
	}
}

func (c *Conn) outHandler() {
	defer c.wg.Done()
	for {
		select {
		case out := <-c.sendChan:
			if err := c.conn.WriteMessage(websocket.BinaryMessage, out.data); err != nil {
				c.log.Errorf("websocket send error: %s", err)
				c.Close()
				return
			}
			if out.doneChan != nil {
				out.doneChan <- true
			}
		case <-c.quit:
			return
		}
	}
}
