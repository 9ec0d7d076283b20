package console

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/field-assist/internal/observability"
	"github.com/lexiqai/field-assist/internal/view"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	// The console listens on loopback; browsers on the same host are trusted.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ClientMessage is an event sent by the console page.
type ClientMessage struct {
	Event string `json:"event"`
	Text  string `json:"text,omitempty"`
}

// ServerMessage is pushed to the console page.
type ServerMessage struct {
	Type  string         `json:"type"` // state or error
	State *view.Snapshot `json:"state,omitempty"`
	Error string         `json:"error,omitempty"`
}

// consoleClient is one connected console page.
type consoleClient struct {
	conn   *websocket.Conn
	server *Server
	logger zerolog.Logger
	out    chan ServerMessage
	done   chan struct{}
}

// HandleWebSocket pushes state snapshots to the page and applies the events
// it sends.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade console connection")
		return
	}
	defer conn.Close()

	client := &consoleClient{
		conn:   conn,
		server: s,
		logger: s.logger.With().Str("client_id", uuid.New().String()).Logger(),
		out:    make(chan ServerMessage, 16),
		done:   make(chan struct{}),
	}

	observability.ConsoleClientConnected()
	defer observability.ConsoleClientDisconnected()
	client.logger.Info().Msg("console connected")

	updates, unsubscribe := s.controller.Subscribe()
	defer unsubscribe()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		client.writeLoop(updates)
	}()

	client.readLoop()
	close(client.done)
	<-writerDone
	client.logger.Info().Msg("console disconnected")
}

// readLoop handles incoming events until the connection closes
func (c *consoleClient) readLoop() {
	c.conn.SetReadLimit(64 << 10)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("console read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.send(ServerMessage{Type: "error", Error: "invalid message"})
			continue
		}

		controller := c.server.controller
		var snapErr error
		switch msg.Event {
		case "text":
			_, snapErr = controller.EditText(msg.Text)
		case "start_recording":
			_, snapErr = controller.StartRecording(c.server.baseCtx)
		case "stop_recording":
			_, snapErr = controller.StopRecording()
		case "reset":
			controller.Reset()
		case "submit":
			// Runs beside the read loop so the page can still reset.
			go func() {
				if _, err := controller.Submit(c.server.baseCtx); err != nil {
					c.send(ServerMessage{Type: "error", Error: err.Error()})
				}
			}()
		case "state":
			snap := controller.Snapshot()
			c.send(ServerMessage{Type: "state", State: &snap})
		default:
			c.logger.Debug().Str("event", msg.Event).Msg("unknown console event")
			c.send(ServerMessage{Type: "error", Error: "unknown event " + msg.Event})
		}
		if snapErr != nil {
			c.send(ServerMessage{Type: "error", Error: snapErr.Error()})
		}
	}
}

// writeLoop is the only writer on the connection.
func (c *consoleClient) writeLoop(updates <-chan view.Snapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	// Unblocks the read loop when a write fails.
	defer c.conn.Close()

	initial := c.server.controller.Snapshot()
	if err := c.write(ServerMessage{Type: "state", State: &initial}); err != nil {
		return
	}

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case snap := <-updates:
			if err := c.write(ServerMessage{Type: "state", State: &snap}); err != nil {
				return
			}
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *consoleClient) write(msg ServerMessage) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug().Err(err).Msg("console write failed")
		return err
	}
	return nil
}

// send queues a message without blocking the caller.
func (c *consoleClient) send(msg ServerMessage) {
	select {
	case c.out <- msg:
	case <-c.done:
	default:
		c.logger.Warn().Str("type", msg.Type).Msg("console send queue full, dropping message")
	}
}
