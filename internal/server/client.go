package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	pwebrtc "github.com/pion/webrtc/v3"
	log "github.com/sirupsen/logrus"

	"rcp-ptz/internal/control"
	"rcp-ptz/internal/preview"
	"rcp-ptz/internal/protocol"
	"rcp-ptz/internal/ptz"
)

const (
	readLimit    = 65536
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	writeWait    = 10 * time.Second
	sendQueue    = 256
	moveDeadline = 5 * time.Second
)

// Client represents a WebSocket client controlling one camera
type Client struct {
	camera string
	conn   *websocket.Conn
	server *Server
	send   chan []byte
	log    *log.Entry

	mu          sync.Mutex
	closed      bool
	lockToken   string // Lease last granted to this connection
	viewer      *preview.Viewer
	unsubscribe func()
}

func (s *Server) handleWebSocket(c *gin.Context) {
	cameraID := c.Param("cam")
	if _, err := s.svc.Lock(cameraID); err != nil {
		status, msg := ptz.StatusOf(err)
		c.JSON(status, control.Reply{Status: status, Message: msg})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{
		camera: cameraID,
		conn:   conn,
		server: s,
		send:   make(chan []byte, sendQueue),
		log: log.WithFields(log.Fields{
			"camera": cameraID,
			"client": uuid.NewString(),
		}),
	}
	s.addClient(client)
	client.log.Info("WebSocket client connected")

	go client.writePump()
	go client.readPump()

	client.sendStatus()

	if source := s.previews[cameraID]; source != nil {
		if err := client.initPreview(source); err != nil {
			client.log.Warnf("Failed to initialize preview: %v", err)
			client.sendMessage(protocol.TypeError, protocol.ErrorPayload{
				Code:    protocol.ErrPreview,
				Message: err.Error(),
			})
		}
	}
}

func (c *Client) initPreview(source *preview.Source) error {
	viewer, err := preview.NewViewer(c.camera, c.server.viewerCfg, func(candidate pwebrtc.ICECandidateInit) {
		payload := protocol.ICECandidatePayload{Candidate: candidate.Candidate}
		if candidate.SDPMid != nil {
			payload.SDPMid = *candidate.SDPMid
		}
		if candidate.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *candidate.SDPMLineIndex
		}
		c.sendMessage(protocol.TypeICECandidate, payload)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return viewer.Close()
	}
	packets, unsubscribe := source.Subscribe()
	c.viewer = viewer
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	go viewer.Forward(packets)

	offer, err := viewer.CreateOffer()
	if err != nil {
		return err
	}
	c.sendMessage(protocol.TypeOffer, protocol.SDPPayload{SDP: offer})
	return nil
}

func (c *Client) sendStatus() {
	status, err := c.server.svc.Lock(c.camera)
	if err != nil {
		return
	}
	c.sendMessage(protocol.TypeStatus, protocol.StatusPayload{
		Camera:  c.camera,
		Preview: c.server.previews[c.camera] != nil,
		Locked:  status.Locked,
	})
}

func (c *Client) sendMessage(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		c.log.Errorf("Failed to create message: %v", err)
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Errorf("Failed to marshal message: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("Client send buffer full, dropping message")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnf("WebSocket error: %v", err)
			}
			return
		}

		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
			Code:    protocol.ErrInvalidMessage,
			Message: "Failed to parse message",
		})
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		c.sendMessage(protocol.TypePong, protocol.PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})

	case protocol.TypeAnswer:
		var payload protocol.SDPPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		if viewer := c.currentViewer(); viewer != nil {
			if err := viewer.SetAnswer(payload.SDP); err != nil {
				c.log.Warnf("Failed to set answer: %v", err)
			}
		}

	case protocol.TypeICECandidate:
		var payload protocol.ICECandidatePayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		if viewer := c.currentViewer(); viewer != nil {
			if err := viewer.AddICECandidate(payload.Candidate, payload.SDPMid, payload.SDPMLineIndex); err != nil {
				c.log.Warnf("Failed to add ICE candidate: %v", err)
			}
		}

	case protocol.TypePTZMove:
		var payload protocol.PTZMovePayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
				Code:    protocol.ErrInvalidMessage,
				Message: "Failed to parse ptz_move payload",
			})
			return
		}
		c.handleMove(payload)

	default:
		c.log.Debugf("Unknown message type: %s", msg.Type)
	}
}

// handleMove runs a move under the same lease as the HTTP endpoint and
// remembers the token so the lease can be dropped when the socket closes
func (c *Client) handleMove(payload protocol.PTZMovePayload) {
	cmd := ptz.Command{
		Left:    payload.Left,
		Right:   payload.Right,
		Up:      payload.Up,
		Down:    payload.Down,
		ZoomIn:  payload.ZoomIn,
		ZoomOut: payload.ZoomOut,
		Stop:    payload.Stop,
	}

	ctx, cancel := context.WithTimeout(context.Background(), moveDeadline)
	defer cancel()

	reply, err := c.server.svc.MoveCommand(ctx, c.camera, cmd, payload.LockToken)
	if err != nil {
		status, msg := ptz.StatusOf(err)
		reply = control.Reply{Status: status, Message: msg, LockToken: reply.LockToken}
	}

	if reply.Status == http.StatusOK || reply.LockToken != "" {
		c.mu.Lock()
		c.lockToken = reply.LockToken
		c.mu.Unlock()
	}

	c.sendMessage(protocol.TypePTZResult, protocol.PTZResultPayload{
		Status:    reply.Status,
		Message:   reply.Message,
		LockToken: reply.LockToken,
	})
}

func (c *Client) currentViewer() *preview.Viewer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewer
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// Close releases the connection's lease and tears down its preview
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	token := c.lockToken
	viewer := c.viewer
	unsubscribe := c.unsubscribe
	c.viewer = nil
	close(c.send)
	c.mu.Unlock()

	if token != "" && c.server.svc.Release(c.camera, token) {
		c.log.Info("Released PTZ lock held by closed connection")
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if viewer != nil {
		_ = viewer.Close()
	}
	c.log.Info("WebSocket client disconnected")
}
