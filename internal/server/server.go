package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"rcp-ptz/internal/control"
	"rcp-ptz/internal/preview"
	"rcp-ptz/internal/ptz"
)

const shutdownTimeout = 5 * time.Second

// Config for the server
type Config struct {
	Listen      string
	ContextPath string // Normalized, "/" or "/prefix/"
}

// Server exposes PTZ control over HTTP and WebSocket
type Server struct {
	cfg        Config
	svc        *control.Service
	previews   map[string]*preview.Source
	viewerCfg  preview.ViewerConfig
	staticFS   fs.FS
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*Client]struct{}
}

// New creates a new server instance.
// previews may be nil or miss cameras without a preview stream.
func New(cfg Config, svc *control.Service, previews map[string]*preview.Source, staticFS fs.FS) *Server {
	if cfg.ContextPath == "" {
		cfg.ContextPath = "/"
	}
	if previews == nil {
		previews = map[string]*preview.Source{}
	}

	s := &Server{
		cfg:       cfg,
		svc:       svc,
		previews:  previews,
		viewerCfg: preview.DefaultViewerConfig(),
		staticFS:  staticFS,
		clients:   make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Same trust model as the plain HTTP endpoints
			},
		},
	}

	svc.Watch(s.notifyLockExpired)

	s.engine = gin.New()
	s.engine.Use(accessLog(), recovery())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, control.Reply{Status: http.StatusNotFound, Message: "Not Found"})
	})

	s.engine.GET("/health", s.handleHealth)

	g := s.engine.Group(s.cfg.ContextPath)
	g.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, s.cfg.ContextPath+"interfaces/ptz/move")
	})
	g.GET("/cams", s.handleCameras)
	g.GET("/cams/:cam/ptz/move", s.handleMove)
	g.GET("/cams/:cam/ptz/lock", s.handleLock)
	g.GET("/cams/:cam/ws", s.handleWebSocket)
	if s.staticFS != nil {
		g.GET("/interfaces/ptz/move", s.handleInterface)
		g.StaticFS("/static", http.FS(s.staticFS))
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on %s", s.cfg.Listen)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to serve: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	return s.Shutdown()
}

// Shutdown stops accepting requests and closes every WebSocket client
func (s *Server) Shutdown() error {
	log.Info("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.clientsMu.Unlock()

	for _, client := range clients {
		client.Close()
	}

	if err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().Format(time.RFC3339)})
}

func (s *Server) handleCameras(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "cameras": s.svc.Cameras()})
}

// handleMove applies one move; the JSON body always carries status and message.
// A granted move reaches the camera even if the caller goes away.
func (s *Server) handleMove(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	reply, err := s.svc.Move(ctx, c.Param("cam"), c.Query)
	if err != nil {
		status, msg := ptz.StatusOf(err)
		reply = control.Reply{Status: status, Message: msg, LockToken: reply.LockToken}
	}
	c.JSON(reply.Status, reply)
}

func (s *Server) handleLock(c *gin.Context) {
	status, err := s.svc.Lock(c.Param("cam"))
	if err != nil {
		code, msg := ptz.StatusOf(err)
		c.JSON(code, control.Reply{Status: code, Message: msg})
		return
	}
	c.JSON(status.Status, status)
}

func (s *Server) handleInterface(c *gin.Context) {
	page, err := fs.ReadFile(s.staticFS, "index.html")
	if err != nil {
		c.JSON(http.StatusNotFound, control.Reply{Status: http.StatusNotFound, Message: "Not Found"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func (s *Server) addClient(c *Client) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()
}

// notifyLockExpired pushes a fresh status to the camera's websocket clients
func (s *Server) notifyLockExpired(cameraID string) {
	s.clientsMu.Lock()
	var clients []*Client
	for client := range s.clients {
		if client.camera == cameraID {
			clients = append(clients, client)
		}
	}
	s.clientsMu.Unlock()

	for _, client := range clients {
		client.sendStatus()
	}
}

func (s *Server) removeClient(c *Client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
}

// accessLog writes one logrus line per request
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"status":   c.Writer.Status(),
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"duration": time.Since(start),
			"bytes":    c.Writer.Size(),
		}).Info("request")
	}
}

// recovery turns a panic into the JSON error body
func recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		log.Errorf("Error handling request %s: %v", c.Request.URL.Path, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, control.Reply{
			Status:  http.StatusInternalServerError,
			Message: "Internal Server Error",
		})
	})
}
