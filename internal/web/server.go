// Package web serves the browser client: the WebSocket endpoint that
// feeds the bridge hub, Prometheus metrics, and the static UI files.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/linjuya-lu/fsr_bridge_go/internal/bridge"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Server routes HTTP requests for one hub.
type Server struct {
	hub       *bridge.Hub
	lc        logger.LoggingClient
	staticDir string
	upgrader  websocket.Upgrader
	router    *mux.Router
}

// NewServer builds the router. staticDir may be empty to disable file serving.
func NewServer(hub *bridge.Hub, staticDir string, lc logger.LoggingClient) *Server {
	s := &Server{
		hub:       hub,
		lc:        lc,
		staticDir: staticDir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		router: mux.NewRouter(),
	}

	s.router.HandleFunc("/ws", s.serveWS)
	s.router.Handle("/metrics", promhttp.HandlerFor(hub.Metrics().Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	if staticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return s
}

// Handler is the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.lc.Infof("Listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.lc.Warnf("HTTP shutdown: %v", err)
		}
		return nil
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.lc.Warnf("WebSocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	client, err := s.hub.Connect(r.Context())
	if err != nil {
		s.lc.Warnf("Rejecting WebSocket client %s: %v", r.RemoteAddr, err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "bridge stopping"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	s.lc.Infof("WebSocket client %s connected from %s", client.ID, r.RemoteAddr)

	go s.writePump(conn, client)
	s.readPump(r.Context(), conn, client)
}

// readPump forwards client messages to the hub until the connection fails.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, client *bridge.Client) {
	defer func() {
		s.hub.Disconnect(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	source := client.ID.String()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.lc.Warnf("WebSocket client %s: %v", source, err)
			} else {
				s.lc.Infof("WebSocket client %s disconnected", source)
			}
			return
		}
		if err := s.hub.Receive(ctx, source, data); err != nil {
			return
		}
	}
}

// writePump drains the client's queue onto the connection and keeps it
// alive with pings. It closes the connection when the queue is closed.
func (s *Server) writePump(conn *websocket.Conn, client *bridge.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Outbound():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.lc.Warnf("Write to WebSocket client %s failed: %v", client.ID, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
