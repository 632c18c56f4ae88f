// Package web serves the charger's status page and JSON endpoints.
package web

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sweeney/usb-charger/internal/status"
)

// Server serves charger status over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
}

// New creates a Server that reads state from the given tracker.
//
// Routes:
//
//	GET /            HTML page, or the full status JSON when the client accepts only JSON
//	GET /index.html  HTML page
//	GET /index.json  full status JSON
//	GET /port.json   attach session and last FSM observation only
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleHTML)
	mux.HandleFunc("GET /index.json", s.handleStatus)
	mux.HandleFunc("GET /port.json", s.handlePort)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		s.handleStatus(w, r)
		return
	}
	s.handleHTML(w, r)
}

func (s *Server) handleHTML(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	renderHTML(w, s.tracker.Snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handlePort(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, status.FormatPortJSON(s.tracker.Snapshot()))
}

func writeJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// wantsJSON reports whether the client asked for JSON and not HTML.
// Browsers send both and get the page.
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
