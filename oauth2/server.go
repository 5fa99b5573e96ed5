package oauth2

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/panyam/websession/client"
)

// CallbackResult is the outcome of one callback served by CallbackServer
type CallbackResult struct {
	User *client.User
	Err  error
}

var resultPage = template.Must(template.New("result").Parse(`<!doctype html>
<html><head><title>Sign in</title></head>
<body>{{if .Err}}<h1>Sign in failed</h1><p>{{.Err}}</p>{{else}}<h1>Signed in</h1><p>You can close this window.</p>{{end}}</body></html>
`))

// CallbackServer receives the provider redirect on a loopback address, for
// hosts without a browser page of their own such as a CLI
type CallbackServer struct {
	Exchanger *Exchanger
	Path      string

	router  *mux.Router
	results chan CallbackResult
	server  *http.Server
}

// NewCallbackServer serves ex's callback at path (default /callback)
func NewCallbackServer(ex *Exchanger, path string) *CallbackServer {
	if path == "" {
		path = "/callback"
	}
	s := &CallbackServer{
		Exchanger: ex,
		Path:      path,
		router:    mux.NewRouter(),
		results:   make(chan CallbackResult, 1),
	}
	s.router.HandleFunc(path, s.handleCallback).Methods(http.MethodGet)
	return s
}

// Handler exposes the router, for hosts mounting it on their own server
func (s *CallbackServer) Handler() http.Handler {
	return s.router
}

// Results delivers the first settled callback
func (s *CallbackServer) Results() <-chan CallbackResult {
	return s.results
}

// Start listens on addr (for example 127.0.0.1:0) and returns the callback URL
func (s *CallbackServer) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen for oauth callback: %w", err)
	}
	s.server = &http.Server{Handler: s.router}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("oauth callback server stopped")
		}
	}()
	return "http://" + ln.Addr().String() + s.Path, nil
}

// Wait blocks until a callback settles or ctx ends
func (s *CallbackServer) Wait(ctx context.Context) (*client.User, error) {
	select {
	case res := <-s.results:
		return res.User, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops a server started with Start
func (s *CallbackServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	// a closed browser tab must not abort the exchange halfway
	ctx := context.WithoutCancel(r.Context())
	user, err := s.Exchanger.HandleCallback(ctx, r.URL.Query())

	select {
	case s.results <- CallbackResult{User: user, Err: err}:
	default:
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
	}
	if err := resultPage.Execute(w, CallbackResult{User: user, Err: err}); err != nil {
		log.Debug().Err(err).Msg("failed to write callback page")
	}
}
