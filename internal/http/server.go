// Package http is the local transport of the broker: dApp JSON-RPC over HTTP
// and websocket, and the confirmation UI's API behind a paired session token.
package http

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/broker"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/pairing"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

type Config struct {
	// UIAllowedOrigins are the browser origins the confirmation UI is served from.
	UIAllowedOrigins []string
	// PublicURL is where this server listens, used in the pairing link.
	PublicURL string
	// SurfaceURL is the confirmation UI; empty means PublicURL.
	SurfaceURL string

	RateLimitPerSecond float64
	RateLimitBurst     int
	PairTTL            time.Duration

	// UI, when set, holds a built confirmation UI served at the root.
	UI fs.FS
}

type Server struct {
	ctx    context.Context
	broker *broker.Broker
	cfg    Config

	sessionToken     string
	pairings         *pairing.Registry
	uiAllowedOrigins map[string]struct{}
	limiter          *originLimiter
	upgrader         websocket.Upgrader

	engine *gin.Engine

	// live websocket channels
	connsMu sync.Mutex
	conns   map[string]*wsChannel
	connsWG sync.WaitGroup
}

// NewServer builds the transport. Websocket channels end when ctx does.
func NewServer(ctx context.Context, b *broker.Broker, cfg Config) (*Server, error) {
	if b == nil {
		return nil, errors.New("http: broker is required")
	}
	token, err := newSessionToken()
	if err != nil {
		return nil, errors.Wrap(err, "session token")
	}

	s := &Server{
		ctx:              ctx,
		broker:           b,
		cfg:              cfg,
		sessionToken:     token,
		pairings:         pairing.NewRegistry(cfg.PairTTL),
		uiAllowedOrigins: make(map[string]struct{}, len(cfg.UIAllowedOrigins)),
		limiter:          newOriginLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		conns:            make(map[string]*wsChannel),
	}
	for _, o := range cfg.UIAllowedOrigins {
		o = normalizeOrigin(o)
		if o == "" {
			continue
		}
		s.uiAllowedOrigins[o] = struct{}{}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// dApps are arbitrary sites; a missing or malformed origin cannot be
		// authorized later, so it is refused at the handshake.
		CheckOrigin: func(r *http.Request) bool {
			return normalizeOrigin(r.Header.Get("Origin")) != ""
		},
	}
	s.engine = NewRouter(s)
	return s, nil
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// IssuePairing creates a one-time pair code and the link the UI opens with it.
func (s *Server) IssuePairing() (string, error) {
	pairID, code, err := s.pairings.Issue()
	if err != nil {
		return "", err
	}
	base := s.cfg.SurfaceURL
	if base == "" {
		base = s.cfg.PublicURL
	}
	pairURL := fmt.Sprintf(
		"%s/#/?server=%s&pair_id=%s&code=%s",
		base,
		url.QueryEscape(s.cfg.PublicURL),
		url.QueryEscape(pairID),
		url.QueryEscape(code),
	)
	log.Info("pair with confirmation UI", "url", pairURL)
	return pairURL, nil
}

// Shutdown closes every websocket channel and waits for their handlers.
func (s *Server) Shutdown() {
	s.connsMu.Lock()
	for _, ch := range s.conns {
		ch.close()
	}
	s.connsMu.Unlock()
	s.connsWG.Wait()
}

func (s *Server) trackChannel(ch *wsChannel) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[ch.id] = ch
}

func (s *Server) untrackChannel(id string) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, id)
}

func (s *Server) channelCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}
