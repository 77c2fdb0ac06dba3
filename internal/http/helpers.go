package http

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/broker"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/pairing"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
)

func isLoopbackRequest(r *http.Request) bool {
	ra := r.RemoteAddr

	h, _, err := net.SplitHostPort(ra)
	if err != nil {
		ip := net.ParseIP(ra)
		return ip != nil && ip.IsLoopback()
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func isSafeLocalHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(strings.ToLower(host), "[]")
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

func normalizeOrigin(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	u, err := url.Parse(in)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s", strings.ToLower(u.Scheme), strings.ToLower(u.Host))
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

// uiStatus picks the HTTP status the UI sees for a broker error.
func uiStatus(err error) int {
	switch {
	case errors.Is(err, broker.ErrUnknownLedger), errors.Is(err, rpcerr.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, rpcerr.ErrAlreadySettled), errors.Is(err, rpcerr.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, rpcerr.ErrInvalidParams), errors.Is(err, rpcerr.ErrInvalidCandidate):
		return http.StatusBadRequest
	case errors.Is(err, rpcerr.ErrUnauthorized), errors.Is(err, rpcerr.ErrUserRejected):
		return http.StatusForbidden
	case errors.Is(err, pairing.ErrMissing):
		return http.StatusBadRequest
	case errors.Is(err, pairing.ErrExpired):
		return http.StatusGone
	case errors.Is(err, pairing.ErrInvalidCode):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeUIError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(uiStatus(err), uiResponse{OK: false, Error: rpcerr.ToRPC(err)})
}

func writeUIOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, uiResponse{OK: true, Data: data})
}

func rpcResult(id json.RawMessage, result any, err error) rpcResponse {
	if err != nil {
		return rpcResponse{JSONRPC: JSONRPCVersion, ID: id, Error: rpcerr.ToRPC(err)}
	}
	return rpcResponse{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}
