package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/broker"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// handleDAppRPC serves one JSON-RPC call. The request is its own channel: a
// client that goes away cancels whatever the call left pending.
func (s *Server) handleDAppRPC(c *gin.Context) {
	var req rpcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, rpcResponse{
			JSONRPC: JSONRPCVersion,
			Error:   &rpcerr.ProviderError{Code: rpcerr.CodeInvalidRequest, Message: HTTPErrorInvalidJSONText},
		})
		return
	}

	channelID := "http:" + uuid.NewString()
	ctx := c.Request.Context()
	result, err := s.dispatch(ctx, c.GetHeader("Origin"), channelID, req)
	if ctx.Err() != nil {
		s.broker.CloseChannel(channelID)
		return
	}
	c.JSON(http.StatusOK, rpcResult(req.ID, result, err))
}

func (s *Server) dispatch(ctx context.Context, origin, channelID string, req rpcRequest) (any, error) {
	if strings.TrimSpace(req.Method) == "" {
		return nil, errors.Wrap(rpcerr.ErrInvalidParams, "missing method")
	}
	if req.JSONRPC != "" && req.JSONRPC != JSONRPCVersion {
		return nil, errors.Wrapf(rpcerr.ErrInvalidParams, "jsonrpc version %q", req.JSONRPC)
	}
	result, err := s.broker.Dispatch(ctx, broker.Message{
		URL:       origin,
		ChannelID: channelID,
		Method:    req.Method,
		Params:    req.Params,
	})
	if err != nil && !rpcerr.IsCancelled(err) {
		log.Info("dapp call failed", "origin", origin, "method", req.Method, "error", err)
	}
	return result, err
}
