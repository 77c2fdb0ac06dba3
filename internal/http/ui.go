package http

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/authstore"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/broker"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

func (s *Server) handlePairExchange(c *gin.Context) {
	var req pairExchangeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{JSONKeyError: HTTPErrorInvalidJSONText})
		return
	}
	if err := s.pairings.Exchange(strings.TrimSpace(req.PairID), strings.TrimSpace(req.Code)); err != nil {
		log.Warn("pair exchange refused", "pair_id", req.PairID, "error", err)
		c.AbortWithStatusJSON(uiStatus(err), gin.H{JSONKeyError: err.Error()})
		return
	}
	log.Info("confirmation UI paired", "pair_id", req.PairID)
	c.JSON(http.StatusOK, pairExchangeResp{
		OK:     true,
		Token:  s.sessionToken,
		Header: SessionHeader,
	})
}

func bindUI(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeUIError(c, errors.Wrapf(rpcerr.ErrInvalidParams, "%s: %v", HTTPErrorInvalidJSONText, err))
		return false
	}
	return true
}

func (s *Server) handleSurface(c *gin.Context) {
	writeUIOK(c, s.surfaceState())
}

func (s *Server) surfaceState() surfaceResp {
	return surfaceResp{
		Surface: s.broker.SurfaceStatus(),
		Counts:  s.broker.Counts(),
	}
}

func (s *Server) handlePendingCounts(c *gin.Context) {
	writeUIOK(c, s.broker.Counts())
}

func (s *Server) handlePending(c *gin.Context) {
	list, err := s.broker.Pending(broker.LedgerName(c.Param("ledger")), c.Query("kind"))
	if err != nil {
		writeUIError(c, err)
		return
	}
	writeUIOK(c, list)
}

func (s *Server) handleComplete(c *gin.Context) {
	var done broker.Completion
	if !bindUI(c, &done) {
		return
	}
	err := s.broker.Complete(c.Request.Context(), broker.LedgerName(c.Param("ledger")), c.Param("id"), done)
	if err != nil {
		writeUIError(c, err)
		return
	}
	writeUIOK(c, nil)
}

func (s *Server) handleLock(c *gin.Context) {
	n := s.broker.Lock()
	writeUIOK(c, gin.H{JSONKeyCancelled: n})
}

func (s *Server) handleReset(c *gin.Context) {
	if err := s.broker.ResetWallet(c.Request.Context()); err != nil {
		writeUIError(c, err)
		return
	}
	writeUIOK(c, nil)
}

func (s *Server) handleAuthorizations(c *gin.Context) {
	all, err := s.broker.Authorizations(c.Request.Context())
	if err != nil {
		writeUIError(c, err)
		return
	}
	writeUIOK(c, all)
}

func (s *Server) handleSetOriginAccounts(c *gin.Context) {
	var req originAccountsReq
	if !bindUI(c, &req) {
		return
	}
	origin, err := authstore.NormalizeOrigin(req.Origin)
	if err != nil {
		writeUIError(c, err)
		return
	}
	if err := s.broker.Auth().SetOriginAccounts(c.Request.Context(), origin, req.Accounts); err != nil {
		writeUIError(c, err)
		return
	}
	writeUIOK(c, nil)
}

func (s *Server) handleSetAllowed(c *gin.Context) {
	var req originAllowedReq
	if !bindUI(c, &req) {
		return
	}
	origin, err := authstore.NormalizeOrigin(req.Origin)
	if err != nil {
		writeUIError(c, err)
		return
	}
	if err := s.broker.Auth().SetAllowed(c.Request.Context(), origin, req.Allowed); err != nil {
		writeUIError(c, err)
		return
	}
	writeUIOK(c, nil)
}

func (s *Server) handleForget(c *gin.Context) {
	var req originReq
	if !bindUI(c, &req) {
		return
	}
	origin, err := authstore.NormalizeOrigin(req.Origin)
	if err != nil {
		writeUIError(c, err)
		return
	}
	if err := s.broker.Auth().Forget(c.Request.Context(), origin); err != nil {
		writeUIError(c, err)
		return
	}
	writeUIOK(c, nil)
}

func (s *Server) handleFocus(c *gin.Context) {
	var req focusReq
	if !bindUI(c, &req) {
		return
	}
	if err := s.broker.FocusAccount(req.Address); err != nil {
		writeUIError(c, errors.Wrapf(rpcerr.ErrInvalidParams, "%v", err))
		return
	}
	writeUIOK(c, nil)
}

// handleWalletConnectSession blocks until the proposal is settled. The
// bridge's request is the channel, so dropping it withdraws the proposal.
func (s *Server) handleWalletConnectSession(c *gin.Context) {
	var req walletConnectSessionReq
	if !bindUI(c, &req) {
		return
	}
	channelID := "walletconnect:" + uuid.NewString()
	ctx := c.Request.Context()
	accs, err := s.broker.ProposeSession(ctx, req.URL, channelID, req.Payload)
	if ctx.Err() != nil {
		s.broker.CloseChannel(channelID)
		return
	}
	if err != nil {
		writeUIError(c, err)
		return
	}
	writeUIOK(c, accs)
}

func (s *Server) handleWalletConnectUnsupported(c *gin.Context) {
	var req walletConnectUnsupportedReq
	if !bindUI(c, &req) {
		return
	}
	channelID := "walletconnect:" + uuid.NewString()
	ctx := c.Request.Context()
	err := s.broker.NotifyUnsupported(ctx, req.URL, channelID, req.Method)
	if ctx.Err() != nil {
		s.broker.CloseChannel(channelID)
		return
	}
	if err != nil {
		writeUIError(c, err)
		return
	}
	writeUIOK(c, nil)
}
