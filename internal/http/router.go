package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/healthz", loopbackOnly(), s.handleHealth)
	r.POST("/pair/exchange", loopbackOnly(), s.uiOrigins(), s.handlePairExchange)

	dapp := r.Group("/dapp", loopbackOnly())
	if s.limiter != nil {
		dapp.Use(s.limiter.middleware())
	}
	{
		dapp.POST("/rpc", s.handleDAppRPC)
		dapp.GET("/ws", s.handleDAppWS)
	}

	ui := r.Group("/ui", loopbackOnly(), s.uiOrigins(), s.sessionGuard())
	{
		ui.GET("/surface", s.handleSurface)
		ui.GET("/stream", s.handleStream)
		ui.GET("/pending", s.handlePendingCounts)
		ui.GET("/pending/:ledger", s.handlePending)
		ui.POST("/complete/:ledger/:id", s.handleComplete)

		ui.POST("/lock", s.handleLock)
		ui.POST("/reset", s.handleReset)

		ui.GET("/authorizations", s.handleAuthorizations)
		ui.POST("/authorizations/accounts", s.handleSetOriginAccounts)
		ui.POST("/authorizations/allowed", s.handleSetAllowed)
		ui.POST("/authorizations/forget", s.handleForget)

		ui.POST("/accounts/focus", s.handleFocus)

		ui.POST("/walletconnect/session", s.handleWalletConnectSession)
		ui.POST("/walletconnect/unsupported", s.handleWalletConnectUnsupported)
	}

	if s.cfg.UI != nil {
		r.NoRoute(loopbackOnly(), staticUI(s.cfg.UI))
	} else {
		r.NoRoute(func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{JSONKeyError: "not found"})
		})
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{JSONKeyOK: true})
}
