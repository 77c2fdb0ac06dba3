package http

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/events"
	"github.com/quantumauth-io/quantum-dapp-broker/internal/rpcerr"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

// wsChannel is one dApp page connection. Its id is the channel every call
// made over it is enqueued under.
type wsChannel struct {
	id     string
	origin string
	conn   *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	calls   sync.WaitGroup
	once    sync.Once
}

func (ch *wsChannel) write(v any) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	if err := ch.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return ch.conn.WriteJSON(v)
}

func (ch *wsChannel) close() {
	ch.once.Do(func() {
		ch.cancel()
		_ = ch.conn.Close()
	})
}

func (s *Server) handleDAppWS(c *gin.Context) {
	origin := c.GetHeader("Origin")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "origin", origin, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	ch := &wsChannel{
		id:     "ws:" + uuid.NewString(),
		origin: origin,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
	s.connsWG.Add(1)
	s.trackChannel(ch)
	log.Info("dapp channel opened", "origin", origin, "channel", ch.id)

	defer s.closeChannel(ch)

	sub, err := s.broker.SubscribeEvents(ctx, origin, ch.id)
	if err != nil {
		log.Warn("event subscription failed", "origin", origin, "channel", ch.id, "error", err)
		_ = ch.write(rpcResult(nil, nil, err))
		return
	}
	go ch.forwardEvents(sub)
	go ch.keepAlive()

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("dapp channel read failed", "channel", ch.id, "error", err)
			}
			return
		}

		var req rpcRequest
		if err := json.Unmarshal(data, &req); err != nil {
			_ = ch.write(rpcResponse{
				JSONRPC: JSONRPCVersion,
				Error:   &rpcerr.ProviderError{Code: rpcerr.CodeInvalidRequest, Message: HTTPErrorInvalidJSONText},
			})
			continue
		}

		// Calls may wait on a human; they must not hold up the read loop.
		ch.calls.Add(1)
		go func(req rpcRequest) {
			defer ch.calls.Done()
			result, err := s.dispatch(ch.ctx, ch.origin, ch.id, req)
			if ch.ctx.Err() != nil {
				return
			}
			if werr := ch.write(rpcResult(req.ID, result, err)); werr != nil {
				log.Warn("dapp channel write failed", "channel", ch.id, "error", werr)
			}
		}(req)
	}
}

// closeChannel tears a connection down. Entries a call enqueued after the
// first cancellation pass are caught by the second.
func (s *Server) closeChannel(ch *wsChannel) {
	ch.close()
	n := s.broker.CloseChannel(ch.id)
	ch.calls.Wait()
	n += s.broker.CloseChannel(ch.id)
	s.untrackChannel(ch.id)
	s.connsWG.Done()
	log.Info("dapp channel closed", "origin", ch.origin, "channel", ch.id, "cancelled", n)
}

func (ch *wsChannel) forwardEvents(sub *events.Subscription) {
	for ev := range sub.Events() {
		err := ch.write(rpcNotification{
			JSONRPC: JSONRPCVersion,
			Method:  string(ev.Name),
			Params:  ev.Data,
		})
		if err != nil {
			log.Warn("event delivery failed", "channel", ch.id, "event", ev.Name, "error", err)
			ch.close()
			return
		}
	}
}

func (ch *wsChannel) keepAlive() {
	t := time.NewTicker(wsPingInterval)
	defer t.Stop()
	for {
		select {
		case <-ch.ctx.Done():
			ch.close()
			return
		case <-t.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := ch.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				ch.close()
				return
			}
		}
	}
}
