package bridge

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/voicebridge/bridge/internal/browser"
	"github.com/voicebridge/bridge/internal/events"
	"github.com/voicebridge/bridge/pkg/signaling"
)

var eventsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterRoutes mounts the Bridge Controller's HTTP surface on a gin
// router.
func RegisterRoutes(router gin.IRouter, controller *Controller) {
	router.POST("/bridge/signal", controller.handleSignal)
	router.POST("/bridge/disconnect", controller.handleDisconnect)
	router.DELETE("/bridge/conversation/:conversation_id", controller.handleStop)
	router.GET("/bridge/conversation/:conversation_id/status", controller.handleStatus)
	router.POST("/bridge/conversation/:conversation_id/text", controller.handleText)
	router.POST("/bridge/conversation/:conversation_id/commit", controller.handleCommit)
	router.GET("/bridge/conversation/:conversation_id/events", controller.handleEvents)
}

func (c *Controller) handleSignal(ctx *gin.Context) {
	var req signaling.SignalRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		writeError(ctx, http.StatusBadRequest, signaling.ErrorBadSDP, err.Error())
		return
	}

	connectionID, answerSDP, err := c.Signal(ctx.Request.Context(), req.ConversationID, req.OfferSDP, req.Voice, req.Model, req.SystemPrompt)
	if err != nil {
		// A malformed-but-non-empty offer fails SDP negotiation itself
		// (browser.ErrInvalidOffer), which is a client error (400); any
		// other failure here (upstream credential/SDP exchange, event
		// store, local peer-connection setup) is a 500.
		if errors.Is(err, browser.ErrInvalidOffer) {
			writeError(ctx, http.StatusBadRequest, signaling.ErrorBadSDP, err.Error())
			return
		}
		writeError(ctx, http.StatusInternalServerError, signaling.ErrorUpstreamFailed, err.Error())
		return
	}

	ctx.JSON(http.StatusOK, signaling.SignalResponse{ConnectionID: connectionID, AnswerSDP: answerSDP})
}

func (c *Controller) handleDisconnect(ctx *gin.Context) {
	var req signaling.DisconnectRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		writeError(ctx, http.StatusBadRequest, signaling.ErrorBadSDP, err.Error())
		return
	}

	if err := c.Disconnect(req.ConversationID, req.ConnectionID); err != nil {
		writeError(ctx, http.StatusInternalServerError, signaling.ErrorUpstreamFailed, err.Error())
		return
	}
	ctx.JSON(http.StatusOK, signaling.OKResponse{OK: true})
}

func (c *Controller) handleStop(ctx *gin.Context) {
	conversationID := ctx.Param("conversation_id")
	if err := c.Stop(conversationID); err != nil {
		writeError(ctx, http.StatusInternalServerError, signaling.ErrorUpstreamFailed, err.Error())
		return
	}
	ctx.JSON(http.StatusOK, signaling.OKResponse{OK: true})
}

func (c *Controller) handleStatus(ctx *gin.Context) {
	conversationID := ctx.Param("conversation_id")
	browserCount, sessionState, err := c.Status(conversationID)
	if errors.Is(err, ErrConversationNotActive) {
		writeError(ctx, http.StatusNotFound, signaling.ErrorNotFound, "conversation has no active session")
		return
	}
	ctx.JSON(http.StatusOK, signaling.StatusResponse{BrowserCount: browserCount, SessionState: sessionState})
}

func (c *Controller) handleText(ctx *gin.Context) {
	conversationID := ctx.Param("conversation_id")
	var req signaling.TextRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		writeError(ctx, http.StatusBadRequest, signaling.ErrorBadSDP, err.Error())
		return
	}

	if err := c.SendText(conversationID, req.Text); err != nil {
		if errors.Is(err, ErrConversationNotActive) {
			writeError(ctx, http.StatusNotFound, signaling.ErrorNotFound, "conversation has no active session")
			return
		}
		writeError(ctx, http.StatusInternalServerError, signaling.ErrorUpstreamFailed, err.Error())
		return
	}
	ctx.JSON(http.StatusOK, signaling.OKResponse{OK: true})
}

func (c *Controller) handleCommit(ctx *gin.Context) {
	conversationID := ctx.Param("conversation_id")
	if err := c.CommitAudioBuffer(conversationID); err != nil {
		if errors.Is(err, ErrConversationNotActive) {
			writeError(ctx, http.StatusNotFound, signaling.ErrorNotFound, "conversation has no active session")
			return
		}
		writeError(ctx, http.StatusInternalServerError, signaling.ErrorUpstreamFailed, err.Error())
		return
	}
	ctx.JSON(http.StatusOK, signaling.OKResponse{OK: true})
}

// handleEvents upgrades to a WebSocket and streams a conversation's event
// history followed by live events as they are appended. The connection is
// held open until the client disconnects or a write to it fails.
func (c *Controller) handleEvents(ctx *gin.Context) {
	conversationID := ctx.Param("conversation_id")

	conn, err := eventsUpgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Printf("bridge: events websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	history, err := c.ListEvents(ctx.Request.Context(), conversationID)
	if err != nil {
		log.Printf("bridge[%s]: failed to load event history: %v", conversationID, err)
		return
	}
	for _, ev := range history {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}

	sub := make(events.Subscriber, 32)
	unsubscribe := c.SubscribeEvents(conversationID, sub)
	defer unsubscribe()

	// Drain client reads in the background purely to detect disconnects;
	// the protocol is server-to-client only.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-sub:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func writeError(ctx *gin.Context, status int, code signaling.ErrorCode, message string) {
	ctx.JSON(status, signaling.ErrorResponse{Error: signaling.ErrorDetail{Code: code, Message: message}})
}
