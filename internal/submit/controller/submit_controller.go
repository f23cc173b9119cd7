package controller

import (
	"context"
	"net/http"
	"strings"
	"time"

	"arenajudge/internal/common/http/middleware"
	"arenajudge/internal/judge/model"
	"arenajudge/internal/submit/service"
	"arenajudge/pkg/utils/logger"
	"arenajudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	defaultPollInterval = 500 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Submitter is the part of the submit service used by the HTTP layer.
type Submitter interface {
	SubmitForJudging(ctx context.Context, input service.SubmitInput) (string, error)
	GetSubmission(ctx context.Context, submissionID string) (model.Submission, error)
	GetStatus(ctx context.Context, submissionID string) (model.JudgeStatusResponse, error)
}

// SubmitController handles submission HTTP endpoints.
type SubmitController struct {
	submitService Submitter
	pollInterval  time.Duration
}

// NewSubmitController creates a new SubmitController.
func NewSubmitController(submitService Submitter, pollInterval time.Duration) *SubmitController {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &SubmitController{submitService: submitService, pollInterval: pollInterval}
}

// RegisterRoutes mounts the submission routes on r. Extra handlers run before Create.
func (h *SubmitController) RegisterRoutes(r gin.IRouter, createMiddleware ...gin.HandlerFunc) {
	r.POST("/submissions", append(createMiddleware, h.Create)...)
	r.GET("/submissions/:id", h.Get)
	r.GET("/submissions/:id/status", h.Status)
	r.GET("/submissions/:id/watch", h.Watch)
}

// Create handles submission requests.
func (h *SubmitController) Create(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	userID := middleware.UserID(c)
	if userID == "" {
		userID = req.UserID
	}

	submissionID, err := h.submitService.SubmitForJudging(c.Request.Context(), service.SubmitInput{
		ProblemID:      req.ProblemID,
		UserID:         userID,
		ContestID:      req.ContestID,
		Language:       req.Language,
		SourceCode:     req.SourceCode,
		IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, SubmitResponse{
		SubmissionID: submissionID,
		Status:       string(model.StatusQueued),
	})
}

// Get returns one submission with its source.
func (h *SubmitController) Get(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	submission, err := h.submitService.GetSubmission(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, submission)
}

// Status returns the live judge status of one submission.
func (h *SubmitController) Status(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.submitService.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// Watch streams status changes over a websocket until the submission is final.
func (h *SubmitController) Watch(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	// Reject unknown submissions before the upgrade so the client sees a 404.
	first, err := h.submitService.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	// Drain client frames so pongs and close messages are processed.
	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.stream(ctx, conn, submissionID, first)
}

func (h *SubmitController) stream(ctx context.Context, conn *websocket.Conn, submissionID string, current model.JudgeStatusResponse) {
	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if !writeStatus(ctx, conn, current) || current.Status.IsTerminal() {
		closeNormal(conn)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			next, err := h.submitService.GetStatus(ctx, submissionID)
			if err != nil {
				logger.Warn(ctx, "watch status failed", zap.String("submission_id", submissionID), zap.Error(err))
				continue
			}
			if sameProgress(current, next) {
				continue
			}
			current = next
			if !writeStatus(ctx, conn, current) {
				return
			}
			if current.Status.IsTerminal() {
				closeNormal(conn)
				return
			}
		}
	}
}

func writeStatus(ctx context.Context, conn *websocket.Conn, status model.JudgeStatusResponse) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(status); err != nil {
		logger.Warn(ctx, "websocket write failed", zap.String("submission_id", status.SubmissionID), zap.Error(err))
		return false
	}
	return true
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "final")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func sameProgress(a, b model.JudgeStatusResponse) bool {
	return a.Status == b.Status &&
		a.Progress == b.Progress &&
		a.TestsPassed == b.TestsPassed
}
