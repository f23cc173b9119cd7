package controller

import (
	"arenajudge/internal/judge/repository"
	"arenajudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// QueueDepther reports how many tasks wait for a judge slot.
type QueueDepther interface {
	Depth() int
}

// JudgeController handles judge status requests.
type JudgeController struct {
	repo  *repository.StatusRepository
	queue QueueDepther
}

// NewJudgeController creates a new controller.
func NewJudgeController(repo *repository.StatusRepository, queue QueueDepther) *JudgeController {
	return &JudgeController{repo: repo, queue: queue}
}

// RegisterRoutes mounts the judge routes on r.
func (h *JudgeController) RegisterRoutes(r gin.IRouter) {
	r.GET("/judge/status/:id", h.GetStatus)
	r.GET("/judge/queue", h.GetQueue)
}

// GetStatus returns the live status of one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	status, err := h.repo.Get(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// GetQueue returns the number of submissions waiting for a slot.
func (h *JudgeController) GetQueue(c *gin.Context) {
	depth := 0
	if h.queue != nil {
		depth = h.queue.Depth()
	}
	response.Success(c, gin.H{"depth": depth})
}
