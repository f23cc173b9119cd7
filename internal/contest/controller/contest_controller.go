package controller

import (
	"context"
	"strconv"

	"arenajudge/internal/contest/ranking"
	"arenajudge/internal/contest/repository"
	"arenajudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	defaultPage  = 1
	defaultLimit = 20
)

// ContestReader is the part of the contest service used by the HTTP layer.
type ContestReader interface {
	GetContest(ctx context.Context, contestID string) (repository.Contest, error)
	GetContestResults(ctx context.Context, contestID string, page, limit int, search string) (ranking.Page, error)
	GetContestPrizes(ctx context.Context, contestID string) ([]ranking.Award, error)
}

// ContestController handles contest HTTP endpoints.
type ContestController struct {
	contests ContestReader
}

// NewContestController creates a new ContestController.
func NewContestController(contests ContestReader) *ContestController {
	return &ContestController{contests: contests}
}

// RegisterRoutes mounts the contest routes on r.
func (h *ContestController) RegisterRoutes(r gin.IRouter) {
	r.GET("/contests/:id", h.Get)
	r.GET("/contests/:id/results", h.Results)
	r.GET("/contests/:id/prizes", h.Prizes)
}

// Get returns one contest.
func (h *ContestController) Get(c *gin.Context) {
	contest, err := h.contests.GetContest(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, contest)
}

// Results returns one page of the leaderboard.
// Query: page (default 1), limit (default 20), search (username substring).
func (h *ContestController) Results(c *gin.Context) {
	page, ok := intQuery(c, "page", defaultPage)
	if !ok {
		response.BadRequest(c, "Invalid page")
		return
	}
	limit, ok := intQuery(c, "limit", defaultLimit)
	if !ok {
		response.BadRequest(c, "Invalid limit")
		return
	}
	results, err := h.contests.GetContestResults(c.Request.Context(), c.Param("id"), page, limit, c.Query("search"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, results)
}

// Prizes returns the prize split over the current leaderboard.
func (h *ContestController) Prizes(c *gin.Context) {
	awards, err := h.contests.GetContestPrizes(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"awards": awards})
}

func intQuery(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
