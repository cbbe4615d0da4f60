package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/chatquiz/internal/errors"
	"github.com/victornm/chatquiz/internal/leaderboard"
)

func (a *API) registerRoutes(r gin.IRouter) {
	v1 := r.Group("/v1")

	v1.GET("/session", a.handleGetSession)
	v1.GET("/session/scores", a.handleGetScores)
	v1.GET("/session/leaderboard", a.handleGetLeaderboard)
	v1.POST("/session/abort", a.handleAbort)
	v1.POST("/session/reset", a.handleReset)
	v1.GET("/sessions/:id/rounds", a.handleListRounds)
}

func (a *API) handleGetSession(c *gin.Context) {
	c.JSON(http.StatusOK, a.sessionFields())
}

func (a *API) handleGetScores(c *gin.Context) {
	f, err := a.scoreFields()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func (a *API) handleGetLeaderboard(c *gin.Context) {
	if a.leaderboard == nil {
		writeError(c, errLeaderboardDisabled)
		return
	}

	l, err := a.leaderboard.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		SessionID: a.session.Snapshot().ID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toLeaderboard(*l))
}

func (a *API) handleAbort(c *gin.Context) {
	if err := a.session.Abort(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleReset(c *gin.Context) {
	a.session.Reset(c.Request.Context())
	c.JSON(http.StatusOK, a.sessionFields())
}

func (a *API) handleListRounds(c *gin.Context) {
	if a.archive == nil {
		writeError(c, errArchiveDisabled)
		return
	}

	rounds, err := a.archive.ListRounds(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]gin.H, 0, len(rounds))
	for i, r := range rounds {
		out = append(out, gin.H{"round": i + 1, "winners": r.Winners})
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "rounds": out})
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
