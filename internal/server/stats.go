package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/trialgate/internal/notification"
	overview "github.com/smallbiznis/trialgate/internal/overview/domain"
)

type statsQuery struct {
	Within string `form:"within"`
	Limit  int    `form:"limit" binding:"gte=0,lte=500"`
}

func (q statsQuery) request() (overview.Request, error) {
	within, err := parseOptionalWithin(q.Within)
	if err != nil {
		return overview.Request{}, err
	}
	return overview.Request{Within: within, Limit: q.Limit}, nil
}

type statsResponse struct {
	overview.Stats
	WithinText string `json:"within_text"`
}

func (s *Server) GetStats(c *gin.Context) {
	var query statsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req, err := query.request()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.overviewSvc.GetStats(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": statsResponse{
		Stats:      stats,
		WithinText: notification.HumanDuration(stats.Within),
	}})
}

func (s *Server) ListExpiring(c *gin.Context) {
	var query statsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req, err := query.request()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	rows, err := s.overviewSvc.ListExpiring(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if rows == nil {
		rows = []overview.Expiring{}
	}

	c.JSON(http.StatusOK, gin.H{"data": rows})
}
