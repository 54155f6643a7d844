package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	"github.com/smallbiznis/trialgate/internal/notification"
	"github.com/smallbiznis/trialgate/internal/observability/logger"
	"github.com/smallbiznis/trialgate/internal/platform"
	"github.com/smallbiznis/trialgate/pkg/db/pagination"
	"go.uber.org/zap"
)

type issueInviteRequest struct {
	SubjectID   int64  `json:"subject_id"`
	DisplayName string `json:"display_name"`
	Kind        string `json:"kind"`
	// Notify defaults to true: the link is messaged to the subject.
	Notify *bool `json:"notify"`
}

type issueInviteResponse struct {
	invitedomain.IssueResult
	Delivered bool `json:"delivered"`
}

func (s *Server) IssueInvite(c *gin.Context) {
	var req issueInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	kind, err := parseOptionalKind(req.Kind)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if kind == nil {
		trial := invitedomain.KindTrial
		kind = &trial
	}

	ctx := c.Request.Context()
	issue := invitedomain.IssueRequest{
		SubjectID:   req.SubjectID,
		DisplayName: strings.TrimSpace(req.DisplayName),
	}
	var result invitedomain.IssueResult
	if *kind == invitedomain.KindPaid {
		result, err = s.inviteSvc.IssuePaid(ctx, issue)
	} else {
		result, err = s.inviteSvc.IssueTrial(ctx, issue)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := issueInviteResponse{IssueResult: result}
	if req.Notify == nil || *req.Notify {
		resp.Delivered = s.deliverInvite(c, *kind, result)
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// deliverInvite messages the link to the subject. A failed delivery does not
// fail the request because the caller already holds the link.
func (s *Server) deliverInvite(c *gin.Context, kind invitedomain.Kind, result invitedomain.IssueResult) bool {
	if s.notifier == nil || result.Invite == nil {
		return false
	}
	inv := result.Invite
	notice := notification.Notice{ChatID: inv.SubjectID}
	if kind == invitedomain.KindPaid {
		notice.Kind = notification.KindPaidInvite
		notice.Text = notification.PaidInviteText(inv.DisplayName, result.Link)
	} else {
		notice.Kind = notification.KindTrialInvite
		notice.Text = notification.TrialInviteText(inv.DisplayName, result.Link, s.policy.Get().TrialDuration)
	}

	ctx := c.Request.Context()
	if err := s.notifier.Send(ctx, notice); err != nil {
		logger.WithContext(ctx, s.log).Warn("invite not delivered",
			zap.Int64("subject_id", inv.SubjectID),
			zap.String("error_kind", platform.Kind(err)),
		)
		return false
	}
	return true
}

func (s *Server) CheckInviteLink(c *gin.Context) {
	var query struct {
		Link string `form:"link"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.inviteSvc.CheckLink(c.Request.Context(), query.Link)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListInvites(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Status  string `form:"status"`
		Kind    string `form:"kind"`
		InGroup string `form:"in_group"`
		HasPaid string `form:"has_paid"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var (
		filter invitedomain.Filter
		err    error
	)
	if filter.Status, err = parseOptionalStatus(query.Status); err != nil {
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}
	if filter.Kind, err = parseOptionalKind(query.Kind); err != nil {
		AbortWithError(c, err)
		return
	}
	if filter.InGroup, err = parseOptionalBool(query.InGroup); err != nil {
		AbortWithError(c, newValidationError("in_group", "invalid_in_group", "invalid in_group"))
		return
	}
	if filter.HasPaid, err = parseOptionalBool(query.HasPaid); err != nil {
		AbortWithError(c, newValidationError("has_paid", "invalid_has_paid", "invalid has_paid"))
		return
	}

	cursor, err := pagination.DecodeCursor(query.PageToken)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	afterID, err := parseCursorID(cursor.ID)
	if err != nil {
		AbortWithError(c, pagination.ErrInvalidPageToken)
		return
	}

	rows, err := s.inviteRepo.ListPage(c.Request.Context(), s.db, filter, afterID, query.PageSize+1)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	rows, pageInfo, err := pagination.BuildCursorPageInfo(rows, query.PageSize, func(inv *invitedomain.Invite) pagination.Cursor {
		return pagination.Cursor{ID: inv.ID.String()}
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": pageInfo})
}
