package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	memberdomain "github.com/smallbiznis/trialgate/internal/member/domain"
	"github.com/smallbiznis/trialgate/internal/notification"
)

type registerMemberRequest struct {
	SubjectID   int64          `json:"subject_id"`
	DisplayName string         `json:"display_name"`
	Username    string         `json:"username"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) RegisterMember(c *gin.Context) {
	var req registerMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.memberSvc.Register(c.Request.Context(), memberdomain.RegisterRequest{
		SubjectID:   req.SubjectID,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Username:    strings.TrimSpace(req.Username),
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type memberStatusResponse struct {
	SubjectID     int64                     `json:"subject_id"`
	Phase         string                    `json:"phase"`
	Remaining     string                    `json:"remaining,omitempty"`
	RemainingSecs int64                     `json:"remaining_seconds"`
	Trial         invitedomain.StatusReport `json:"trial"`
	Member        *memberdomain.Member      `json:"member,omitempty"`
}

func (s *Server) GetMemberStatus(c *gin.Context) {
	subjectID, err := parseSubjectID(c.Param("subject_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	report, err := s.inviteSvc.Status(ctx, subjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	member, err := s.memberSvc.Get(ctx, subjectID)
	if err != nil && !errors.Is(err, memberdomain.ErrMemberNotFound) {
		AbortWithError(c, err)
		return
	}
	if member == nil && report.Invite == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	resp := memberStatusResponse{
		SubjectID:     subjectID,
		Phase:         report.Phase,
		RemainingSecs: int64(report.Remaining.Seconds()),
		Trial:         report,
		Member:        member,
	}
	if report.Remaining > 0 {
		resp.Remaining = notification.HumanDuration(report.Remaining)
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListMemberInvites(c *gin.Context) {
	subjectID, err := parseSubjectID(c.Param("subject_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.inviteSvc.List(c.Request.Context(), subjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RecordPayment(c *gin.Context) {
	subjectID, err := parseSubjectID(c.Param("subject_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.inviteSvc.RecordPayment(c.Request.Context(), subjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
