package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	overview "github.com/smallbiznis/trialgate/internal/overview/domain"
)

func parseSubjectID(value string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || parsed == 0 {
		return 0, invitedomain.ErrInvalidSubject
	}
	return parsed, nil
}

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalStatus(value string) (*invitedomain.Status, error) {
	trimmed := invitedomain.Status(strings.ToLower(strings.TrimSpace(value)))
	switch trimmed {
	case "":
		return nil, nil
	case invitedomain.StatusActive, invitedomain.StatusUsed, invitedomain.StatusExpired:
		return &trimmed, nil
	}
	return nil, ErrInvalidRequest
}

func parseOptionalKind(value string) (*invitedomain.Kind, error) {
	trimmed := invitedomain.Kind(strings.ToLower(strings.TrimSpace(value)))
	switch trimmed {
	case "":
		return nil, nil
	case invitedomain.KindTrial, invitedomain.KindPaid:
		return &trimmed, nil
	}
	return nil, invitedomain.ErrInvalidKind
}

func parseCursorID(value string) (snowflake.ID, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	return snowflake.ParseString(strings.TrimSpace(value))
}

// parseOptionalWithin accepts a Go duration or a whole number of days such as "7d".
func parseOptionalWithin(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, overview.ErrInvalidWithin
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return 0, overview.ErrInvalidWithin
	}
	return parsed, nil
}
