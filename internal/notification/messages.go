package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// HumanDuration renders d as "3 days", "1 hour" or "now".
func HumanDuration(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	var epoch time.Time
	return strings.TrimSpace(humanize.RelTime(epoch, epoch.Add(d), "", ""))
}

func greeting(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Hi"
	}
	return "Hi " + name
}

func TrialInviteText(name, link string, trial time.Duration) string {
	return fmt.Sprintf("%s, here is your personal invite link: %s\nIt works once. Your trial lasts %s from the moment you join.",
		greeting(name), link, HumanDuration(trial))
}

func PaidInviteText(name, link string) string {
	return fmt.Sprintf("%s, thanks for your payment. Join with your personal link: %s\nIt works once.", greeting(name), link)
}

func WelcomeText(name string, trial time.Duration, paid bool) string {
	if paid {
		return fmt.Sprintf("%s, welcome to the group. Your access is active.", greeting(name))
	}
	return fmt.Sprintf("%s, welcome to the group. Your trial ends in %s.", greeting(name), HumanDuration(trial))
}

func TrialWarningText(name string, remaining time.Duration) string {
	return fmt.Sprintf("%s, your trial ends in %s. Pay to keep your access.", greeting(name), HumanDuration(remaining))
}

func RemovalText(name string) string {
	return fmt.Sprintf("%s, your trial has ended and you were removed from the group. Pay to get a new invite link.", greeting(name))
}

func PaidReminderText(name string, expiresAt, now time.Time) string {
	return fmt.Sprintf("%s, your access expires %s. Renew to stay in the group.",
		greeting(name), humanize.RelTime(expiresAt, now, "ago", "from now"))
}

func PaidRemovalText(name string) string {
	return fmt.Sprintf("%s, your paid access has lapsed and you were removed from the group. Renew to get a new invite link.", greeting(name))
}

func RemovalFailedAlert(subjectID int64, err error) string {
	return fmt.Sprintf("Removal of subject %d failed: %v", subjectID, err)
}

func PermissionAlert(op string, err error) string {
	return fmt.Sprintf("The bot lacks rights for %s: %v. Make it an administrator with invite and ban rights.", op, err)
}
