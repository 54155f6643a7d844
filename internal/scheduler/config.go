package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/trialgate/internal/config"
)

const (
	JobReconcile = "reconcile"
	JobNotify    = "notify"
)

// Reconcile passes, in execution order.
const (
	passRemoveExpiredTrials = "remove_expired_trials"
	passRemoveLapsedPaid    = "remove_lapsed_paid"
	passLiftBans            = "lift_bans"
	passExpireStaleLinks    = "expire_stale_links"
	passHealMissedJoins     = "heal_missed_joins"
	passHealMissingInvites  = "heal_missing_invites"
)

// Notify passes.
const (
	passTrialWarnings = "trial_warnings"
	passPaidReminders = "paid_reminders"
)

// Config selects which jobs this process runs. Intervals, timeouts and batch
// sizes come from the hot-reloaded membership policy.
type Config struct {
	EnabledJobs []string
	// GuardSlack extends the guard lease past the sweep timeout so a slow
	// release never frees the key while the sweep still runs.
	GuardSlack time.Duration
}

func DefaultConfig() Config {
	return Config{
		GuardSlack: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.GuardSlack <= 0 {
		c.GuardSlack = defaults.GuardSlack
	}
	enabled := make([]string, 0, len(c.EnabledJobs))
	for _, job := range c.EnabledJobs {
		if job = strings.TrimSpace(job); job != "" {
			enabled = append(enabled, job)
		}
	}
	c.EnabledJobs = enabled
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{EnabledJobs: cfg.SchedulerJobs}.withDefaults()
}
