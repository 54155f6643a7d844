package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MembershipPolicy is the tunable part of the membership lifecycle. It is
// hot-reloaded, so consumers read it through the holder on every sweep.
type MembershipPolicy struct {
	TrialDuration           time.Duration   `mapstructure:"trial_duration"`
	PaidPeriod              time.Duration   `mapstructure:"paid_period"`
	WarningBuckets          []time.Duration `mapstructure:"warning_buckets"`
	ReconcileInterval       time.Duration   `mapstructure:"reconcile_interval"`
	NotifyInterval          time.Duration   `mapstructure:"notify_interval"`
	BanCooldown             time.Duration   `mapstructure:"ban_cooldown"`
	FreshInvitePerAdmission bool            `mapstructure:"fresh_invite_per_admission"`
	SelfHeal                bool            `mapstructure:"self_heal"`
	PaidWarningWindow       time.Duration   `mapstructure:"paid_warning_window"`
	PaidReminderSpacing     time.Duration   `mapstructure:"paid_reminder_spacing"`
	MaxPaidReminders        int             `mapstructure:"max_paid_reminders"`
	SweepTimeout            time.Duration   `mapstructure:"sweep_timeout"`
	BatchSize               int             `mapstructure:"batch_size"`
}

func DefaultMembershipPolicy() MembershipPolicy {
	return MembershipPolicy{
		TrialDuration:           72 * time.Hour,
		PaidPeriod:              0,
		WarningBuckets:          []time.Duration{24 * time.Hour, time.Hour},
		ReconcileInterval:       time.Minute,
		NotifyInterval:          5 * time.Minute,
		BanCooldown:             time.Minute,
		FreshInvitePerAdmission: true,
		SelfHeal:                true,
		PaidWarningWindow:       72 * time.Hour,
		PaidReminderSpacing:     24 * time.Hour,
		MaxPaidReminders:        2,
		SweepTimeout:            2 * time.Minute,
		BatchSize:               100,
	}
}

// SortedBuckets returns the warning buckets ordered from the widest to the narrowest.
func (p MembershipPolicy) SortedBuckets() []time.Duration {
	out := append([]time.Duration(nil), p.WarningBuckets...)
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	return out
}

type MembershipPolicyHolder struct {
	current atomic.Value // holds MembershipPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(policy MembershipPolicy) *MembershipPolicyHolder {
	holder := &MembershipPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewMembershipPolicyHolder(log *zap.Logger) (*MembershipPolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.membership")

	v := viper.New()
	v.SetConfigName("membership")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/trialgate/config")
	v.AddConfigPath("/etc/trialgate")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TRIALGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setMembershipDefaults(v, DefaultMembershipPolicy())

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	policy, err := decodeMembershipPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)

	if fileFound && getenvBool("TRIALGATE_POLICY_WATCH", true) {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeMembershipPolicy(v)
			if err != nil {
				log.Warn("membership policy reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("membership policy reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *MembershipPolicyHolder) Get() MembershipPolicy {
	return h.current.Load().(MembershipPolicy)
}

// Set replaces the current policy after validating it.
func (h *MembershipPolicyHolder) Set(policy MembershipPolicy) error {
	if err := ValidateMembershipPolicy(policy); err != nil {
		return err
	}
	h.current.Store(policy)
	return nil
}

func setMembershipDefaults(v *viper.Viper, d MembershipPolicy) {
	buckets := make([]string, 0, len(d.WarningBuckets))
	for _, b := range d.WarningBuckets {
		buckets = append(buckets, b.String())
	}
	v.SetDefault("membership.trial_duration", d.TrialDuration.String())
	v.SetDefault("membership.paid_period", d.PaidPeriod.String())
	v.SetDefault("membership.warning_buckets", buckets)
	v.SetDefault("membership.reconcile_interval", d.ReconcileInterval.String())
	v.SetDefault("membership.notify_interval", d.NotifyInterval.String())
	v.SetDefault("membership.ban_cooldown", d.BanCooldown.String())
	v.SetDefault("membership.fresh_invite_per_admission", d.FreshInvitePerAdmission)
	v.SetDefault("membership.self_heal", d.SelfHeal)
	v.SetDefault("membership.paid_warning_window", d.PaidWarningWindow.String())
	v.SetDefault("membership.paid_reminder_spacing", d.PaidReminderSpacing.String())
	v.SetDefault("membership.max_paid_reminders", d.MaxPaidReminders)
	v.SetDefault("membership.sweep_timeout", d.SweepTimeout.String())
	v.SetDefault("membership.batch_size", d.BatchSize)
}

// decodeMembershipPolicy unmarshals the whole settings tree. UnmarshalKey
// would only see the keys present in the file and skip nested defaults.
func decodeMembershipPolicy(v *viper.Viper) (MembershipPolicy, error) {
	var wrap struct {
		Membership MembershipPolicy `mapstructure:"membership"`
	}
	if err := v.Unmarshal(&wrap); err != nil {
		return MembershipPolicy{}, err
	}
	if err := ValidateMembershipPolicy(wrap.Membership); err != nil {
		return MembershipPolicy{}, err
	}
	return wrap.Membership, nil
}

func ValidateMembershipPolicy(p MembershipPolicy) error {
	positive := []struct {
		key   string
		value time.Duration
	}{
		{"membership.trial_duration", p.TrialDuration},
		{"membership.reconcile_interval", p.ReconcileInterval},
		{"membership.notify_interval", p.NotifyInterval},
		{"membership.ban_cooldown", p.BanCooldown},
		{"membership.paid_warning_window", p.PaidWarningWindow},
		{"membership.paid_reminder_spacing", p.PaidReminderSpacing},
		{"membership.sweep_timeout", p.SweepTimeout},
	}
	for _, f := range positive {
		if f.value <= 0 {
			return fmt.Errorf("%s must be positive", f.key)
		}
	}
	if p.PaidPeriod < 0 {
		return errors.New("membership.paid_period cannot be negative")
	}
	if p.MaxPaidReminders < 0 {
		return errors.New("membership.max_paid_reminders cannot be negative")
	}
	if p.BatchSize <= 0 {
		return errors.New("membership.batch_size must be positive")
	}
	seen := map[time.Duration]struct{}{}
	for _, b := range p.WarningBuckets {
		if b <= 0 {
			return errors.New("membership.warning_buckets must be positive")
		}
		if _, dup := seen[b]; dup {
			return fmt.Errorf("membership.warning_buckets contains %s twice", b)
		}
		seen[b] = struct{}{}
	}
	return nil
}
