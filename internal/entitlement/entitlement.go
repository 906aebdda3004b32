// Package entitlement answers plan questions about a client. Every function is
// pure; callers pass the current time.
package entitlement

import (
	"time"

	"github.com/klaroops/backend/internal/models"
)

type Limits struct {
	HistoryDays int   `json:"history_days"`
	MaxDatasets int   `json:"max_datasets"`
	Alerts      bool  `json:"alerts"`
	AIChat      bool  `json:"ai_chat"`
	PriceCents  int64 `json:"price_cents"`
}

var plans = map[string]Limits{
	models.PlanTrial:   {HistoryDays: 7, MaxDatasets: 1, Alerts: false, AIChat: true, PriceCents: 0},
	models.PlanStarter: {HistoryDays: 30, MaxDatasets: 1, Alerts: false, AIChat: false, PriceCents: 4900},
	models.PlanGrowth:  {HistoryDays: 90, MaxDatasets: 3, Alerts: true, AIChat: true, PriceCents: 9900},
	models.PlanPro:     {HistoryDays: 365, MaxDatasets: 10, Alerts: true, AIChat: true, PriceCents: 19900},
}

// PlanLimits returns the limits for plan; unknown plans get trial limits.
func PlanLimits(plan string) Limits {
	if l, ok := plans[plan]; ok {
		return l
	}
	return plans[models.PlanTrial]
}

func IsTrialActive(c *models.Client, now time.Time) bool {
	return c.Plan == models.PlanTrial && c.TrialEndsAt != nil && c.TrialEndsAt.After(now)
}

// IsTrialExpired treats a trial without an end date as expired.
func IsTrialExpired(c *models.Client, now time.Time) bool {
	return c.Plan == models.PlanTrial && (c.TrialEndsAt == nil || !c.TrialEndsAt.After(now))
}

func CanAccessHistory(c *models.Client, daysRequested int) bool {
	return daysRequested <= PlanLimits(c.Plan).HistoryDays
}

func CanChat(c *models.Client, now time.Time) bool {
	if !PlanLimits(c.Plan).AIChat {
		return false
	}
	if c.Plan == models.PlanTrial || !models.ValidPlan(c.Plan) {
		return IsTrialActive(c, now)
	}
	return true
}

type Summary struct {
	Plan          string     `json:"plan"`
	Limits        Limits     `json:"limits"`
	TrialActive   bool       `json:"trial_active"`
	TrialExpired  bool       `json:"trial_expired"`
	TrialEndsAt   *time.Time `json:"trial_ends_at"`
	CanChat       bool       `json:"can_chat"`
	DaysRemaining int        `json:"trial_days_remaining"`
}

// Summarize reports the capability set shown to a client user.
func Summarize(c *models.Client, now time.Time) Summary {
	s := Summary{
		Plan:         c.Plan,
		Limits:       PlanLimits(c.Plan),
		TrialActive:  IsTrialActive(c, now),
		TrialExpired: IsTrialExpired(c, now),
		TrialEndsAt:  c.TrialEndsAt,
		CanChat:      CanChat(c, now),
	}
	if s.TrialActive {
		s.DaysRemaining = int(c.TrialEndsAt.Sub(now).Hours()/24) + 1
	}
	return s
}
