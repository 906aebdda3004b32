package models

import (
	"time"

	"github.com/google/uuid"
)

// Client status, plan and onboarding enums.
const (
	ClientStatusActive    = "active"
	ClientStatusPaused    = "paused"
	ClientStatusCancelled = "cancelled"

	PlanTrial   = "trial"
	PlanStarter = "starter"
	PlanGrowth  = "growth"
	PlanPro     = "pro"

	OnboardingNew        = "new"
	OnboardingInProgress = "onboarding"
	OnboardingLive       = "live"
	OnboardingPaused     = "paused"
)

// Client is an agency customer. A nil AmbassadorID marks a self-serve signup.
type Client struct {
	ID               uuid.UUID  `json:"id"`
	UserID           *uuid.UUID `json:"user_id,omitempty"`
	Name             string     `json:"name"`
	Email            string     `json:"email"`
	Status           string     `json:"status"`
	AmbassadorID     *uuid.UUID `json:"ambassador_id"`
	Plan             string     `json:"plan"`
	TrialEndsAt      *time.Time `json:"trial_ends_at"`
	OnboardingStatus string     `json:"onboarding_status"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func ValidClientStatus(s string) bool {
	return s == ClientStatusActive || s == ClientStatusPaused || s == ClientStatusCancelled
}

func ValidPlan(p string) bool {
	switch p {
	case PlanTrial, PlanStarter, PlanGrowth, PlanPro:
		return true
	}
	return false
}

func ValidOnboardingStatus(s string) bool {
	switch s {
	case OnboardingNew, OnboardingInProgress, OnboardingLive, OnboardingPaused:
		return true
	}
	return false
}
