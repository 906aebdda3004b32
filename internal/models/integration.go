package models

import "time"

// SystemConfig is the singleton row holding the shared Google identity used by
// every tenant to read spreadsheets.
type SystemConfig struct {
	GoogleAccessToken  string     `json:"-"`
	GoogleRefreshToken string     `json:"-"`
	GoogleTokenType    string     `json:"-"`
	GoogleTokenExpiry  *time.Time `json:"google_token_expiry"`
	GoogleEmail        string     `json:"google_email"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// GoogleIntegration is the singleton row written by the per-admin OAuth flow.
type GoogleIntegration struct {
	AdminEmail   string     `json:"admin_email"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	TokenType    string     `json:"-"`
	Expiry       *time.Time `json:"expiry"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
