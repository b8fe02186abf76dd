package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                         uuid.UUID  `json:"id"`
	Email                      string     `json:"email"`
	DisplayName                string     `json:"display_name"`
	PasswordHash               string     `json:"-"`
	Credits                    int        `json:"credits"`
	RadioCredits               int        `json:"radio_credits"`
	TotalCreditsUsed           int        `json:"total_credits_used"`
	IsRadioSubscribed          bool       `json:"is_radio_subscribed"`
	RadioSubscriptionExpiresAt *time.Time `json:"radio_subscription_expires_at,omitempty"`
	CreatedAt                  time.Time  `json:"created_at"`
	UpdatedAt                  time.Time  `json:"updated_at"`
}
