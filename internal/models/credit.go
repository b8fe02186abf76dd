package models

import (
	"time"

	"github.com/google/uuid"
)

// Currency names the balance a ledger entry applies to. General credits pay
// for one-off generations; radio credits pay for the radio feature and are
// accounted separately.
type Currency string

const (
	CurrencyCredits Currency = "credits"
	CurrencyRadio   Currency = "radio"
)

// Related-entity types recorded on ledger entries.
const (
	RelatedContentTask     = "content_task"
	RelatedCheckoutSession = "checkout_session"
	RelatedPaymentEvent    = "payment_event"
)

// CreditLogEntry is an append-only audit record. Amount is signed: positive
// entries credit the balance, negative entries debit it. BalanceAfter is a
// snapshot taken inside the same transaction that applied the change, so for
// every user and currency the latest BalanceAfter always equals the live
// balance field.
type CreditLogEntry struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	Currency          Currency  `json:"currency"`
	Amount            int       `json:"amount"`
	BalanceAfter      int       `json:"balance_after"`
	Description       string    `json:"description"`
	RelatedEntityID   *string   `json:"related_entity_id,omitempty"`
	RelatedEntityType *string   `json:"related_entity_type,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
