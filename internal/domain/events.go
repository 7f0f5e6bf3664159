/**
 * @description
 * Event payloads published to RabbitMQ so downstream services (statements,
 * notifications, analytics) can react to instrument lifecycle and ledger
 * activity without polling.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionRecordedEvent is published after a ledger record commits.
type TransactionRecordedEvent struct {
	RecordID         uuid.UUID `json:"record_id"`
	Reference        string    `json:"reference"`
	InstrumentNumber string    `json:"instrument_number"`
	Kind             string    `json:"kind"`
	Outcome          string    `json:"outcome"`
	Amount           int64     `json:"amount"`
	Timestamp        time.Time `json:"timestamp"`
}

// InstrumentIssuedEvent is published when an approved application
// materializes a new instrument.
type InstrumentIssuedEvent struct {
	ApplicationNumber string    `json:"application_number"`
	InstrumentNumber  string    `json:"instrument_number"`
	InstrumentID      uuid.UUID `json:"instrument_id"`
	OwnerID           uuid.UUID `json:"owner_id"`
	Kind              string    `json:"kind"`
	Timestamp         time.Time `json:"timestamp"`
}

// ApplicationReviewedEvent is published when a reviewer decides an application.
type ApplicationReviewedEvent struct {
	ApplicationNumber string    `json:"application_number"`
	OwnerID           uuid.UUID `json:"owner_id"`
	Status            string    `json:"status"`
	ReviewerID        string    `json:"reviewer_id"`
	Timestamp         time.Time `json:"timestamp"`
}
