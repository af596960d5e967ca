package common

import "time"

// SyncCheckpoint is the singleton scanner cursor.
type SyncCheckpoint struct {
	LastProcessedBlock         uint64     `json:"last_processed_block"`
	LastSuccessfulSync         *time.Time `json:"last_successful_sync,omitempty"`
	LastErrorAt                *time.Time `json:"last_error_at,omitempty"`
	LastErrorMessage           string     `json:"last_error_message,omitempty"`
	TotalProcessedTransactions uint64     `json:"total_processed_transactions"`
	TotalProcessedEvents       uint64     `json:"total_processed_events"`
	IsSyncing                  bool       `json:"is_syncing"`
	UpdatedAt                  time.Time  `json:"updated_at"`
}

// CheckpointAdvance describes one durably ingested scanner batch.
type CheckpointAdvance struct {
	Block        uint64
	Transactions int
	Events       int
	At           time.Time
}
