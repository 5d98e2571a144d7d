package store

import (
	"time"

	"github.com/wharfd/wharf/pkg/types"
)

// InstanceRecord is the durable bookkeeping kept per service between
// invocations: which runtime instance is current, which previous instance
// is retained as the rollback candidate, and the content identity the
// current instance was built from.
//
// Records are advisory. The container runtime remains the source of truth
// for what actually exists; the orchestrator reconciles records against
// runtime queries before acting on them.
type InstanceRecord struct {
	Service   string    `json:"service"`
	Current   string    `json:"current"`            // Runtime name of the current instance
	Previous  string    `json:"previous,omitempty"` // Rollback candidate, only during a transition
	Identity  string    `json:"identity"`           // Content identity of the current image
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists instance bookkeeping and cleanup eligibility between
// invocations.
type Store interface {
	// GetRecord returns the record for a service, or nil if none exists.
	GetRecord(service string) (*InstanceRecord, error)

	// PutRecord upserts a service's record.
	PutRecord(record *InstanceRecord) error

	// DeleteRecord removes a service's record.
	DeleteRecord(service string) error

	// ListRecords returns all records.
	ListRecords() ([]*InstanceRecord, error)

	// ReferencedIdentities returns the content identities referenced by
	// current specs and records, i.e. images that cleanup must keep.
	ReferencedIdentities(specs []*types.ServiceSpec) (map[string]bool, error)

	// KnownInstances returns every instance name any record refers to.
	// The last known instance of a service is never garbage collected.
	KnownInstances() (map[string]bool, error)

	Close() error
}
