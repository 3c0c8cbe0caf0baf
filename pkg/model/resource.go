package model

import (
	"time"
)

// Countable hospital capacity categories.
const (
	ResourceBeds              = "beds"
	ResourceICU               = "icu"
	ResourceOperationTheatres = "operationTheatres"
)

// ResourceTypes lists every valid resource type, in display order.
var ResourceTypes = []string{ResourceBeds, ResourceICU, ResourceOperationTheatres}

func IsValidResourceType(rt string) bool {
	for _, t := range ResourceTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// PoolCounters is the counter set of a resource pool. It appears both as
// the live state on ResourcePool and as before/after snapshots on audit
// entries.
type PoolCounters struct {
	Total       int `json:"total" bson:"total" validate:"min=0"`
	Available   int `json:"available" bson:"available" validate:"min=0"`
	Occupied    int `json:"occupied" bson:"occupied" validate:"min=0"`
	Reserved    int `json:"reserved" bson:"reserved" validate:"min=0"`
	Maintenance int `json:"maintenance" bson:"maintenance" validate:"min=0"`
}

// Consistent reports whether the counters satisfy the pool invariant:
// available + occupied + reserved + maintenance == total, all non-negative.
func (c PoolCounters) Consistent() bool {
	if c.Total < 0 || c.Available < 0 || c.Occupied < 0 || c.Reserved < 0 || c.Maintenance < 0 {
		return false
	}
	return c.Available+c.Occupied+c.Reserved+c.Maintenance == c.Total
}

// ResourcePool tracks one hospital's capacity for one resource type.
// Mutated only through the resource service; the version field backs
// compare-and-swap admin updates.
type ResourcePool struct {
	ID           string       `json:"id,omitempty" bson:"_id,omitempty"`
	HospitalID   string       `json:"hospital_id" bson:"hospital_id" validate:"required"`
	ResourceType string       `json:"resource_type" bson:"resource_type" validate:"required,oneof=beds icu operationTheatres"`
	Counters     PoolCounters `json:"counters" bson:"counters,inline"`
	Version      int64        `json:"version" bson:"version"`
	CreatedAt    time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" bson:"updated_at"`
}

// Audit change types, one per mutation path.
const (
	ChangeAllocated   = "allocated"
	ChangeCompleted   = "completed"
	ChangeCancelled   = "cancelled"
	ChangeAdminUpdate = "admin_update"
)

// ResourceAuditEntry is one append-only row per counter mutation, keyed to
// the causing booking and actor.
type ResourceAuditEntry struct {
	ID           string       `json:"id,omitempty" bson:"_id,omitempty"`
	HospitalID   string       `json:"hospital_id" bson:"hospital_id"`
	ResourceType string       `json:"resource_type" bson:"resource_type"`
	ChangeType   string       `json:"change_type" bson:"change_type"`
	Quantity     int          `json:"quantity" bson:"quantity"`
	BookingID    string       `json:"booking_id,omitempty" bson:"booking_id,omitempty"`
	ChangedBy    string       `json:"changed_by" bson:"changed_by"`
	OldValue     PoolCounters `json:"old_value" bson:"old_value"`
	NewValue     PoolCounters `json:"new_value" bson:"new_value"`
	Timestamp    time.Time    `json:"timestamp" bson:"timestamp"`
}
