package domain

import "time"

// AuditRecord carries the audit timestamps and soft-delete flag shared by all
// persisted entities. Entities embed it instead of redeclaring the fields.
type AuditRecord struct {
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// NewAuditRecord returns an audit record stamped with the given creation time.
func NewAuditRecord(now time.Time) AuditRecord {
	return AuditRecord{CreatedAt: now, UpdatedAt: now}
}

// MarkDeleted flags the record as soft-deleted at the given time. Rows are
// never removed; reads filter on IsDeleted instead.
func (a *AuditRecord) MarkDeleted(now time.Time) {
	a.IsDeleted = true
	a.DeletedAt = &now
	a.UpdatedAt = now
}

// Validatable is implemented by entities that can check their own invariants
// before being persisted.
type Validatable interface {
	Validate() error
}

// SoftDeletable is implemented by entities that support soft deletion with a
// guard check. BlockReason returns a non-empty reason when deletion must be
// refused.
type SoftDeletable interface {
	BlockReason() string
}
