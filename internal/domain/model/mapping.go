// Package model holds the domain types of the migration engine.
package model

import "time"

// ObjectType classifies a mapped source object.
type ObjectType string

const (
	ObjectPost       ObjectType = "post"
	ObjectAttachment ObjectType = "attachment"
	// ObjectAttachmentURL keys attachments imported from a bare uploads URL
	// by the CRC32 of their file path instead of a source id.
	ObjectAttachmentURL ObjectType = "attachment_url"
	ObjectTerm          ObjectType = "term"
	ObjectUser          ObjectType = "user"
)

// Valid reports whether t is one of the known object types.
func (t ObjectType) Valid() bool {
	switch t {
	case ObjectPost, ObjectAttachment, ObjectAttachmentURL, ObjectTerm, ObjectUser:
		return true
	}
	return false
}

// MappingEntry links a source object to the destination object created for it.
// (SourceScopeID, ObjectType, SourceID) is unique; DestID is not.
type MappingEntry struct {
	ID            uint64
	SourceScopeID int
	ObjectType    ObjectType
	SourceID      uint64
	DestID        uint64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
