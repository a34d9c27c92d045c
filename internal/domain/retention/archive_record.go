package retention

import (
	"time"

	"github.com/google/uuid"

	"github.com/custodialabs/evidence-custody-backend/internal/domain/errors"
	"github.com/custodialabs/evidence-custody-backend/internal/domain/values"
)

// ArchiveRecord tracks an evidence payload moved to sealed cold storage.
// The pre-archive content digest is retained so a restore can prove the
// payload came back byte-identical.
type ArchiveRecord struct {
	ID         uuid.UUID `json:"id"`
	EvidenceID uuid.UUID `json:"evidence_id"`

	// ArchiveRef locates the sealed payload in archive storage
	ArchiveRef string `json:"archive_ref"`
	// OriginalRef is the active-storage reference the payload came from
	OriginalRef string `json:"original_ref"`

	ContentDigest values.HashValue `json:"content_digest"`
	SizeBytes     int64            `json:"size_bytes"`

	ArchivedBy string    `json:"archived_by"`
	ArchivedAt time.Time `json:"archived_at"`

	RestoredAt *time.Time `json:"restored_at,omitempty"`
	DisposedAt *time.Time `json:"disposed_at,omitempty"`
}

// NewArchiveRecord creates an archive record with validation
func NewArchiveRecord(evidenceID uuid.UUID, archiveRef, originalRef string, contentDigest values.HashValue, sizeBytes int64, archivedBy string) (*ArchiveRecord, error) {
	if evidenceID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_EVIDENCE_ID",
			"evidence ID is required")
	}

	if archiveRef == "" {
		return nil, errors.NewValidationError("MISSING_ARCHIVE_REF",
			"archive reference is required")
	}

	if contentDigest.IsEmpty() {
		return nil, errors.NewValidationError("MISSING_DIGEST",
			"the pre-archive content digest is required")
	}

	if archivedBy == "" {
		return nil, errors.NewUnauthorizedError(
			"a verified actor identity is required to archive evidence")
	}

	return &ArchiveRecord{
		ID:            uuid.New(),
		EvidenceID:    evidenceID,
		ArchiveRef:    archiveRef,
		OriginalRef:   originalRef,
		ContentDigest: contentDigest,
		SizeBytes:     sizeBytes,
		ArchivedBy:    archivedBy,
		ArchivedAt:    time.Now().UTC(),
	}, nil
}

// Sealed reports whether the archived payload is still held
func (r *ArchiveRecord) Sealed() bool {
	return r.RestoredAt == nil && r.DisposedAt == nil
}

// MarkRestored records that the payload returned to active storage
func (r *ArchiveRecord) MarkRestored() error {
	if !r.Sealed() {
		return errors.NewValidationError("ARCHIVE_NOT_SEALED",
			"archive record is no longer sealed")
	}
	now := time.Now().UTC()
	r.RestoredAt = &now
	return nil
}

// MarkDisposed records destruction of the archived payload
func (r *ArchiveRecord) MarkDisposed() error {
	if !r.Sealed() {
		return errors.NewValidationError("ARCHIVE_NOT_SEALED",
			"archive record is no longer sealed")
	}
	now := time.Now().UTC()
	r.DisposedAt = &now
	return nil
}
