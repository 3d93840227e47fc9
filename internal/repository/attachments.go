package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrAttachmentNotFound is returned when an attachment row does not exist.
var ErrAttachmentNotFound = fmt.Errorf("repository: attachment not found")

// AttachmentStore is the attachment-row persistence surface backing the
// attachment service. It lives alongside Store because both operate on the
// same embedded database, but is kept as its own narrow interface so the
// attachment service doesn't need the full session/message Store.
type AttachmentStore interface {
	InsertAttachment(ctx context.Context, a *models.Attachment) error
	GetAttachment(ctx context.Context, id string) (*models.Attachment, error)
	UpdateSignedURL(ctx context.Context, id, signedURL string, expiresAt time.Time) error
	DeleteAttachment(ctx context.Context, id string) error
	ListDetachedAttachments(ctx context.Context) ([]*models.Attachment, error)
}

// InsertAttachment implements AttachmentStore.
func (s *SQLiteStore) InsertAttachment(ctx context.Context, a *models.Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (attachment_id, session_id, blob_key, mime_type, size_bytes, signed_url, signed_url_expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.SessionID, a.BlobKey, a.MimeType, a.SizeBytes, a.SignedURL, a.SignedURLExpiresAt, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// GetAttachment implements AttachmentStore.
func (s *SQLiteStore) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	a := &models.Attachment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT attachment_id, session_id, blob_key, mime_type, size_bytes, signed_url, signed_url_expires_at, created_at
		FROM attachments WHERE attachment_id = ?
	`, id).Scan(&a.ID, &a.SessionID, &a.BlobKey, &a.MimeType, &a.SizeBytes, &a.SignedURL, &a.SignedURLExpiresAt, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}

// UpdateSignedURL implements AttachmentStore.
func (s *SQLiteStore) UpdateSignedURL(ctx context.Context, id, signedURL string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE attachments SET signed_url = ?, signed_url_expires_at = ? WHERE attachment_id = ?`,
		signedURL, expiresAt, id,
	)
	if err != nil {
		return fmt.Errorf("update signed url: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAttachmentNotFound
	}
	return nil
}

// DeleteAttachment implements AttachmentStore.
func (s *SQLiteStore) DeleteAttachment(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE attachment_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}

// ListDetachedAttachments returns attachment rows flagged detached by a
// session deletion, for the background reaper to sweep blobs for.
func (s *SQLiteStore) ListDetachedAttachments(ctx context.Context) ([]*models.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attachment_id, session_id, blob_key, mime_type, size_bytes, signed_url, signed_url_expires_at, created_at
		FROM attachments WHERE detached = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("list detached attachments: %w", err)
	}
	defer rows.Close()

	var out []*models.Attachment
	for rows.Next() {
		a := &models.Attachment{}
		if err := rows.Scan(&a.ID, &a.SessionID, &a.BlobKey, &a.MimeType, &a.SizeBytes, &a.SignedURL, &a.SignedURLExpiresAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
