package attachments

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/repository"
	"github.com/haasonsaas/nexus/pkg/models"
)

// ServiceConfig bounds uploads and signed-URL lifetimes.
type ServiceConfig struct {
	MaxSizeBytes    int64
	RetentionTTL    time.Duration
	RefreshSkew     time.Duration
	ReapInterval    time.Duration
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.MaxSizeBytes <= 0 {
		c.MaxSizeBytes = 20 * 1024 * 1024
	}
	if c.RetentionTTL <= 0 {
		c.RetentionTTL = 7 * 24 * time.Hour
	}
	if c.RefreshSkew <= 0 {
		c.RefreshSkew = time.Hour
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = time.Hour
	}
	return c
}

// ValidationError is returned for upload rejections (mime/size), mapped to
// a 4xx at the HTTP boundary.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "attachment validation: " + e.Reason }

// Service mediates uploads and tool-generated media: blob storage, row
// persistence, signed-URL freshness, and blob reaping after session delete.
type Service struct {
	store  Store
	repo   repository.AttachmentStore
	cfg    ServiceConfig
	logger *slog.Logger
}

// NewService builds an attachment service over the given blob store and
// repository.
func NewService(store Store, repo repository.AttachmentStore, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, repo: repo, cfg: cfg.withDefaults(), logger: logger}
}

// SaveUpload validates, stores, and records a user-uploaded file.
func (s *Service) SaveUpload(ctx context.Context, sessionID string, data []byte, declaredMime, declaredName string) (*models.Attachment, error) {
	if !AllowedMimeTypes[declaredMime] {
		return nil, &ValidationError{Reason: fmt.Sprintf("mime type %q is not allowed", declaredMime)}
	}
	if int64(len(data)) > s.cfg.MaxSizeBytes {
		return nil, &ValidationError{Reason: fmt.Sprintf("file size %d exceeds limit %d", len(data), s.cfg.MaxSizeBytes)}
	}
	return s.save(ctx, sessionID, data, declaredMime, sanitizeFilename(declaredName))
}

// SaveToolImage stores a tool-produced image with no user-supplied name.
func (s *Service) SaveToolImage(ctx context.Context, sessionID string, data []byte, mime string) (*models.Attachment, error) {
	return s.save(ctx, sessionID, data, mime, "")
}

func (s *Service) save(ctx context.Context, sessionID string, data []byte, mime, safeName string) (*models.Attachment, error) {
	id := uuid.NewString()
	blobKey := attachmentBlobKey(sessionID, id, safeName)

	if _, err := s.store.Put(ctx, blobKey, bytes.NewReader(data), PutOptions{MimeType: mime}); err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	signedURL, err := s.store.SignedURL(ctx, blobKey, s.cfg.RetentionTTL)
	if err != nil {
		return nil, fmt.Errorf("issue signed url: %w", err)
	}

	now := time.Now().UTC()
	attachment := &models.Attachment{
		ID:                 id,
		SessionID:          sessionID,
		BlobKey:            blobKey,
		MimeType:           mime,
		SizeBytes:          int64(len(data)),
		SignedURL:          signedURL,
		SignedURLExpiresAt: now.Add(s.cfg.RetentionTTL),
		CreatedAt:          now,
	}
	if err := s.repo.InsertAttachment(ctx, attachment); err != nil {
		return nil, fmt.Errorf("record attachment: %w", err)
	}
	return attachment, nil
}

// RefreshIfStale reissues a's signed URL (and persists it) if it's within
// the configured refresh skew of expiring.
func (s *Service) RefreshIfStale(ctx context.Context, a *models.Attachment) (*models.Attachment, error) {
	if !a.IsURLStale(time.Now(), s.cfg.RefreshSkew) {
		return a, nil
	}
	signedURL, err := s.store.SignedURL(ctx, a.BlobKey, s.cfg.RetentionTTL)
	if err != nil {
		return nil, fmt.Errorf("refresh signed url: %w", err)
	}
	expiresAt := time.Now().UTC().Add(s.cfg.RetentionTTL)
	if err := s.repo.UpdateSignedURL(ctx, a.ID, signedURL, expiresAt); err != nil {
		return nil, fmt.Errorf("persist refreshed url: %w", err)
	}
	a.SignedURL = signedURL
	a.SignedURLExpiresAt = expiresAt
	return a, nil
}

// Delete removes the attachment's row and its blob.
func (s *Service) Delete(ctx context.Context, attachmentID string) error {
	a, err := s.repo.GetAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, a.BlobKey); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return s.repo.DeleteAttachment(ctx, attachmentID)
}

// RunReaper periodically sweeps blobs for attachments whose session was
// deleted, until ctx is done.
func (s *Service) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()

	s.logger.Info("attachment reaper started", "interval", s.cfg.ReapInterval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("attachment reaper stopping")
			return
		case <-ticker.C:
			count, err := s.reapOnce(ctx)
			if err != nil {
				s.logger.Error("attachment reap failed", "error", err)
			} else if count > 0 {
				s.logger.Info("attachment reap completed", "swept", count)
			}
		}
	}
}

func (s *Service) reapOnce(ctx context.Context) (int, error) {
	detached, err := s.repo.ListDetachedAttachments(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, a := range detached {
		if err := s.Delete(ctx, a.ID); err != nil {
			s.logger.Warn("failed to reap attachment", "id", a.ID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

func attachmentBlobKey(sessionID, attachmentID, safeName string) string {
	if safeName == "" {
		return path.Join(sessionID, attachmentID)
	}
	return path.Join(sessionID, attachmentID+"__"+safeName)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	return name
}
