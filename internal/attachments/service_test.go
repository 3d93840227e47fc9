package attachments

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/repository"
	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeBlobStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	signCnt int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: map[string][]byte{}}
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, data io.Reader, opts PutOptions) (string, error) {
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.blobs[key] = b
	f.mu.Unlock()
	return "fake://" + key, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	delete(f.blobs, key)
	f.mu.Unlock()
	return nil
}

func (f *fakeBlobStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	f.signCnt++
	f.mu.Unlock()
	return "https://example/" + key, nil
}

type fakeAttachmentStore struct {
	mu   sync.Mutex
	rows map[string]*models.Attachment
}

func newFakeAttachmentStore() *fakeAttachmentStore {
	return &fakeAttachmentStore{rows: map[string]*models.Attachment{}}
}

func (f *fakeAttachmentStore) InsertAttachment(ctx context.Context, a *models.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.rows[a.ID] = &cp
	return nil
}

func (f *fakeAttachmentStore) GetAttachment(ctx context.Context, id string) (*models.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrAttachmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAttachmentStore) UpdateSignedURL(ctx context.Context, id, signedURL string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return repository.ErrAttachmentNotFound
	}
	a.SignedURL = signedURL
	a.SignedURLExpiresAt = expiresAt
	return nil
}

func (f *fakeAttachmentStore) DeleteAttachment(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	return nil
}

func (f *fakeAttachmentStore) ListDetachedAttachments(ctx context.Context) ([]*models.Attachment, error) {
	return nil, nil
}

func TestSaveUploadRejectsDisallowedMime(t *testing.T) {
	svc := NewService(newFakeBlobStore(), newFakeAttachmentStore(), ServiceConfig{}, nil)
	_, err := svc.SaveUpload(context.Background(), "s1", []byte("x"), "application/x-executable", "evil.exe")
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSaveUploadRejectsOversizedFile(t *testing.T) {
	svc := NewService(newFakeBlobStore(), newFakeAttachmentStore(), ServiceConfig{MaxSizeBytes: 4}, nil)
	_, err := svc.SaveUpload(context.Background(), "s1", []byte("too big"), "image/png", "a.png")
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSaveUploadStoresBlobAndRow(t *testing.T) {
	blobs := newFakeBlobStore()
	rows := newFakeAttachmentStore()
	svc := NewService(blobs, rows, ServiceConfig{}, nil)

	a, err := svc.SaveUpload(context.Background(), "s1", []byte("hello"), "image/png", "../evil/name.png")
	if err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	if a.SessionID != "s1" || a.MimeType != "image/png" || a.SizeBytes != 5 {
		t.Errorf("unexpected attachment: %+v", a)
	}
	if blobs.blobs[a.BlobKey] == nil {
		t.Fatal("expected blob to be stored under BlobKey")
	}
	if bytes.Contains([]byte(a.BlobKey), []byte("..")) {
		t.Errorf("expected sanitized filename in blob key, got %q", a.BlobKey)
	}
	stored, err := rows.GetAttachment(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetAttachment: %v", err)
	}
	if stored.ID != a.ID {
		t.Errorf("stored row id mismatch")
	}
}

func TestRefreshIfStaleOnlyReissuesWhenNearExpiry(t *testing.T) {
	blobs := newFakeBlobStore()
	rows := newFakeAttachmentStore()
	svc := NewService(blobs, rows, ServiceConfig{RefreshSkew: time.Hour}, nil)

	fresh := &models.Attachment{ID: "a1", BlobKey: "k", SignedURLExpiresAt: time.Now().Add(24 * time.Hour)}
	if _, err := svc.RefreshIfStale(context.Background(), fresh); err != nil {
		t.Fatalf("RefreshIfStale: %v", err)
	}
	if blobs.signCnt != 0 {
		t.Errorf("expected no reissue for a fresh url, signCnt=%d", blobs.signCnt)
	}

	stale := &models.Attachment{ID: "a2", BlobKey: "k2", SignedURLExpiresAt: time.Now().Add(time.Minute)}
	rows.rows["a2"] = stale
	refreshed, err := svc.RefreshIfStale(context.Background(), stale)
	if err != nil {
		t.Fatalf("RefreshIfStale: %v", err)
	}
	if blobs.signCnt != 1 {
		t.Errorf("expected exactly one reissue for a stale url, signCnt=%d", blobs.signCnt)
	}
	if !refreshed.SignedURLExpiresAt.After(time.Now().Add(time.Hour)) {
		t.Errorf("expected refreshed expiry to be pushed out, got %v", refreshed.SignedURLExpiresAt)
	}
}

func TestDeleteRemovesBlobAndRow(t *testing.T) {
	blobs := newFakeBlobStore()
	rows := newFakeAttachmentStore()
	svc := NewService(blobs, rows, ServiceConfig{}, nil)

	a, err := svc.SaveUpload(context.Background(), "s1", []byte("hi"), "image/gif", "")
	if err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	if err := svc.Delete(context.Background(), a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := rows.GetAttachment(context.Background(), a.ID); err != repository.ErrAttachmentNotFound {
		t.Fatalf("expected row to be gone, got %v", err)
	}
	if _, ok := blobs.blobs[a.BlobKey]; ok {
		t.Error("expected blob to be deleted")
	}
}
