package attachments

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LocalStore stores attachment blobs on the local filesystem and issues
// signed URLs as a short-lived JWT over the blob key, verified by the HTTP
// layer's attachment-serving handler.
type LocalStore struct {
	basePath  string
	servePath string
	signer    []byte
}

// NewLocalStore creates a local-disk blob store. servePath is the URL
// prefix the HTTP layer mounts the blob-serving handler under, e.g.
// "/api/attachments".
func NewLocalStore(basePath, servePath string, signingKey []byte) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment directory: %w", err)
	}
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}
	return &LocalStore{basePath: basePath, servePath: servePath, signer: signingKey}, nil
}

// Put implements Store.
func (s *LocalStore) Put(ctx context.Context, key string, data io.Reader, opts PutOptions) (string, error) {
	filePath, err := s.resolvePath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	tmpPath := filePath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename blob: %w", err)
	}

	return fmt.Sprintf("file://%s", key), nil
}

// Delete implements Store.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	filePath, err := s.resolvePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Open returns the blob's bytes for the serving handler, after verifying
// the caller's claimed key matches the signed token.
func (s *LocalStore) Open(key string) (io.ReadCloser, error) {
	filePath, err := s.resolvePath(key)
	if err != nil {
		return nil, err
	}
	return os.Open(filePath)
}

// SignedURL implements Store by minting a short-lived JWT over the blob key.
func (s *LocalStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   key,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signer)
	if err != nil {
		return "", fmt.Errorf("sign url token: %w", err)
	}
	return fmt.Sprintf("%s/%s?token=%s", s.servePath, key, signed), nil
}

// VerifyToken checks a signed-URL token and returns the blob key it
// authorizes, or an error if the token is invalid, expired, or doesn't
// match key.
func (s *LocalStore) VerifyToken(key, token string) error {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.signer, nil
	})
	if err != nil || !parsed.Valid {
		return fmt.Errorf("invalid signed url token: %w", err)
	}
	if claims.Subject != key {
		return fmt.Errorf("token does not authorize key %q", key)
	}
	return nil
}

func (s *LocalStore) resolvePath(key string) (string, error) {
	cleaned := filepath.Clean("/" + key)
	filePath := filepath.Join(s.basePath, cleaned)
	rel, err := filepath.Rel(s.basePath, filePath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob key: %q", key)
	}
	return filePath, nil
}
