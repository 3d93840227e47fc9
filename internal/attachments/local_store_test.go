package attachments

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestLocalStorePutSignAndOpenRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/api/attachments", []byte("test-signing-key"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	ctx := context.Background()
	key := "sess-1/att-1__photo.png"
	data := []byte("pixels")

	if _, err := store.Put(ctx, key, bytes.NewReader(data), PutOptions{MimeType: "image/png"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	url, err := store.SignedURL(ctx, key, time.Hour)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if !containsToken(url) {
		t.Fatalf("expected signed url to carry a token, got %q", url)
	}

	token := tokenFromURL(url)
	if err := store.VerifyToken(key, token); err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if err := store.VerifyToken("other-key", token); err == nil {
		t.Fatal("expected VerifyToken to reject a mismatched key")
	}

	reader, err := store.Open(key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "pixels" {
		t.Errorf("got %q, want %q", got, "pixels")
	}
}

func TestLocalStoreRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/api/attachments", []byte("key"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if _, err := store.Put(context.Background(), "../../etc/passwd", bytes.NewReader([]byte("x")), PutOptions{}); err == nil {
		t.Fatal("expected path traversal key to be rejected")
	}
}

func TestLocalStoreExpiredTokenFailsVerification(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, "/api/attachments", []byte("key"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	url, err := store.SignedURL(context.Background(), "k", -time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if err := store.VerifyToken("k", tokenFromURL(url)); err == nil {
		t.Fatal("expected expired token to fail verification")
	}
}

func containsToken(url string) bool {
	return len(tokenFromURL(url)) > 0
}

func tokenFromURL(url string) string {
	const marker = "?token="
	idx := strings.Index(url, marker)
	if idx < 0 {
		return ""
	}
	return url[idx+len(marker):]
}
