package models

import "time"

// Attachment is a stored blob (user upload or tool-generated image)
// associated with a session. SignedURL is refreshed lazily on read when
// stale; the blob itself is never re-fetched from the backing store to
// check staleness, only the URL's expiry is compared against now.
type Attachment struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"session_id"`
	BlobKey             string    `json:"blob_key"`
	MimeType            string    `json:"mime_type"`
	SizeBytes           int64     `json:"size_bytes"`
	SignedURL           string    `json:"signed_url"`
	SignedURLExpiresAt  time.Time `json:"signed_url_expires_at"`
	CreatedAt           time.Time `json:"created_at"`
}

// IsURLStale reports whether SignedURL has expired (or is about to, within
// the given skew) as of now and needs to be reissued before use.
func (a Attachment) IsURLStale(now time.Time, skew time.Duration) bool {
	return !now.Add(skew).Before(a.SignedURLExpiresAt)
}
