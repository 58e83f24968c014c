package cloud

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGhostDownloadTokenRoundTrip(t *testing.T) {
	key := []byte("test-signing-key")
	txID := uuid.New()

	raw, err := GhostDownloadToken(key, txID, "photo.jpg", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tx, file, err := ParseGhostDownloadToken(key, raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tx != txID.String() {
		t.Fatalf("expected tx %s, got %s", txID, tx)
	}
	if file != "photo.jpg" {
		t.Fatalf("expected file photo.jpg, got %s", file)
	}
}

func TestGhostDownloadTokenWrongKey(t *testing.T) {
	raw, err := GhostDownloadToken([]byte("key-a"), uuid.New(), "f", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := ParseGhostDownloadToken([]byte("key-b"), raw); err == nil {
		t.Fatalf("expected wrong-key token to be rejected")
	}
}

func TestGhostDownloadTokenExpired(t *testing.T) {
	key := []byte("k")
	raw, err := GhostDownloadToken(key, uuid.New(), "f", -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, _, err := ParseGhostDownloadToken(key, raw); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
