package passwords

import "testing"

func TestHashAndVerify(t *testing.T) {
	svc := NewArgon2id()

	hash, salt, params, err := svc.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if len(hash) != 32 || len(salt) != 16 {
		t.Fatalf("unexpected hash/salt lengths: %d/%d", len(hash), len(salt))
	}

	if !svc.Verify("correct horse battery staple", hash, salt, params) {
		t.Fatalf("expected correct password to verify")
	}
	if svc.Verify("wrong", hash, salt, params) {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestEmptyPasswordRejected(t *testing.T) {
	svc := NewArgon2id()
	if _, _, _, err := svc.Hash(""); err != ErrEmptyPassword {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
}
