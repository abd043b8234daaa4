package securestore

import (
	"errors"
	"path/filepath"
	"testing"

	"graphauth/go-backend/internal/testutil/fsperm"
)

func testSealer() *Sealer {
	return NewSealer(KDFParams{Time: 1, MemoryKB: 1024, Threads: 1})
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	s := testSealer()
	data, err := s.Encrypt("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	plain, err := s.Decrypt("pass", data)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(plain) != "secret" {
		t.Fatalf("unexpected plaintext: %q", string(plain))
	}
	if _, err := s.Decrypt("other", data); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptUsesRecordedKDFParams(t *testing.T) {
	data, err := testSealer().Encrypt("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	plain, err := NewSealer(DefaultKDFParams()).Decrypt("pass", data)
	if err != nil {
		t.Fatalf("decrypt with different sealer failed: %v", err)
	}
	if string(plain) != "secret" {
		t.Fatalf("unexpected plaintext: %q", string(plain))
	}
}

func TestDecryptTamperedFailsDeterministically(t *testing.T) {
	s := testSealer()
	data, err := s.Encrypt("pass", []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	data[len(data)-2] ^= 0xFF
	_, err = s.Decrypt("pass", data)
	if !errors.Is(err, ErrAuthFailed) && !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
	if _, err := s.Decrypt("pass", []byte("{}")); !errors.Is(err, ErrPlaintextData) {
		t.Fatalf("expected ErrPlaintextData, got %v", err)
	}
	if _, err := s.Encrypt(" ", []byte("x")); !errors.Is(err, ErrNoPassphrase) {
		t.Fatalf("expected ErrNoPassphrase, got %v", err)
	}
}

func TestWriteReadFile(t *testing.T) {
	s := testSealer()
	dir := filepath.Join(t.TempDir(), "state")
	path := filepath.Join(dir, "session.json")

	if err := s.WriteFile(path, "pass", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	fsperm.AssertPrivateDirPerm(t, dir)
	fsperm.AssertPrivateFilePerm(t, path)

	got, err := s.ReadFile(path, "pass")
	if err != nil || string(got) != `{"v":1}` {
		t.Fatalf("unexpected read: %q err=%v", string(got), err)
	}
	if _, err := s.ReadFile(path, ""); !errors.Is(err, ErrNoPassphrase) {
		t.Fatalf("expected ErrNoPassphrase, got %v", err)
	}

	if err := s.WriteFile(path, "", []byte("plain")); err != nil {
		t.Fatalf("plain write failed: %v", err)
	}
	if got, err := s.ReadFile(path, ""); err != nil || string(got) != "plain" {
		t.Fatalf("unexpected plain read: %q err=%v", string(got), err)
	}
	if !IsStorageConfigured(path, "pass") || IsStorageConfigured(path, " ") {
		t.Fatal("unexpected storage configuration check")
	}
}
