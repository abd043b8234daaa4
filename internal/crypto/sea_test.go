package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func newTestSEA() *SEA {
	return NewSEA(WithArgon2Params(Argon2Params{Time: 1, MemoryKB: 1024, Threads: 1}))
}

func TestPairDeterministicForSeed(t *testing.T) {
	s := newTestSEA()
	seed := []byte("test-seed-material")
	k1, err := s.Pair(seed)
	if err != nil {
		t.Fatalf("pair 1 failed: %v", err)
	}
	k2, err := s.Pair(seed)
	if err != nil {
		t.Fatalf("pair 2 failed: %v", err)
	}
	if !k1.Equal(k2) {
		t.Fatal("seeded pairs should be identical")
	}
	if !k1.Complete() {
		t.Fatalf("pair must be complete: %#v", k1)
	}
	pub, err := PublicKeyFromPrivate(k1.Priv)
	if err != nil {
		t.Fatalf("public from private failed: %v", err)
	}
	if pub != k1.Pub {
		t.Fatal("public key must be recomputable from private seed")
	}
}

func TestPairRandomWithoutSeed(t *testing.T) {
	s := newTestSEA()
	k1, err := s.Pair(nil)
	if err != nil {
		t.Fatalf("pair 1 failed: %v", err)
	}
	k2, err := s.Pair(nil)
	if err != nil {
		t.Fatalf("pair 2 failed: %v", err)
	}
	if k1.Pub == k2.Pub {
		t.Fatal("unseeded pairs should differ")
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	s := newTestSEA()
	ct, err := s.Encrypt([]byte("secret"), "key-material")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	plain, err := s.Decrypt(ct, "key-material")
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(plain) != "secret" {
		t.Fatalf("unexpected plaintext: %q", string(plain))
	}
	if _, err := s.Decrypt(ct, "other-key"); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt for wrong key, got %v", err)
	}
}

func TestDecryptTamperedFails(t *testing.T) {
	s := newTestSEA()
	ct, err := s.Encrypt([]byte("secret"), "key")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	raw := []byte(ct)
	mid := len(raw) / 2
	if raw[mid] == 'A' {
		raw[mid] = 'B'
	} else {
		raw[mid] = 'A'
	}
	if _, err := s.Decrypt(string(raw), "key"); err == nil {
		t.Fatal("expected tampered ciphertext to fail")
	}
	if _, err := s.Decrypt("not-a-ciphertext", "key"); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestWorkDeterministicAndSaltSensitive(t *testing.T) {
	s := newTestSEA()
	cases := []WorkOptions{{Name: WorkSHA256}, {Name: WorkArgon2id}}
	for _, opts := range cases {
		a, err := s.Work("input", "salt", opts)
		if err != nil {
			t.Fatalf("%s work failed: %v", opts.Name, err)
		}
		b, _ := s.Work("input", "salt", opts)
		c, _ := s.Work("input", "other-salt", opts)
		if a != b {
			t.Fatalf("%s work must be deterministic", opts.Name)
		}
		if a == c {
			t.Fatalf("%s work must depend on salt", opts.Name)
		}
	}
	if _, err := s.Work("input", "", WorkOptions{Name: "PBKDF9"}); !errors.Is(err, ErrUnsupportedWork) {
		t.Fatalf("expected ErrUnsupportedWork, got %v", err)
	}
}

func TestSecretAgreement(t *testing.T) {
	s := newTestSEA()
	alice, _ := s.Pair(nil)
	bob, _ := s.Pair(nil)
	ab, err := s.Secret(bob.EPub, alice)
	if err != nil {
		t.Fatalf("secret failed: %v", err)
	}
	ba, err := s.Secret(alice.EPub, bob)
	if err != nil {
		t.Fatalf("secret failed: %v", err)
	}
	if ab != ba {
		t.Fatal("shared secrets must match")
	}
	if _, err := s.Secret("bogus", alice); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestSignVerify(t *testing.T) {
	s := newTestSEA()
	pair, _ := s.Pair(nil)
	other, _ := s.Pair(nil)
	sig, err := s.Sign([]byte("payload"), pair)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if !s.Verify([]byte("payload"), sig, pair.Pub) {
		t.Fatal("signature should verify")
	}
	if s.Verify([]byte("payload"), sig, other.Pub) {
		t.Fatal("signature must not verify under a different key")
	}
	if s.Verify([]byte("changed"), sig, pair.Pub) {
		t.Fatal("signature must not verify for different data")
	}
}

func TestWithRandomDrivesFreshPairs(t *testing.T) {
	entropy := bytes.Repeat([]byte{7}, 64)
	a, err := NewSEA(WithRandom(bytes.NewReader(entropy))).Pair(nil)
	if err != nil {
		t.Fatalf("pair a: %v", err)
	}
	b, err := NewSEA(WithRandom(bytes.NewReader(entropy))).Pair(nil)
	if err != nil {
		t.Fatalf("pair b: %v", err)
	}
	if a != b {
		t.Fatal("same entropy must give the same pair")
	}

	_, err = NewSEA(WithRandom(bytes.NewReader(nil))).Pair(nil)
	if err == nil {
		t.Fatal("exhausted entropy must fail")
	}
}
