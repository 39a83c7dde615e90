package pcrypt

import (
	"bytes"
	"testing"
)

func TestDeriveKeyDeterministic(t *testing.T) {

	salt := []byte("0123456789abcdef")

	k1 := DeriveKey("correct horse battery staple", salt)
	k2 := DeriveKey("correct horse battery staple", salt)

	if len(k1) != KeyLen {
		t.Fatalf("expected %d byte key, got %d", KeyLen, len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Errorf("key derivation must be deterministic")
	}

	k3 := DeriveKey("wrong", salt)
	if bytes.Equal(k1, k3) {
		t.Errorf("different passwords produced the same key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {

	salt := []byte("fedcba9876543210")
	iv := []byte("0123456789abcdef")
	key := DeriveKey("secret", salt)

	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	plain := make([]byte, len(data))
	copy(plain, data)

	err := Encrypt(key, iv, data)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(data, plain) {
		t.Fatalf("ciphertext equals plaintext")
	}

	err = Decrypt(key, iv, data)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, plain) {
		t.Errorf("round trip mismatch")
	}
}

func TestAlignmentEnforced(t *testing.T) {

	key := make([]byte, KeyLen)
	iv := make([]byte, IVLen)

	err := Encrypt(key, iv, make([]byte, 15))
	if err != ErrBlockAlign {
		t.Errorf("expected alignment error, got %v", err)
	}

	err = Decrypt(key, iv, make([]byte, 17))
	if err != ErrBlockAlign {
		t.Errorf("expected alignment error, got %v", err)
	}
}

func TestRandomMaterial(t *testing.T) {

	s1, err := NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	s2, err := NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	if len(s1) != SaltLen || bytes.Equal(s1, s2) {
		t.Errorf("salts must be %d random bytes", SaltLen)
	}

	iv, err := NewIV()
	if err != nil {
		t.Fatal(err)
	}
	if len(iv) != IVLen {
		t.Errorf("iv must be %d bytes", IVLen)
	}
}
