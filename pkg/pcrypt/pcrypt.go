package pcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation and cipher parameters. These are wire-format: a page
// encrypted by one implementation must decrypt with any other.
const (
	KeyLen     = 24 // AES-192
	SaltLen    = 16
	IVLen      = 16
	Iterations = 524288
)

// ErrBlockAlign reports ciphertext or plaintext that is not a multiple
// of the AES block size.
var ErrBlockAlign = errors.New("data not a multiple of the cipher block size")

// DeriveKey stretches a password into an AES-192 key with
// PBKDF2-SHA256.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeyLen, sha256.New)
}

// NewSalt returns a fresh random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	_, err := io.ReadFull(rand.Reader, salt)
	if err != nil {
		return nil, err
	}
	return salt, nil
}

// NewIV returns a fresh random initialization vector.
func NewIV() ([]byte, error) {
	iv := make([]byte, IVLen)
	_, err := io.ReadFull(rand.Reader, iv)
	if err != nil {
		return nil, err
	}
	return iv, nil
}

// Encrypt applies AES-CBC in place over a 16-byte aligned buffer.
func Encrypt(key, iv, data []byte) error {

	if len(data)%aes.BlockSize != 0 {
		return ErrBlockAlign
	}

	c, err := aes.NewCipher(key)
	if err != nil {
		return err
	}

	cipher.NewCBCEncrypter(c, iv).CryptBlocks(data, data)
	return nil
}

// Decrypt reverses Encrypt in place.
func Decrypt(key, iv, data []byte) error {

	if len(data)%aes.BlockSize != 0 {
		return ErrBlockAlign
	}

	c, err := aes.NewCipher(key)
	if err != nil {
		return err
	}

	cipher.NewCBCDecrypter(c, iv).CryptBlocks(data, data)
	return nil
}
