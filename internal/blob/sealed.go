package blob

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	gcmMagic   = "GCM3NCR0"
	cbcMagic   = "3NCR0PTD"
	kdfRounds  = 100000
	saltLen    = 16
	gcmNonce   = 12
	gcmTagSize = 16
)

// ErrCorrupt is returned when a sealed object cannot be opened.
var ErrCorrupt = errors.New("blob: sealed object corrupt or wrong password")

// Sealed encrypts object bodies at rest. Keys and listings pass through untouched.
// Objects are written in the GCM envelope; the older CBC envelope is still readable.
type Sealed struct {
	inner    Store
	password []byte
}

func NewSealed(inner Store, password string) *Sealed {
	return &Sealed{inner: inner, password: []byte(password)}
}

func (s *Sealed) Put(ctx context.Context, key string, data []byte, contentType string) error {
	sealed, err := s.seal(data)
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	return s.inner.Put(ctx, key, sealed, "application/octet-stream")
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plain, err := s.open(raw)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return plain, nil
}

func (s *Sealed) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *Sealed) Ping(ctx context.Context) error {
	if p, ok := s.inner.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// seal format: magic(8) + salt(16) + nonce(12) + ciphertext + tag(16)
func (s *Sealed) seal(data []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	gcm, err := s.gcm(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcmNonce)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	out := make([]byte, 0, len(gcmMagic)+saltLen+gcmNonce+len(data)+gcmTagSize)
	out = append(out, gcmMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

func (s *Sealed) open(raw []byte) ([]byte, error) {
	if len(raw) < 8 {
		return nil, ErrCorrupt
	}
	switch string(raw[:8]) {
	case gcmMagic:
		return s.openGCM(raw)
	case cbcMagic:
		return s.openCBC(raw)
	default:
		return nil, ErrCorrupt
	}
}

func (s *Sealed) gcm(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(s.password, salt, kdfRounds, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (s *Sealed) openGCM(raw []byte) ([]byte, error) {
	if len(raw) < 8+saltLen+gcmNonce+gcmTagSize {
		return nil, ErrCorrupt
	}
	salt := raw[8 : 8+saltLen]
	nonce := raw[8+saltLen : 8+saltLen+gcmNonce]
	gcm, err := s.gcm(salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, raw[8+saltLen+gcmNonce:], nil)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plain, nil
}

// CBC format: magic(8) + sha256(32) + length(8) + salt(16) + iv(16) + ciphertext
func (s *Sealed) openCBC(raw []byte) ([]byte, error) {
	if len(raw) < 8+32+8+saltLen+aes.BlockSize {
		return nil, ErrCorrupt
	}
	storedHash := raw[8:40]
	length := binary.BigEndian.Uint64(raw[40:48])
	body := raw[48:]
	if uint64(len(body)) != length {
		return nil, ErrCorrupt
	}
	sum := sha256.Sum256(body)
	if !bytes.Equal(storedHash, sum[:]) {
		return nil, ErrCorrupt
	}
	salt, iv, ct := body[:saltLen], body[saltLen:saltLen+aes.BlockSize], body[saltLen+aes.BlockSize:]
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, ErrCorrupt
	}
	key := pbkdf2.Key(s.password, salt, kdfRounds, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	pad := int(plain[len(plain)-1])
	if pad == 0 || pad > aes.BlockSize {
		return nil, ErrCorrupt
	}
	for _, b := range plain[len(plain)-pad:] {
		if int(b) != pad {
			return nil, ErrCorrupt
		}
	}
	return plain[:len(plain)-pad], nil
}
