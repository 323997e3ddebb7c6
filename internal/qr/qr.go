package qr

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"ms-ledger/internal/models"
	"ms-ledger/internal/utils"
)

const payloadPrefix = "MSL1."

// Codec seals wallet codes into opaque voucher payloads and renders them as
// QR images. Only holders of the secret can turn a payload back into a code.
type Codec struct {
	aead cipher.AEAD
	size int
}

func NewCodec(secret string, size int) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("qr secret key is empty")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	if size <= 0 {
		size = 256
	}
	return &Codec{aead: aead, size: size}, nil
}

// Seal encrypts a code into a printable payload. Each call uses a fresh
// nonce, so sealing the same code twice gives different payloads.
func (c *Codec) Seal(code string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(code), nil)
	return payloadPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Resolve turns a scanned payload back into its wallet code.
func (c *Codec) Resolve(payload string) (string, error) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, payloadPrefix) {
		return "", models.ErrInvalidCode
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(payload, payloadPrefix))
	if err != nil || len(raw) < c.aead.NonceSize() {
		return "", models.ErrInvalidCode
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", models.ErrInvalidCode
	}
	code := string(plain)
	if !utils.ValidCode(code) {
		return "", models.ErrInvalidCode
	}
	return code, nil
}

// PNG renders the sealed payload for code as a QR image.
func (c *Codec) PNG(code string) ([]byte, error) {
	payload, err := c.Seal(code)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(payload, qrcode.Medium, c.size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
