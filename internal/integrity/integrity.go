// Package integrity provides the tamper-evidence layer for mirrored
// calendar events.
//
// Every persisted event carries a checksum over its mutable fields which
// is verified on read; a mismatch marks storage-level tampering or
// corruption and gates the event out of automatic conflict resolution.
// Conflict snapshots, which can contain care-related free text, are
// encrypted before they touch disk.
package integrity

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/kincareapp/kincare/internal/model"
)

var (
	// ErrChecksumMismatch indicates the stored event bytes no longer match
	// the checksum they were written with.
	ErrChecksumMismatch = errors.New("integrity: checksum mismatch")

	// ErrWeakKey indicates the master key is below the minimum size.
	ErrWeakKey = errors.New("integrity: master key too weak")
)

// minKeySize is the minimum master key size in bytes.
const minKeySize = 16

// sealedPrefix marks an encrypted conflict snapshot. Payloads without it
// are parsed as legacy plaintext JSON for migration compatibility.
var sealedPrefix = []byte("kcv1")

// Guard computes and verifies event checksums and seals conflict
// snapshots. Construct with NewGuard; the zero value only checksums.
type Guard struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewGuard creates a guard whose snapshot key is derived from masterKey
// via HKDF-SHA256 with a fixed domain separation label. The master key is
// expected to come from the platform's secure key store.
func NewGuard(masterKey []byte) (*Guard, error) {
	if len(masterKey) < minKeySize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrWeakKey, len(masterKey), minKeySize)
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte("kincare:conflict-snapshot"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init failed: %w", err)
	}

	return &Guard{aead: aead}, nil
}

// Checksum computes the hex checksum over an event snapshot. The
// serialization is canonical (fixed field order, UTC nanosecond times) so
// the mapper's determinism carries through to checksum stability.
func Checksum(f model.EventFields) string {
	h := sha256.New()
	io.WriteString(h, f.Title)
	io.WriteString(h, "\x00")
	io.WriteString(h, f.Description)
	io.WriteString(h, "\x00")
	io.WriteString(h, f.StartAt.UTC().Format(time.RFC3339Nano))
	io.WriteString(h, "\x00")
	io.WriteString(h, f.EndAt.UTC().Format(time.RFC3339Nano))
	io.WriteString(h, "\x00")
	io.WriteString(h, strconv.FormatBool(f.AllDay))
	io.WriteString(h, "\x00")
	io.WriteString(h, f.Location)
	io.WriteString(h, "\x00")
	io.WriteString(h, f.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}

// Stamp recomputes and stores the event's checksum. Call before every
// persist.
func Stamp(e *model.CalendarEvent) {
	e.Checksum = Checksum(e.Fields())
}

// Verify recomputes the checksum of an event read from storage and
// compares it in constant time against the stored value. Events written
// before checksumming was introduced (empty checksum) pass.
func Verify(e *model.CalendarEvent) error {
	if e.Checksum == "" {
		return nil
	}
	computed := Checksum(e.Fields())
	if subtle.ConstantTimeCompare([]byte(computed), []byte(e.Checksum)) != 1 {
		return fmt.Errorf("%w: event %s", ErrChecksumMismatch, e.ID)
	}
	return nil
}

// SealConflict encrypts a conflict record for persistence. A guard without
// a key writes the plaintext legacy format.
func (g *Guard) SealConflict(rec *model.ConflictRecord) ([]byte, error) {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conflict record: %w", err)
	}
	if g.aead == nil {
		return plaintext, nil
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealedPrefix)+len(nonce)+len(plaintext)+chacha20poly1305.Overhead)
	out = append(out, sealedPrefix...)
	out = append(out, nonce...)
	out = g.aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// OpenConflict decrypts a persisted conflict payload. Payloads without the
// sealed prefix are parsed as legacy plaintext snapshots.
func (g *Guard) OpenConflict(data []byte) (*model.ConflictRecord, error) {
	if len(data) == 0 {
		return nil, errors.New("integrity: empty conflict payload")
	}

	var rec model.ConflictRecord
	if len(data) < len(sealedPrefix) || string(data[:len(sealedPrefix)]) != string(sealedPrefix) {
		// Legacy unencrypted snapshot.
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to parse legacy conflict payload: %w", err)
		}
		return &rec, nil
	}

	if g.aead == nil {
		return nil, errors.New("integrity: conflict payload is encrypted but no key is configured")
	}

	body := data[len(sealedPrefix):]
	if len(body) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("integrity: truncated conflict payload")
	}
	nonce, ciphertext := body[:chacha20poly1305.NonceSizeX], body[chacha20poly1305.NonceSizeX:]

	plaintext, err := g.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt conflict payload: %w", err)
	}
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse conflict record: %w", err)
	}
	return &rec, nil
}
