package shared

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/desertthunder/datainserter/internal/models"
)

// Identity v3 password hash parameters (PBKDF2 with HMAC-SHA256).
const (
	hashFormatV3     = 0x01
	hashPRFSHA256    = 1
	HashIterations   = 100_000
	hashSaltSize     = 16
	hashSubkeySize   = 32
	hashHeaderLength = 13
)

// HashPassword produces an ASP.NET Identity v3 password hash for password with a random salt.
func HashPassword(password string) (string, error) {
	salt := make([]byte, hashSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hashPasswordWithSalt(password, salt, HashIterations), nil
}

func hashPasswordWithSalt(password string, salt []byte, iterations int) string {
	subkey := pbkdf2.Key([]byte(password), salt, iterations, hashSubkeySize, sha256.New)

	out := make([]byte, hashHeaderLength, hashHeaderLength+len(salt)+len(subkey))
	out[0] = hashFormatV3
	binary.BigEndian.PutUint32(out[1:5], hashPRFSHA256)
	binary.BigEndian.PutUint32(out[5:9], uint32(iterations))
	binary.BigEndian.PutUint32(out[9:13], uint32(len(salt)))
	out = append(out, salt...)
	out = append(out, subkey...)

	return base64.StdEncoding.EncodeToString(out)
}

// VerifyPassword reports whether hash is a v3 hash of password.
func VerifyPassword(hash, password string) bool {
	raw, err := base64.StdEncoding.DecodeString(hash)
	if err != nil || len(raw) < hashHeaderLength || raw[0] != hashFormatV3 {
		return false
	}
	if binary.BigEndian.Uint32(raw[1:5]) != hashPRFSHA256 {
		return false
	}

	iterations := int(binary.BigEndian.Uint32(raw[5:9]))
	saltLen := int(binary.BigEndian.Uint32(raw[9:13]))
	if saltLen <= 0 || len(raw) < hashHeaderLength+saltLen+hashSubkeySize {
		return false
	}

	salt := raw[hashHeaderLength : hashHeaderLength+saltLen]
	expected := raw[hashHeaderLength+saltLen:]
	actual := pbkdf2.Key([]byte(password), salt, iterations, len(expected), sha256.New)
	return bytes.Equal(expected, actual)
}

// CommonFields resolves the shared account fields for one run.
//
// An explicit password hash wins over default_password, and blank stamps get one generated value for the run.
func (c CommonFieldsConfig) CommonFields() (models.CommonFields, error) {
	fields := models.CommonFields{
		PasswordHash:     c.PasswordHash,
		SecurityStamp:    c.SecurityStamp,
		ConcurrencyStamp: c.ConcurrencyStamp,
	}

	if fields.PasswordHash == "" && c.DefaultPassword != "" {
		hash, err := HashPassword(c.DefaultPassword)
		if err != nil {
			return models.CommonFields{}, err
		}
		fields.PasswordHash = hash
	}
	if fields.SecurityStamp == "" {
		fields.SecurityStamp = uuid.NewString()
	}
	if fields.ConcurrencyStamp == "" {
		fields.ConcurrencyStamp = uuid.NewString()
	}

	return fields, nil
}
