// Package auth verifies the admin key that guards wallet funding. Keys are
// stored as Argon2id hashes in PHC string format, so the cost parameters
// travel with the hash and can be raised without invalidating existing keys.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// params are Argon2id cost settings. Verification reads them back from the
// encoded hash, not from these defaults.
type params struct {
	memoryKiB uint32
	passes    uint32
	threads   uint8
	keyLen    uint32
}

var defaultParams = params{
	memoryKiB: 46 * 1024,
	passes:    2,
	threads:   1,
	keyLen:    32,
}

const saltLen = 16

// HashKey hashes an admin key with Argon2id and encodes it as a PHC string:
// $argon2id$v=19$m=...,t=...,p=...$<salt>$<hash> with unpadded base64.
func HashKey(key string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	return encodeHash(key, salt, defaultParams), nil
}

func encodeHash(key string, salt []byte, p params) string {
	hash := argon2.IDKey([]byte(key), salt, p.passes, p.memoryKiB, p.threads, p.keyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memoryKiB, p.passes, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
}

// DummyVerify burns one Argon2id computation at the default cost. Call on
// failure paths where no real hash was checked, so response timing does not
// reveal whether a key is configured.
func DummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, saltLen),
		defaultParams.passes, defaultParams.memoryKiB, defaultParams.threads, defaultParams.keyLen)
}

// VerifyKey checks an admin key against a PHC-encoded Argon2id hash, using
// the cost parameters carried by the hash itself.
func VerifyKey(key, encoded string) (bool, error) {
	salt, expected, p, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(key), salt, p.passes, p.memoryKiB, p.threads, p.keyLen)
	return subtle.ConstantTimeCompare(expected, computed) == 1, nil
}

func decodeHash(encoded string) (salt, hash []byte, p params, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return nil, nil, p, fmt.Errorf("auth: invalid hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, p, fmt.Errorf("auth: parse version: %w", err)
	}
	if version != argon2.Version {
		return nil, nil, p, fmt.Errorf("auth: unsupported argon2 version %d", version)
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memoryKiB, &p.passes, &p.threads); err != nil {
		return nil, nil, p, fmt.Errorf("auth: parse cost parameters: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, p, fmt.Errorf("auth: decode salt: %w", err)
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, p, fmt.Errorf("auth: decode hash: %w", err)
	}
	p.keyLen = uint32(len(hash))
	return salt, hash, p, nil
}
