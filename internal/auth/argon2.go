package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2AlgorithmID           = "argon2id"
	minArgon2MemoryKB    uint32 = 8 * 1024
	minArgon2Time        uint32 = 1
	minArgon2Parallelism uint8  = 1
	minArgon2SaltLength  uint32 = 16
	minArgon2KeyLength   uint32 = 16
)

// Argon2Config holds argon2id parameters.
type Argon2Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config returns the production parameters.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2Hasher hashes passwords with argon2id and encodes them in PHC form:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt b64>$<hash b64>
type Argon2Hasher struct {
	config Argon2Config
}

var _ Hasher = (*Argon2Hasher)(nil)

type argon2Params struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// NewArgon2Hasher validates cfg and returns a hasher.
func NewArgon2Hasher(cfg Argon2Config) (*Argon2Hasher, error) {
	switch {
	case cfg.Memory < minArgon2MemoryKB:
		return nil, fmt.Errorf("auth: argon2 memory must be >= %d KiB", minArgon2MemoryKB)
	case cfg.Time < minArgon2Time:
		return nil, errors.New("auth: argon2 time must be >= 1")
	case cfg.Parallelism < minArgon2Parallelism:
		return nil, errors.New("auth: argon2 parallelism must be >= 1")
	case cfg.SaltLength < minArgon2SaltLength:
		return nil, fmt.Errorf("auth: argon2 salt length must be >= %d", minArgon2SaltLength)
	case cfg.KeyLength < minArgon2KeyLength:
		return nil, fmt.Errorf("auth: argon2 key length must be >= %d", minArgon2KeyLength)
	}
	return &Argon2Hasher{config: cfg}, nil
}

// Hash derives an argon2id key with a fresh random salt.
func (a *Argon2Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("auth: reading salt: %w", err)
	}

	key := argon2.IDKey([]byte(plaintext), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2AlgorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify re-derives the key with the parameters stored in hash and compares
// in constant time.
func (a *Argon2Hasher) Verify(hash, plaintext string) (bool, error) {
	p, err := parseArgon2Hash(hash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(plaintext), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.hash)))
	return subtle.ConstantTimeCompare(computed, p.hash) == 1, nil
}

func (a *Argon2Hasher) Recognizes(hash string) bool {
	return strings.HasPrefix(hash, "$"+argon2AlgorithmID+"$")
}

func parseArgon2Hash(encoded string) (*argon2Params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argon2AlgorithmID {
		return nil, errors.New("auth: invalid argon2id hash format")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, errors.New("auth: unsupported argon2 version")
	}

	var p argon2Params
	for _, pair := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.New("auth: invalid argon2 parameter entry")
		}
		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || uint32(n) < minArgon2MemoryKB {
				return nil, errors.New("auth: invalid argon2 memory parameter")
			}
			p.memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || uint32(n) < minArgon2Time {
				return nil, errors.New("auth: invalid argon2 time parameter")
			}
			p.time = uint32(n)
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || uint8(n) < minArgon2Parallelism {
				return nil, errors.New("auth: invalid argon2 parallelism parameter")
			}
			p.parallelism = uint8(n)
		default:
			return nil, errors.New("auth: unsupported argon2 parameter")
		}
	}
	if p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return nil, errors.New("auth: missing argon2 parameters")
	}

	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(p.salt) < int(minArgon2SaltLength) {
		return nil, errors.New("auth: invalid argon2 salt")
	}
	if p.hash, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.hash) == 0 {
		return nil, errors.New("auth: invalid argon2 hash")
	}

	return &p, nil
}
