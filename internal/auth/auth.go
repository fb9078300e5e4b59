// Package auth provides JWT-based authentication for the relay gateway.
//
// Uses Ed25519 (EdDSA) for JWT signing. The signing seed is persisted in
// a key file so tokens survive restarts; a missing file is generated on
// first run.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"relay-ai/internal/domain"
)

// Claims extends jwt.RegisteredClaims with relay-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// JWTManager handles JWT creation and validation using Ed25519.
type JWTManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	issuer     string
	expiration time.Duration
}

// NewJWTManager creates a JWTManager signing with the seed stored at
// keyFile. An empty keyFile generates an ephemeral key pair, so issued
// tokens die with the process.
func NewJWTManager(keyFile, issuer string, expiration time.Duration) (*JWTManager, error) {
	var seed []byte
	switch {
	case keyFile == "":
		seed = make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("auth: generate key: %w", err)
		}
	default:
		data, err := os.ReadFile(keyFile)
		switch {
		case err == nil:
			seed, err = hex.DecodeString(string(data))
			if err != nil || len(seed) != ed25519.SeedSize {
				return nil, fmt.Errorf("auth: key file %s is not a %d-byte hex seed", keyFile, ed25519.SeedSize)
			}
		case os.IsNotExist(err):
			seed = make([]byte, ed25519.SeedSize)
			if _, randErr := rand.Read(seed); randErr != nil {
				return nil, fmt.Errorf("auth: generate key: %w", randErr)
			}
			if writeErr := os.WriteFile(keyFile, []byte(hex.EncodeToString(seed)), 0600); writeErr != nil {
				return nil, fmt.Errorf("auth: write key file: %w", writeErr)
			}
		default:
			return nil, fmt.Errorf("auth: read key file: %w", err)
		}
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return &JWTManager{
		privateKey: priv,
		publicKey:  priv.Public().(ed25519.PublicKey),
		issuer:     issuer,
		expiration: expiration,
	}, nil
}

// IssueToken creates a signed JWT for the given user.
func (m *JWTManager) IssueToken(u *domain.User) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		UserID:   u.ID,
		Username: u.Username,
		IsAdmin:  u.IsAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, domain.ErrAuthInvalid
	}
	return claims, nil
}
