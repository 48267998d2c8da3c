// Package services provides external service integrations: the upstream graph API,
// operator token verification and spreadsheet exports.
package services

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/amirphl/creator-console/config"
)

// Token service error constants
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// AllAccounts in the accounts claim grants access to every account
const AllAccounts = "*"

// TokenVerifier validates operator access tokens issued by the account service.
// This service never issues tokens.
type TokenVerifier interface {
	ValidateToken(token string) (*OperatorClaims, error)
}

// OperatorClaims represents the claims of an operator access token
type OperatorClaims struct {
	OperatorID string    `json:"operator_id"`
	Accounts   []string  `json:"accounts"`
	TokenID    string    `json:"jti"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// CanAccess reports whether the operator may act on accountID
func (c *OperatorClaims) CanAccess(accountID string) bool {
	return slices.Contains(c.Accounts, AllAccounts) || slices.Contains(c.Accounts, accountID)
}

// TokenVerifierImpl implements TokenVerifier
type TokenVerifierImpl struct {
	publicKey  *rsa.PublicKey
	secretKey  []byte
	useRSAKeys bool
	issuer     string
	audience   string
}

// NewTokenVerifier creates a verifier from the JWT configuration
func NewTokenVerifier(cfg config.JWTConfig) (*TokenVerifierImpl, error) {
	v := &TokenVerifierImpl{
		useRSAKeys: cfg.UseRSAKeys,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
	}

	if cfg.UseRSAKeys {
		publicKey, err := parseRSAPublicKey(cfg.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
		}
		v.publicKey = publicKey
		return v, nil
	}

	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("secret key is required when not using RSA keys")
	}
	v.secretKey = []byte(cfg.SecretKey)
	return v, nil
}

// parseRSAPublicKey parses an RSA public key from PEM format
func parseRSAPublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	if publicKeyPEM == "" {
		return nil, fmt.Errorf("public key is required")
	}

	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("failed to decode public key")
	}

	publicKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPublicKey, ok := publicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaPublicKey, nil
}

// ValidateToken validates a JWT token and returns the operator claims
func (s *TokenVerifierImpl) ValidateToken(token string) (*OperatorClaims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	parsedToken, err := jwt.Parse(token, s.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if !parsedToken.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}

	// Extract claims
	operatorID, ok := claims["operator_id"].(string)
	if !ok || operatorID == "" {
		return nil, ErrTokenInvalid
	}

	tokenID, _ := claims["jti"].(string)

	rawAccounts, ok := claims["accounts"].([]any)
	if !ok {
		return nil, ErrTokenInvalid
	}
	accounts := make([]string, 0, len(rawAccounts))
	for _, a := range rawAccounts {
		id, ok := a.(string)
		if !ok || id == "" {
			return nil, ErrTokenInvalid
		}
		accounts = append(accounts, id)
	}

	issuedAt, err := claims.GetIssuedAt()
	if err != nil || issuedAt == nil {
		return nil, ErrTokenInvalid
	}
	expiresAt, err := claims.GetExpirationTime()
	if err != nil || expiresAt == nil {
		return nil, ErrTokenInvalid
	}

	return &OperatorClaims{
		OperatorID: operatorID,
		Accounts:   accounts,
		TokenID:    tokenID,
		IssuedAt:   issuedAt.Time,
		ExpiresAt:  expiresAt.Time,
	}, nil
}

func (s *TokenVerifierImpl) keyFunc(token *jwt.Token) (any, error) {
	// Validate signing method
	if s.useRSAKeys {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.publicKey, nil
	}
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return s.secretKey, nil
}
