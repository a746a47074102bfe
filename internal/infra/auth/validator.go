package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xela07ax/webhook-gate/internal/domain"
)

// BaseValidator проверяет токены операторов консоли, подписанные RS256.
type BaseValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

// NewBaseValidator принимает только RS256 и только токены со сроком жизни.
func NewBaseValidator(pubKey *rsa.PublicKey) *BaseValidator {
	return &BaseValidator{
		publicKey: pubKey,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// VerifyToken реализует TokenValidator. Префикс "Bearer " допустим.
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.OperatorClaims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))
	if tokenStr == "" {
		return nil, errors.New("empty token")
	}

	claims := &domain.OperatorClaims{}
	token, err := v.parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ParseRSAPublicKey читает PEM публичного ключа.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, errors.New("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey читает PEM закрытого ключа. Нужен только консоли для выпуска токенов.
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, errors.New("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// LoadKeyPair разбирает закрытый ключ консоли. Если задан и публичный, он обязан быть парным.
func LoadKeyPair(privPEM, pubPEM []byte) (*rsa.PrivateKey, error) {
	priv, err := ParseRSAPrivateKey(privPEM)
	if err != nil {
		return nil, err
	}
	if len(pubPEM) == 0 {
		return priv, nil
	}
	pub, err := ParseRSAPublicKey(pubPEM)
	if err != nil {
		return nil, err
	}
	if !pub.Equal(&priv.PublicKey) {
		return nil, errors.New("public key does not match private key")
	}
	return priv, nil
}
