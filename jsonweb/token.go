// Package jsonweb parses bearer tokens into principals. Tokens are signed
// JWTs carrying the user id (sub), tenant id (tid) and role claims.
package jsonweb

import (
	"errors"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse"
)

// ErrKeyNotFound should be returned by a KeyStore when
// a key cannot be found for the provided key ID.
var ErrKeyNotFound = errors.New("key not found")

// KeyStore is a type which holds a set of keys accessed via an id.
type KeyStore interface {
	Key(id string) ([]byte, error)
}

// KeyStoreFunc is a function which can be used as a KeyStore.
type KeyStoreFunc func(string) ([]byte, error)

// Key delegates to the receiver function.
func (k KeyStoreFunc) Key(id string) ([]byte, error) { return k(id) }

// SingleKeyStore serves the same key for every key ID.
func SingleKeyStore(key []byte) KeyStore {
	return KeyStoreFunc(func(string) ([]byte, error) {
		return key, nil
	})
}

// Claims are the JWT claims of a principal token.
type Claims struct {
	jwt.RegisteredClaims

	// TenantID is the tenant the principal belongs to.
	TenantID string `json:"tid,omitempty"`
	// Roles are the role claims of the principal.
	Roles []string `json:"roles,omitempty"`
	// KeyID selects the verification key.
	KeyID string `json:"kid,omitempty"`
}

// TokenParser parses and verifies principal tokens.
type TokenParser struct {
	keyStore KeyStore
	parser   *jwt.Parser
}

// NewTokenParser returns a token parser verifying with keys from the store.
func NewTokenParser(keyStore KeyStore) *TokenParser {
	return &TokenParser{
		keyStore: keyStore,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Parse parses and validates the raw token string.
func (t *TokenParser) Parse(v string) (*Claims, error) {
	claims := &Claims{}
	_, err := t.parser.ParseWithClaims(v, claims, func(jt *jwt.Token) (interface{}, error) {
		return t.keyStore.Key(claims.KeyID)
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Principal maps validated claims onto a pipeline principal. Claims that
// fail to parse as UUIDs are left zero rather than failing the request;
// downstream checks treat the principal as anonymous or tenantless.
func (c *Claims) Principal() gatehouse.Principal {
	p := gatehouse.Principal{Roles: c.Roles}
	if id, err := uuid.Parse(c.Subject); err == nil {
		p.UserID = id
	}
	if id, err := uuid.Parse(c.TenantID); err == nil {
		p.TenantID = id
	}
	return p
}
