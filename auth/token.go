// Copyright 2024-2026 The Velt Authors
// This file is part of the Velt embedded datastore.
//
// Velt is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Velt is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Velt. If not, see <http://www.gnu.org/licenses/>.

// Package auth mints and verifies the bearer token a WebSocket client
// receives in its IdentityToken frame. Issuance of the identity itself -
// how a fresh client is assigned its 32-byte principal in the first
// place - is an external collaborator's concern; this package only
// implements the renewable-token half of that message's contract.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/pkg/errors"
)

// TokenTTL is how long an issued token remains valid before a client
// must request a fresh one.
const TokenTTL = 24 * time.Hour

type claims struct {
	jwt.RegisteredClaims
}

// Issuer signs and verifies identity bearer tokens with a single shared
// secret. A database process holds exactly one Issuer for its lifetime.
type Issuer struct {
	secret []byte
}

// NewIssuer builds an Issuer from a secret key. The caller is responsible
// for keeping secret stable across a process's restarts if previously
// issued tokens should keep validating.
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: append([]byte(nil), secret...)}
}

// Issue mints a bearer token asserting id, valid for TokenTTL.
func (iss *Issuer) Issue(id energy.Identity) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(iss.secret)
}

// Validate parses and verifies token, returning the identity it asserts.
func (iss *Issuer) Validate(token string) (energy.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (interface{}, error) {
		return iss.secret, nil
	})
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return energy.Identity{}, errors.ErrTokenExpired
		}
		return energy.Identity{}, errors.Wrap(errors.ErrInvalidToken, err.Error())
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return energy.Identity{}, errors.ErrInvalidToken
	}
	return identityFromHex(c.Subject)
}

func identityFromHex(s string) (energy.Identity, error) {
	var id energy.Identity
	if len(s) != len(id)*2 {
		return id, errors.ErrInvalidToken
	}
	for i := range id {
		hi, ok1 := hexNibble(s[i*2])
		lo, ok2 := hexNibble(s[i*2+1])
		if !ok1 || !ok2 {
			return energy.Identity{}, errors.ErrInvalidToken
		}
		id[i] = hi<<4 | lo
	}
	return id, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}
