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

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/pkg/errors"
)

// signToken builds a token the same way Issue does but with an explicit
// ExpiresAt, so expiry can be exercised without waiting on TokenTTL.
func signToken(iss *Issuer, id energy.Identity, expiresAt time.Time) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(expiresAt.Add(-TokenTTL)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(iss.secret)
}

var _ = Describe("Issuer token lifecycle", func() {
	var iss *Issuer
	var id energy.Identity

	BeforeEach(func() {
		iss = NewIssuer([]byte("suite-secret"))
		id = energy.Identity{7, 7, 7}
	})

	Context("when a token's expiry is in the future", func() {
		It("validates and recovers the original identity", func() {
			tok, err := signToken(iss, id, time.Now().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())

			got, err := iss.Validate(tok)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(id))
		})
	})

	Context("when a token's expiry is in the past", func() {
		It("reports ErrTokenExpired rather than a generic validation failure", func() {
			tok, err := signToken(iss, id, time.Now().Add(-time.Minute))
			Expect(err).NotTo(HaveOccurred())

			_, err = iss.Validate(tok)
			Expect(err).To(MatchError(errors.ErrTokenExpired))
		})
	})

	Context("when a valid token's subject is not a well-formed identity", func() {
		It("reports ErrInvalidToken", func() {
			c := claims{RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "not-hex",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			}}
			tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(iss.secret)
			Expect(err).NotTo(HaveOccurred())

			_, err = iss.Validate(tok)
			Expect(err).To(MatchError(errors.ErrInvalidToken))
		})
	})
})
