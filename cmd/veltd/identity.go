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

package main

import (
	"crypto/rand"
	"encoding/hex"
	"os"

	"github.com/veltdb/velt/energy"
)

// loadOrMintIdentity reads the database-owner identity persisted at path,
// minting and persisting a fresh random one on first run. The owner
// identity is charged for subscription re-evaluation energy rather than
// any connecting client's own balance, so it must stay stable across
// restarts of the same database.
func loadOrMintIdentity(path string) (energy.Identity, error) {
	if b, err := os.ReadFile(path); err == nil {
		return parseIdentityHex(string(b))
	} else if !os.IsNotExist(err) {
		return energy.Identity{}, err
	}

	var id energy.Identity
	if _, err := rand.Read(id[:]); err != nil {
		return energy.Identity{}, err
	}
	if err := os.WriteFile(path, []byte(id.String()), 0o600); err != nil {
		return energy.Identity{}, err
	}
	return id, nil
}

// loadOrMintSecret reads the HMAC secret used to sign bearer tokens,
// minting and persisting a fresh 32-byte one on first run. Every
// previously issued token stops validating if this file is lost or
// regenerated.
func loadOrMintSecret(path string) ([]byte, error) {
	if b, err := os.ReadFile(path); err == nil {
		return b, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}

func parseIdentityHex(s string) (energy.Identity, error) {
	var id energy.Identity
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, hex.ErrLength
	}
	copy(id[:], b)
	return id, nil
}
