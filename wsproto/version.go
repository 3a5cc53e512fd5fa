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

package wsproto

import "github.com/veltdb/velt/pkg/errors"

// Version is a negotiated protocol generation. The two versions differ
// only in framing details outside this package's shared contract.
type Version int

const (
	V1 Version = iota + 1
	V2
)

// Encoding is the content codec a subprotocol string selects.
type Encoding int

const (
	EncodingBSATN Encoding = iota
	EncodingJSON
)

// Subprotocols lists every subprotocol string this server accepts, in
// preference order, for use as a gorilla/websocket Upgrader's Subprotocols
// field.
var Subprotocols = []string{
	"v1.bsatn.spacetimedb",
	"v1.json.spacetimedb",
	"v2.bsatn.spacetimedb",
	"v2.json.spacetimedb",
}

// ParseSubprotocol resolves a negotiated subprotocol string to its
// version and content encoding.
func ParseSubprotocol(s string) (Version, Encoding, error) {
	switch s {
	case "v1.bsatn.spacetimedb":
		return V1, EncodingBSATN, nil
	case "v1.json.spacetimedb":
		return V1, EncodingJSON, nil
	case "v2.bsatn.spacetimedb":
		return V2, EncodingBSATN, nil
	case "v2.json.spacetimedb":
		return V2, EncodingJSON, nil
	default:
		return 0, 0, errors.ErrUnsupportedVersion
	}
}
