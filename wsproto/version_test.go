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

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veltdb/velt/pkg/errors"
)

func TestParseSubprotocolAllEntries(t *testing.T) {
	cases := []struct {
		s       string
		version Version
		enc     Encoding
	}{
		{"v1.bsatn.spacetimedb", V1, EncodingBSATN},
		{"v1.json.spacetimedb", V1, EncodingJSON},
		{"v2.bsatn.spacetimedb", V2, EncodingBSATN},
		{"v2.json.spacetimedb", V2, EncodingJSON},
	}
	for _, c := range cases {
		v, enc, err := ParseSubprotocol(c.s)
		require.NoError(t, err)
		require.Equal(t, c.version, v)
		require.Equal(t, c.enc, enc)
	}
}

func TestParseSubprotocolRejectsUnknown(t *testing.T) {
	_, _, err := ParseSubprotocol("v3.xml.spacetimedb")
	require.ErrorIs(t, err, errors.ErrUnsupportedVersion)
}

func TestSubprotocolsListsEveryParseableString(t *testing.T) {
	for _, s := range Subprotocols {
		_, _, err := ParseSubprotocol(s)
		require.NoError(t, err)
	}
}
