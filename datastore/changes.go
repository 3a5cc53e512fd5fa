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

package datastore

import "encoding/json"

// encodeChanges/decodeChanges serialize a transaction's row changes for
// the commitlog payload. JSON rather than BSATN: this is metadata about
// a commit, not row data subject to the canonical encoding law, and
// *big.Int (used by sats.Value's I128/U128 fields) already implements
// json.Marshaler/Unmarshaler, so the round trip is exact without extra
// code.
func encodeChanges(changes []RowChange) ([]byte, error) {
	return json.Marshal(changes)
}

func decodeChanges(payload []byte) ([]RowChange, error) {
	var out []RowChange
	if len(payload) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}
