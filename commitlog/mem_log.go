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

package commitlog

import "sync"

// MemLog is an in-memory Log, used by tests where a durable log isn't
// wanted.
type MemLog struct {
	mu      sync.Mutex
	records []record
}

// NewMemLog returns an empty in-memory log.
func NewMemLog() *MemLog { return &MemLog{} }

func (m *MemLog) Append(payload []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	offset := uint64(len(m.records))
	cp := append([]byte(nil), payload...)
	m.records = append(m.records, record{minTxOffset: offset, nTxs: 1, payload: cp})
	return offset, nil
}

func (m *MemLog) Replay(visit VisitFunc) error {
	m.mu.Lock()
	recs := append([]record(nil), m.records...)
	m.mu.Unlock()
	for _, r := range recs {
		if err := visit(r.minTxOffset, r.payload); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemLog) NextOffset() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.records))
}

func (m *MemLog) Close() error { return nil }
