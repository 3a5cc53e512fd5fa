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
	"bytes"
	"compress/gzip"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/veltdb/velt/pkg/errors"
)

// CompressionTag is the one-byte prefix every server message frame
// carries ahead of its (possibly compressed) payload.
type CompressionTag byte

const (
	CompressionNone   CompressionTag = 0
	CompressionBrotli CompressionTag = 1
	CompressionGzip   CompressionTag = 2
)

// Frame prefixes payload with tag and returns the combined bytes,
// compressing payload first if tag asks for it.
func Frame(tag CompressionTag, payload []byte) ([]byte, error) {
	var body []byte
	switch tag {
	case CompressionNone:
		body = payload
	case CompressionBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		body = buf.Bytes()
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		body = buf.Bytes()
	default:
		return nil, errors.ErrUnknownCompressionScheme
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(tag))
	return append(out, body...), nil
}

// Unframe reads the leading compression tag off frame and returns the
// decompressed payload. An empty frame or an unrecognized tag is fatal
// for the connection, per the protocol's failure modes.
func Unframe(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, errors.ErrEmptyMessage
	}
	tag := CompressionTag(frame[0])
	body := frame[1:]
	switch tag {
	case CompressionNone:
		return body, nil
	case CompressionBrotli:
		r := brotli.NewReader(bytes.NewReader(body))
		return io.ReadAll(r)
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, errors.ErrUnknownCompressionScheme
	}
}
