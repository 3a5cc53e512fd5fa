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

func TestFrameUnframeRoundTripsNone(t *testing.T) {
	payload := []byte("hello, subscriber")

	framed, err := Frame(CompressionNone, payload)
	require.NoError(t, err)
	require.Equal(t, byte(CompressionNone), framed[0])

	got, err := Unframe(framed)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFrameUnframeRoundTripsBrotli(t *testing.T) {
	payload := []byte("repeat repeat repeat repeat repeat repeat repeat")

	framed, err := Frame(CompressionBrotli, payload)
	require.NoError(t, err)
	require.Equal(t, byte(CompressionBrotli), framed[0])
	require.Less(t, len(framed), len(payload)+1)

	got, err := Unframe(framed)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFrameUnframeRoundTripsGzip(t *testing.T) {
	payload := []byte("repeat repeat repeat repeat repeat repeat repeat")

	framed, err := Frame(CompressionGzip, payload)
	require.NoError(t, err)
	require.Equal(t, byte(CompressionGzip), framed[0])

	got, err := Unframe(framed)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFrameRejectsUnknownTag(t *testing.T) {
	_, err := Frame(CompressionTag(99), []byte("x"))
	require.ErrorIs(t, err, errors.ErrUnknownCompressionScheme)
}

func TestUnframeRejectsEmptyFrame(t *testing.T) {
	_, err := Unframe(nil)
	require.ErrorIs(t, err, errors.ErrEmptyMessage)
}

func TestUnframeRejectsUnknownTag(t *testing.T) {
	_, err := Unframe([]byte{99, 0x01, 0x02})
	require.ErrorIs(t, err, errors.ErrUnknownCompressionScheme)
}
