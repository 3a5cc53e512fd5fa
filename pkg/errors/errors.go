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

// Package errors defines the error taxonomy shared across the Velt engine.
// Every subsystem declares its sentinel errors here so callers can use
// errors.Is/errors.As against a single, centralized set of values instead
// of duplicating string-matched errors in each package.
package errors

import (
	"errors"
	"fmt"
)

// =====================
// Decode errors (sats/bsatn, §4.1)
// =====================

var (
	// ErrEndOfInput is returned when a decoder runs out of bytes before a
	// value is fully read.
	ErrEndOfInput = errors.New("bsatn: end of input")

	// ErrInvalidTag is returned when a sum-type tag or a type-algebra tag
	// byte does not correspond to a known variant.
	ErrInvalidTag = errors.New("bsatn: invalid tag")

	// ErrInvalidUtf8 is returned when a String value's bytes are not valid
	// UTF-8.
	ErrInvalidUtf8 = errors.New("bsatn: invalid utf8")

	// ErrVarintOverflow is returned when a varint encodes a value wider
	// than 64 bits, or runs longer than the 10 bytes a 64-bit value can
	// need. A non-minimal encoding within that length is accepted.
	ErrVarintOverflow = errors.New("bsatn: varint overflow")

	// ErrTrailingBytes is returned when Decode leaves unconsumed bytes.
	ErrTrailingBytes = errors.New("bsatn: trailing bytes after decode")

	// ErrCyclicTypeRef is returned when a typespace Ref graph contains a
	// cycle; ref resolution is validated eagerly at load time.
	ErrCyclicTypeRef = errors.New("sats: cyclic type reference")

	// ErrRefOutOfRange is returned when a Ref(i) index has no corresponding
	// typespace entry.
	ErrRefOutOfRange = errors.New("sats: ref index out of range")
)

// =====================
// Datastore errors (§4.2, §4.3)
// =====================

var (
	// ErrTypeMismatch is returned when a row's product type does not match
	// the owning table's column product.
	ErrTypeMismatch = errors.New("datastore: row type does not match table schema")

	// ErrUniqueViolation is returned when an insert or update would leave
	// two live rows sharing a unique constraint's projected tuple.
	ErrUniqueViolation = errors.New("datastore: unique constraint violation")

	// ErrRowNotFound is returned when an update/delete targets a row id
	// that does not exist in the table.
	ErrRowNotFound = errors.New("datastore: row not found")

	// ErrForeignBlobMissing is returned when a row references a blob hash
	// that the blob store does not hold.
	ErrForeignBlobMissing = errors.New("datastore: referenced blob is missing")

	// ErrBlobQuotaExceeded is returned when a single value exceeds the
	// configured maximum blob size.
	ErrBlobQuotaExceeded = errors.New("datastore: blob exceeds size quota")

	// ErrTableNotFound is returned when an operation names an unknown table.
	ErrTableNotFound = errors.New("datastore: table not found")

	// ErrIndexNotFound is returned when an operation names an unknown index.
	ErrIndexNotFound = errors.New("datastore: index not found")

	// ErrReadOnlyTx is returned when a mutation is attempted on a ReadTx.
	ErrReadOnlyTx = errors.New("datastore: transaction is read-only")

	// ErrTxClosed is returned when an operation is attempted on a
	// committed, rolled back, or cancelled transaction handle.
	ErrTxClosed = errors.New("datastore: transaction already closed")

	// ErrBreakingSchemaChange is returned by module publish when a new
	// schema is incompatible with the existing one and the caller did not
	// acknowledge the break.
	ErrBreakingSchemaChange = errors.New("datastore: breaking schema change requires acknowledgement")
)

// =====================
// Commitlog errors (§4.4)
// =====================

var (
	// ErrChecksum is returned when a commit record's CRC32 does not match
	// its payload. On the segment tail this is non-fatal (silent
	// truncation); mid-log it is fatal.
	ErrChecksum = errors.New("commitlog: checksum mismatch")

	// ErrOutOfOrder is returned when the next commit's min_tx_offset does
	// not follow the previous commit's offset range.
	ErrOutOfOrder = errors.New("commitlog: out of order commit")

	// ErrForked is returned when a commit with a previously observed
	// offset carries a different CRC than before. Unconditionally fatal.
	ErrForked = errors.New("commitlog: forked history")

	// ErrSegmentFull names an append exceeding the configured max segment
	// size. No commitlog operation returns it: Append rolls the segment
	// over instead.
	ErrSegmentFull = errors.New("commitlog: segment full")

	// ErrLogPoisoned is returned by Append after a prior Append failed and
	// was not recovered by reopening the writer.
	ErrLogPoisoned = errors.New("commitlog: writer poisoned by prior append failure")
)

// =====================
// Module host errors (§4.5)
// =====================

var (
	// ErrWasmTrap is returned when a reducer invocation traps inside the
	// Wasm guest (panics, out-of-bounds memory access, unreachable, etc).
	ErrWasmTrap = errors.New("modhost: wasm trap")

	// ErrOutOfEnergy is returned when a reducer's budget is exhausted
	// before it completes, or when dispatch is refused up front because
	// the caller's balance cannot fund even the minimum budget.
	ErrOutOfEnergy = errors.New("modhost: out of energy")

	// ErrHostCallInvalid is returned when the guest invokes a host import
	// with malformed arguments (bad handle, out-of-bounds pointer, etc).
	ErrHostCallInvalid = errors.New("modhost: invalid host call")

	// ErrReducerNotFound is returned when a CallReducer names a reducer
	// the loaded module does not export.
	ErrReducerNotFound = errors.New("modhost: reducer not found")

	// ErrUnauthorized is a reducer-level result a reducer can choose to
	// return; it is surfaced to the client exactly like any other Failed
	// reducer outcome.
	ErrUnauthorized = errors.New("modhost: unauthorized")
)

// =====================
// Subscription errors (§4.6)
// =====================

var (
	// ErrQuerySyntax is returned when a subscription or one-off query
	// string fails to parse against the supported grammar subset.
	ErrQuerySyntax = errors.New("subscription: query syntax error")

	// ErrQueryTypeMismatch is returned when a query parses but references
	// a table, column, or join condition that doesn't type-check against
	// the current schema.
	ErrQueryTypeMismatch = errors.New("subscription: query type mismatch")

	// ErrSubscriptionNotFound is returned when Unsubscribe names a
	// request_id with no active subscription.
	ErrSubscriptionNotFound = errors.New("subscription: not found")
)

// =====================
// Protocol errors (§4.7)
// =====================

var (
	// ErrUnsupportedVersion is returned when the WebSocket subprotocol
	// negotiation does not match a known version/encoding pair.
	ErrUnsupportedVersion = errors.New("wsproto: unsupported protocol version")

	// ErrUnknownCompressionScheme is returned when a frame's compression
	// tag is not one of none/brotli/gzip.
	ErrUnknownCompressionScheme = errors.New("wsproto: unknown compression scheme")

	// ErrEmptyMessage is returned when a client frame decodes to zero
	// bytes.
	ErrEmptyMessage = errors.New("wsproto: empty message")
)

// =====================
// Auth errors (§7)
// =====================

var (
	// ErrInvalidToken is returned when a bearer token fails validation.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrTokenExpired is returned when a bearer token's validity window
	// has passed.
	ErrTokenExpired = errors.New("auth: token expired")
)

// =====================
// Helper functions
// =====================

// Wrap wraps an error with additional context, or returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Errorf formats according to a format specifier and returns an error.
func Errorf(format string, a ...interface{}) error {
	return fmt.Errorf(format, a...)
}
