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

// Package wsproto implements the client/server WebSocket message
// contract: frame kinds, per-message compression, and the BSATN/JSON
// codec selected by subprotocol negotiation. Row payloads travel as
// already-BSATN-encoded bytes rather than typed sats.Value - the table
// schema needed to interpret them lives in the subscription layer, not
// here, so this package never needs a Typespace to forward a row.
package wsproto

import "github.com/veltdb/velt/energy"

// Kind discriminates a message's payload shape within its direction.
type Kind string

const (
	KindIdentityToken       Kind = "IdentityToken"
	KindInitialSubscription Kind = "InitialSubscription"
	KindTransactionUpdate   Kind = "TransactionUpdate"
	KindSubscribeApplied    Kind = "SubscribeApplied"
	KindSubscribeError      Kind = "SubscribeError"
	KindUnsubscribeApplied  Kind = "UnsubscribeApplied"
	KindOneOffQueryResponse Kind = "OneOffQueryResponse"

	KindCallReducer Kind = "CallReducer"
	KindSubscribe   Kind = "Subscribe"
	KindUnsubscribe Kind = "Unsubscribe"
	KindOneOffQuery Kind = "OneOffQuery"
)

// RowOp is one row entering or leaving a query's result set, carrying its
// content as the table's own BSATN encoding rather than a typed value.
type RowOp struct {
	Insert bool
	Row    []byte
}

// QueryUpdate is one subscription's row effects within one frame.
type QueryUpdate struct {
	QueryID string
	Rows    []RowOp
}

// IdentityToken is the first frame sent after a connection is accepted.
type IdentityToken struct {
	Identity     energy.Identity
	Token        string
	ConnectionID string
}

// InitialSubscription replies to a Subscribe with every query's starting
// matching set, each row framed as an insert.
type InitialSubscription struct {
	RequestID uint32
	Updates   []QueryUpdate
}

// TransactionUpdate reports one committed (or failed) reducer call and
// the subscription-scoped row effects it produced.
type TransactionUpdate struct {
	TxOffset   uint64
	Timestamp  int64 // microseconds since UNIX epoch
	Caller     energy.Identity
	Reducer    string
	Status     string
	EnergyUsed int64
	Message    string
	Updates    []QueryUpdate
}

// SubscribeApplied confirms a Subscribe request_id is now active.
type SubscribeApplied struct {
	RequestID uint32
}

// SubscribeError reports why a Subscribe request_id failed to apply.
type SubscribeError struct {
	RequestID uint32
	Error     string
}

// UnsubscribeApplied confirms an Unsubscribe request_id took effect.
type UnsubscribeApplied struct {
	RequestID uint32
}

// OneOffQueryResponse replies to a OneOffQuery with either a result set
// or an error, never both.
type OneOffQueryResponse struct {
	RequestID uint32
	Rows      [][]byte
	Error     string
}

// CallReducer asks the server to invoke a reducer.
type CallReducer struct {
	ReducerName string
	Args        []byte // BSATN-encoded argument product
	RequestID   uint32
	Flags       uint8
}

// Subscribe registers one or more subscription queries under RequestID.
type Subscribe struct {
	QueryStrings []string
	RequestID    uint32
}

// Unsubscribe cancels a previously applied Subscribe.
type Unsubscribe struct {
	RequestID uint32
}

// OneOffQuery evaluates sql once without registering a subscription.
type OneOffQuery struct {
	SQL       string
	RequestID uint32
}

// ServerMessage is a discriminated union of every server->client frame;
// exactly one field is non-nil, matching Kind.
type ServerMessage struct {
	Kind Kind

	IdentityToken       *IdentityToken
	InitialSubscription *InitialSubscription
	TransactionUpdate   *TransactionUpdate
	SubscribeApplied    *SubscribeApplied
	SubscribeError      *SubscribeError
	UnsubscribeApplied  *UnsubscribeApplied
	OneOffQueryResponse *OneOffQueryResponse
}

// ClientMessage is a discriminated union of every client->server frame.
type ClientMessage struct {
	Kind Kind

	CallReducer *CallReducer
	Subscribe   *Subscribe
	Unsubscribe *Unsubscribe
	OneOffQuery *OneOffQuery
}
