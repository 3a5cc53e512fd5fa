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
	"encoding/json"

	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/sats"
)

// bsatnTS is the fixed typespace the wire types below are resolved
// against. None of them contain a Ref, so an empty typespace suffices -
// Encode/Decode only ever consult it to resolve KindRef nodes.
var bsatnTS, _ = sats.NewTypespace(nil)

func identityType() sats.Type { return sats.ArrayOf(sats.U8()) }
func bytesType() sats.Type    { return sats.ArrayOf(sats.U8()) }

func rowOpType() sats.Type {
	return sats.ProductOf(
		sats.Field{Name: "insert", Type: sats.Bool()},
		sats.Field{Name: "row", Type: bytesType()},
	)
}

func queryUpdateType() sats.Type {
	return sats.ProductOf(
		sats.Field{Name: "query_id", Type: sats.StringT()},
		sats.Field{Name: "rows", Type: sats.ArrayOf(rowOpType())},
	)
}

func identityTokenType() sats.Type {
	return sats.ProductOf(
		sats.Field{Name: "identity", Type: identityType()},
		sats.Field{Name: "token", Type: sats.StringT()},
		sats.Field{Name: "connection_id", Type: sats.StringT()},
	)
}

func initialSubscriptionType() sats.Type {
	return sats.ProductOf(
		sats.Field{Name: "request_id", Type: sats.U32()},
		sats.Field{Name: "updates", Type: sats.ArrayOf(queryUpdateType())},
	)
}

func transactionUpdateType() sats.Type {
	return sats.ProductOf(
		sats.Field{Name: "tx_offset", Type: sats.U64()},
		sats.Field{Name: "timestamp", Type: sats.I64()},
		sats.Field{Name: "caller", Type: identityType()},
		sats.Field{Name: "reducer", Type: sats.StringT()},
		sats.Field{Name: "status", Type: sats.StringT()},
		sats.Field{Name: "energy_used", Type: sats.I64()},
		sats.Field{Name: "message", Type: sats.StringT()},
		sats.Field{Name: "updates", Type: sats.ArrayOf(queryUpdateType())},
	)
}

func subscribeAppliedType() sats.Type {
	return sats.ProductOf(sats.Field{Name: "request_id", Type: sats.U32()})
}

func subscribeErrorType() sats.Type {
	return sats.ProductOf(
		sats.Field{Name: "request_id", Type: sats.U32()},
		sats.Field{Name: "error", Type: sats.StringT()},
	)
}

func unsubscribeAppliedType() sats.Type {
	return sats.ProductOf(sats.Field{Name: "request_id", Type: sats.U32()})
}

func oneOffQueryResponseType() sats.Type {
	return sats.ProductOf(
		sats.Field{Name: "request_id", Type: sats.U32()},
		sats.Field{Name: "rows", Type: sats.ArrayOf(bytesType())},
		sats.Field{Name: "error", Type: sats.StringT()},
	)
}

func callReducerType() sats.Type {
	return sats.ProductOf(
		sats.Field{Name: "reducer_name", Type: sats.StringT()},
		sats.Field{Name: "args", Type: bytesType()},
		sats.Field{Name: "request_id", Type: sats.U32()},
		sats.Field{Name: "flags", Type: sats.U8()},
	)
}

func subscribeType() sats.Type {
	return sats.ProductOf(
		sats.Field{Name: "query_strings", Type: sats.ArrayOf(sats.StringT())},
		sats.Field{Name: "request_id", Type: sats.U32()},
	)
}

func unsubscribeType() sats.Type {
	return sats.ProductOf(sats.Field{Name: "request_id", Type: sats.U32()})
}

func oneOffQueryType() sats.Type {
	return sats.ProductOf(
		sats.Field{Name: "sql", Type: sats.StringT()},
		sats.Field{Name: "request_id", Type: sats.U32()},
	)
}

// serverKindOrder fixes the tag each server Kind occupies in the BSATN
// sum envelope; index into this slice is the sats sum tag.
var serverKindOrder = []Kind{
	KindIdentityToken,
	KindInitialSubscription,
	KindTransactionUpdate,
	KindSubscribeApplied,
	KindSubscribeError,
	KindUnsubscribeApplied,
	KindOneOffQueryResponse,
}

var clientKindOrder = []Kind{
	KindCallReducer,
	KindSubscribe,
	KindUnsubscribe,
	KindOneOffQuery,
}

func serverMessageType() sats.Type {
	return sats.SumOf(
		sats.Variant{Name: string(KindIdentityToken), Type: identityTokenType()},
		sats.Variant{Name: string(KindInitialSubscription), Type: initialSubscriptionType()},
		sats.Variant{Name: string(KindTransactionUpdate), Type: transactionUpdateType()},
		sats.Variant{Name: string(KindSubscribeApplied), Type: subscribeAppliedType()},
		sats.Variant{Name: string(KindSubscribeError), Type: subscribeErrorType()},
		sats.Variant{Name: string(KindUnsubscribeApplied), Type: unsubscribeAppliedType()},
		sats.Variant{Name: string(KindOneOffQueryResponse), Type: oneOffQueryResponseType()},
	)
}

func clientMessageType() sats.Type {
	return sats.SumOf(
		sats.Variant{Name: string(KindCallReducer), Type: callReducerType()},
		sats.Variant{Name: string(KindSubscribe), Type: subscribeType()},
		sats.Variant{Name: string(KindUnsubscribe), Type: unsubscribeType()},
		sats.Variant{Name: string(KindOneOffQuery), Type: oneOffQueryType()},
	)
}

func identityValue(id energy.Identity) sats.Value {
	elems := make([]sats.Value, len(id))
	for i, b := range id {
		elems[i] = sats.U8Val(b)
	}
	return sats.ArrayVal(elems...)
}

func identityFromValue(v sats.Value) energy.Identity {
	var id energy.Identity
	for i := range id {
		if i < len(v.Array) {
			id[i] = v.Array[i].U8
		}
	}
	return id
}

func bytesValue(b []byte) sats.Value {
	elems := make([]sats.Value, len(b))
	for i, c := range b {
		elems[i] = sats.U8Val(c)
	}
	return sats.ArrayVal(elems...)
}

func bytesFromValue(v sats.Value) []byte {
	out := make([]byte, len(v.Array))
	for i, e := range v.Array {
		out[i] = e.U8
	}
	return out
}

func rowOpValue(r RowOp) sats.Value {
	return sats.ProductVal(sats.BoolVal(r.Insert), bytesValue(r.Row))
}

func rowOpFromValue(v sats.Value) RowOp {
	return RowOp{Insert: v.Product[0].Bool, Row: bytesFromValue(v.Product[1])}
}

func queryUpdateValue(u QueryUpdate) sats.Value {
	rows := make([]sats.Value, len(u.Rows))
	for i, r := range u.Rows {
		rows[i] = rowOpValue(r)
	}
	return sats.ProductVal(sats.StrVal(u.QueryID), sats.ArrayVal(rows...))
}

func queryUpdateFromValue(v sats.Value) QueryUpdate {
	rowVals := v.Product[1].Array
	rows := make([]RowOp, len(rowVals))
	for i, rv := range rowVals {
		rows[i] = rowOpFromValue(rv)
	}
	return QueryUpdate{QueryID: v.Product[0].Str, Rows: rows}
}

func queryUpdatesValue(us []QueryUpdate) sats.Value {
	vals := make([]sats.Value, len(us))
	for i, u := range us {
		vals[i] = queryUpdateValue(u)
	}
	return sats.ArrayVal(vals...)
}

func queryUpdatesFromValue(v sats.Value) []QueryUpdate {
	out := make([]QueryUpdate, len(v.Array))
	for i, e := range v.Array {
		out[i] = queryUpdateFromValue(e)
	}
	return out
}

func serverMessageValue(msg ServerMessage) (uint8, sats.Value, error) {
	switch msg.Kind {
	case KindIdentityToken:
		m := msg.IdentityToken
		return 0, sats.ProductVal(identityValue(m.Identity), sats.StrVal(m.Token), sats.StrVal(m.ConnectionID)), nil
	case KindInitialSubscription:
		m := msg.InitialSubscription
		return 1, sats.ProductVal(sats.U32Val(m.RequestID), queryUpdatesValue(m.Updates)), nil
	case KindTransactionUpdate:
		m := msg.TransactionUpdate
		return 2, sats.ProductVal(
			sats.U64Val(m.TxOffset),
			sats.I64Val(m.Timestamp),
			identityValue(m.Caller),
			sats.StrVal(m.Reducer),
			sats.StrVal(m.Status),
			sats.I64Val(m.EnergyUsed),
			sats.StrVal(m.Message),
			queryUpdatesValue(m.Updates),
		), nil
	case KindSubscribeApplied:
		return 3, sats.ProductVal(sats.U32Val(msg.SubscribeApplied.RequestID)), nil
	case KindSubscribeError:
		m := msg.SubscribeError
		return 4, sats.ProductVal(sats.U32Val(m.RequestID), sats.StrVal(m.Error)), nil
	case KindUnsubscribeApplied:
		return 5, sats.ProductVal(sats.U32Val(msg.UnsubscribeApplied.RequestID)), nil
	case KindOneOffQueryResponse:
		m := msg.OneOffQueryResponse
		rows := make([]sats.Value, len(m.Rows))
		for i, r := range m.Rows {
			rows[i] = bytesValue(r)
		}
		return 6, sats.ProductVal(sats.U32Val(m.RequestID), sats.ArrayVal(rows...), sats.StrVal(m.Error)), nil
	default:
		return 0, sats.Value{}, errors.Wrapf(errors.ErrInvalidTag, "unknown server message kind %q", msg.Kind)
	}
}

func serverMessageFromValue(tag uint8, v sats.Value) (ServerMessage, error) {
	if int(tag) >= len(serverKindOrder) {
		return ServerMessage{}, errors.ErrInvalidTag
	}
	kind := serverKindOrder[tag]
	switch kind {
	case KindIdentityToken:
		return ServerMessage{Kind: kind, IdentityToken: &IdentityToken{
			Identity:     identityFromValue(v.Product[0]),
			Token:        v.Product[1].Str,
			ConnectionID: v.Product[2].Str,
		}}, nil
	case KindInitialSubscription:
		return ServerMessage{Kind: kind, InitialSubscription: &InitialSubscription{
			RequestID: uint32(v.Product[0].U32),
			Updates:   queryUpdatesFromValue(v.Product[1]),
		}}, nil
	case KindTransactionUpdate:
		return ServerMessage{Kind: kind, TransactionUpdate: &TransactionUpdate{
			TxOffset:   v.Product[0].U64,
			Timestamp:  v.Product[1].I64,
			Caller:     identityFromValue(v.Product[2]),
			Reducer:    v.Product[3].Str,
			Status:     v.Product[4].Str,
			EnergyUsed: v.Product[5].I64,
			Message:    v.Product[6].Str,
			Updates:    queryUpdatesFromValue(v.Product[7]),
		}}, nil
	case KindSubscribeApplied:
		return ServerMessage{Kind: kind, SubscribeApplied: &SubscribeApplied{RequestID: v.Product[0].U32}}, nil
	case KindSubscribeError:
		return ServerMessage{Kind: kind, SubscribeError: &SubscribeError{
			RequestID: v.Product[0].U32,
			Error:     v.Product[1].Str,
		}}, nil
	case KindUnsubscribeApplied:
		return ServerMessage{Kind: kind, UnsubscribeApplied: &UnsubscribeApplied{RequestID: v.Product[0].U32}}, nil
	case KindOneOffQueryResponse:
		rowVals := v.Product[1].Array
		rows := make([][]byte, len(rowVals))
		for i, rv := range rowVals {
			rows[i] = bytesFromValue(rv)
		}
		return ServerMessage{Kind: kind, OneOffQueryResponse: &OneOffQueryResponse{
			RequestID: v.Product[0].U32,
			Rows:      rows,
			Error:     v.Product[2].Str,
		}}, nil
	default:
		return ServerMessage{}, errors.ErrInvalidTag
	}
}

func clientMessageValue(msg ClientMessage) (uint8, sats.Value, error) {
	switch msg.Kind {
	case KindCallReducer:
		m := msg.CallReducer
		return 0, sats.ProductVal(sats.StrVal(m.ReducerName), bytesValue(m.Args), sats.U32Val(m.RequestID), sats.U8Val(m.Flags)), nil
	case KindSubscribe:
		m := msg.Subscribe
		qs := make([]sats.Value, len(m.QueryStrings))
		for i, s := range m.QueryStrings {
			qs[i] = sats.StrVal(s)
		}
		return 1, sats.ProductVal(sats.ArrayVal(qs...), sats.U32Val(m.RequestID)), nil
	case KindUnsubscribe:
		return 2, sats.ProductVal(sats.U32Val(msg.Unsubscribe.RequestID)), nil
	case KindOneOffQuery:
		m := msg.OneOffQuery
		return 3, sats.ProductVal(sats.StrVal(m.SQL), sats.U32Val(m.RequestID)), nil
	default:
		return 0, sats.Value{}, errors.Wrapf(errors.ErrInvalidTag, "unknown client message kind %q", msg.Kind)
	}
}

func clientMessageFromValue(tag uint8, v sats.Value) (ClientMessage, error) {
	if int(tag) >= len(clientKindOrder) {
		return ClientMessage{}, errors.ErrInvalidTag
	}
	kind := clientKindOrder[tag]
	switch kind {
	case KindCallReducer:
		return ClientMessage{Kind: kind, CallReducer: &CallReducer{
			ReducerName: v.Product[0].Str,
			Args:        bytesFromValue(v.Product[1]),
			RequestID:   v.Product[2].U32,
			Flags:       v.Product[3].U8,
		}}, nil
	case KindSubscribe:
		qsVals := v.Product[0].Array
		qs := make([]string, len(qsVals))
		for i, e := range qsVals {
			qs[i] = e.Str
		}
		return ClientMessage{Kind: kind, Subscribe: &Subscribe{
			QueryStrings: qs,
			RequestID:    v.Product[1].U32,
		}}, nil
	case KindUnsubscribe:
		return ClientMessage{Kind: kind, Unsubscribe: &Unsubscribe{RequestID: v.Product[0].U32}}, nil
	case KindOneOffQuery:
		return ClientMessage{Kind: kind, OneOffQuery: &OneOffQuery{
			SQL:       v.Product[0].Str,
			RequestID: v.Product[1].U32,
		}}, nil
	default:
		return ClientMessage{}, errors.ErrInvalidTag
	}
}

// jsonEnvelope is the JSON-encoding wire shape: a Kind discriminator next
// to the one populated payload, mirroring the BSATN sum's tag+value shape
// without committing to a sum-type library.
type jsonEnvelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func serverMessagePayload(msg ServerMessage) (interface{}, error) {
	switch msg.Kind {
	case KindIdentityToken:
		return msg.IdentityToken, nil
	case KindInitialSubscription:
		return msg.InitialSubscription, nil
	case KindTransactionUpdate:
		return msg.TransactionUpdate, nil
	case KindSubscribeApplied:
		return msg.SubscribeApplied, nil
	case KindSubscribeError:
		return msg.SubscribeError, nil
	case KindUnsubscribeApplied:
		return msg.UnsubscribeApplied, nil
	case KindOneOffQueryResponse:
		return msg.OneOffQueryResponse, nil
	default:
		return nil, errors.Wrapf(errors.ErrInvalidTag, "unknown server message kind %q", msg.Kind)
	}
}

// EncodeServerMessage serializes msg for the negotiated encoding. The
// result is the message payload only; Frame still needs to be applied to
// add the per-message compression tag before it goes on the wire.
func EncodeServerMessage(enc Encoding, msg ServerMessage) ([]byte, error) {
	if enc == EncodingJSON {
		payload, err := serverMessagePayload(msg)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonEnvelope{Kind: msg.Kind, Payload: raw})
	}

	tag, v, err := serverMessageValue(msg)
	if err != nil {
		return nil, err
	}
	return sats.Encode(bsatnTS, serverMessageType(), sats.SumVal(tag, &v), nil)
}

func clientMessagePayload(msg ClientMessage) (interface{}, error) {
	switch msg.Kind {
	case KindCallReducer:
		return msg.CallReducer, nil
	case KindSubscribe:
		return msg.Subscribe, nil
	case KindUnsubscribe:
		return msg.Unsubscribe, nil
	case KindOneOffQuery:
		return msg.OneOffQuery, nil
	default:
		return nil, errors.Wrapf(errors.ErrInvalidTag, "unknown client message kind %q", msg.Kind)
	}
}

// EncodeClientMessage serializes msg for the negotiated encoding, the
// client-side counterpart to DecodeClientMessage.
func EncodeClientMessage(enc Encoding, msg ClientMessage) ([]byte, error) {
	if enc == EncodingJSON {
		payload, err := clientMessagePayload(msg)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		return json.Marshal(jsonEnvelope{Kind: msg.Kind, Payload: raw})
	}

	tag, v, err := clientMessageValue(msg)
	if err != nil {
		return nil, err
	}
	return sats.Encode(bsatnTS, clientMessageType(), sats.SumVal(tag, &v), nil)
}

// DecodeServerMessage parses a server frame's payload (already
// decompressed) for the negotiated encoding, the server-side counterpart
// to EncodeServerMessage.
func DecodeServerMessage(enc Encoding, data []byte) (ServerMessage, error) {
	if len(data) == 0 {
		return ServerMessage{}, errors.ErrEmptyMessage
	}

	if enc == EncodingJSON {
		var env jsonEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return ServerMessage{}, err
		}
		msg := ServerMessage{Kind: env.Kind}
		switch env.Kind {
		case KindIdentityToken:
			msg.IdentityToken = &IdentityToken{}
			return msg, json.Unmarshal(env.Payload, msg.IdentityToken)
		case KindInitialSubscription:
			msg.InitialSubscription = &InitialSubscription{}
			return msg, json.Unmarshal(env.Payload, msg.InitialSubscription)
		case KindTransactionUpdate:
			msg.TransactionUpdate = &TransactionUpdate{}
			return msg, json.Unmarshal(env.Payload, msg.TransactionUpdate)
		case KindSubscribeApplied:
			msg.SubscribeApplied = &SubscribeApplied{}
			return msg, json.Unmarshal(env.Payload, msg.SubscribeApplied)
		case KindSubscribeError:
			msg.SubscribeError = &SubscribeError{}
			return msg, json.Unmarshal(env.Payload, msg.SubscribeError)
		case KindUnsubscribeApplied:
			msg.UnsubscribeApplied = &UnsubscribeApplied{}
			return msg, json.Unmarshal(env.Payload, msg.UnsubscribeApplied)
		case KindOneOffQueryResponse:
			msg.OneOffQueryResponse = &OneOffQueryResponse{}
			return msg, json.Unmarshal(env.Payload, msg.OneOffQueryResponse)
		default:
			return ServerMessage{}, errors.Wrapf(errors.ErrInvalidTag, "unknown server message kind %q", env.Kind)
		}
	}

	v, err := sats.DecodeExact(bsatnTS, serverMessageType(), data)
	if err != nil {
		return ServerMessage{}, err
	}
	if v.Sum == nil || v.Sum.Val == nil {
		return ServerMessage{}, errors.ErrInvalidTag
	}
	return serverMessageFromValue(v.Sum.Tag, *v.Sum.Val)
}

// DecodeClientMessage parses a client frame's payload (already
// decompressed) for the negotiated encoding.
func DecodeClientMessage(enc Encoding, data []byte) (ClientMessage, error) {
	if len(data) == 0 {
		return ClientMessage{}, errors.ErrEmptyMessage
	}

	if enc == EncodingJSON {
		var env jsonEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return ClientMessage{}, err
		}
		msg := ClientMessage{Kind: env.Kind}
		switch env.Kind {
		case KindCallReducer:
			msg.CallReducer = &CallReducer{}
			return msg, json.Unmarshal(env.Payload, msg.CallReducer)
		case KindSubscribe:
			msg.Subscribe = &Subscribe{}
			return msg, json.Unmarshal(env.Payload, msg.Subscribe)
		case KindUnsubscribe:
			msg.Unsubscribe = &Unsubscribe{}
			return msg, json.Unmarshal(env.Payload, msg.Unsubscribe)
		case KindOneOffQuery:
			msg.OneOffQuery = &OneOffQuery{}
			return msg, json.Unmarshal(env.Payload, msg.OneOffQuery)
		default:
			return ClientMessage{}, errors.Wrapf(errors.ErrInvalidTag, "unknown client message kind %q", env.Kind)
		}
	}

	v, err := sats.DecodeExact(bsatnTS, clientMessageType(), data)
	if err != nil {
		return ClientMessage{}, err
	}
	if v.Sum == nil || v.Sum.Val == nil {
		return ClientMessage{}, errors.ErrInvalidTag
	}
	return clientMessageFromValue(v.Sum.Tag, *v.Sum.Val)
}
