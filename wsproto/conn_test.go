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
	"context"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/veltdb/velt/auth"
	"github.com/veltdb/velt/conf"
	"github.com/veltdb/velt/datastore"
	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/log"
	"github.com/veltdb/velt/modhost"
	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/sats"
	"github.com/veltdb/velt/subscription"
)

type fakeInvoker struct {
	run func(env *modhost.Env, reducerName string, args sats.Value) error
}

func (f *fakeInvoker) InvokeReducer(env *modhost.Env, reducerName string, args sats.Value) error {
	return f.run(env, reducerName, args)
}

func widgetsSchema() rowstore.TableSchema {
	return rowstore.TableSchema{
		Name: "widgets",
		Columns: []rowstore.ColumnSchema{
			{Name: "id", Type: sats.U64(), AutoInc: true},
			{Name: "name", Type: sats.StringT()},
		},
	}
}

func createWidgetDescription(ts *sats.Typespace) *modhost.Description {
	return &modhost.Description{
		Tables: []rowstore.TableSchema{widgetsSchema()},
		Reducers: []modhost.ReducerDesc{
			{
				Name:    "create_widget",
				ArgType: sats.ProductOf(sats.Field{Name: "name", Type: sats.StringT()}),
				Kind:    modhost.ReducerStandard,
			},
		},
		Typespace: ts,
	}
}

// testServer wires a Handler against a fresh datastore with one table and
// one reducer that inserts into it, and serves it over a real httptest
// WebSocket listener.
type testServer struct {
	srv    *httptest.Server
	ds     *datastore.Datastore
	issuer *auth.Issuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := conf.DefaultConfig()
	cfg.DataDir = dir
	ts, err := sats.NewTypespace(nil)
	require.NoError(t, err)
	ds, err := datastore.Open(dir, cfg, ts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })

	_, err = ds.WriteTx(func(m *datastore.MutTx) error {
		return m.CreateTable(widgetsSchema(), false)
	})
	require.NoError(t, err)

	desc := createWidgetDescription(ts)
	invoker := &fakeInvoker{run: func(env *modhost.Env, reducerName string, args sats.Value) error {
		_, err := env.Insert("widgets", sats.ProductVal(sats.U64Val(0), sats.StrVal(args.Product[0].Str)))
		return err
	}}
	host := modhost.NewHost(ds, invoker, desc)
	engine := subscription.NewEngine(ds, ts, energy.Identity{0xFF})
	require.NoError(t, ds.SetEnergyBalance(energy.Identity{0xFF}, big.NewInt(10_000)))
	issuer := auth.NewIssuer([]byte("test-secret"))

	handler := NewHandler(ds, ts, host, engine, issuer, log.New("test", "conn"))
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, ds: ds, issuer: issuer}
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) dial(t *testing.T, subprotocol string) (*websocket.Conn, IdentityToken) {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{subprotocol}}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, resp, err := dialer.DialContext(ctx, ts.wsURL(), nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	enc := encodingFor(t, subprotocol)
	msg := readServerMessage(t, conn, enc)
	require.Equal(t, KindIdentityToken, msg.Kind)
	require.NotNil(t, msg.IdentityToken)
	return conn, *msg.IdentityToken
}

func encodingFor(t *testing.T, subprotocol string) Encoding {
	t.Helper()
	_, enc, err := ParseSubprotocol(subprotocol)
	require.NoError(t, err)
	return enc
}

func readServerMessage(t *testing.T, conn *websocket.Conn, enc Encoding) ServerMessage {
	t.Helper()
	typ, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, typ)
	payload, err := Unframe(raw)
	require.NoError(t, err)
	msg, err := DecodeServerMessage(enc, payload)
	require.NoError(t, err)
	return msg
}

func sendClientMessage(t *testing.T, conn *websocket.Conn, enc Encoding, msg ClientMessage) {
	t.Helper()
	data, err := EncodeClientMessage(enc, msg)
	require.NoError(t, err)
	framed, err := Frame(CompressionNone, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, framed))
}

func TestConnHandshakeIssuesIdentityToken(t *testing.T) {
	ts := newTestServer(t)
	_, tok := ts.dial(t, "v1.bsatn.spacetimedb")
	require.NotEmpty(t, tok.Token)
	require.NotEmpty(t, tok.ConnectionID)

	id, err := ts.issuer.Validate(tok.Token)
	require.NoError(t, err)
	require.Equal(t, tok.Identity, id)
}

func TestConnCallReducerCommitsAndAcksCaller(t *testing.T) {
	ts := newTestServer(t)
	conn, tok := ts.dial(t, "v1.bsatn.spacetimedb")
	require.NoError(t, ts.ds.SetEnergyBalance(tok.Identity, big.NewInt(10_000)))

	argBytes, err := sats.Encode(nil, sats.ProductOf(sats.Field{Name: "name", Type: sats.StringT()}),
		sats.ProductVal(sats.StrVal("gadget")), nil)
	require.NoError(t, err)

	sendClientMessage(t, conn, EncodingBSATN, ClientMessage{
		Kind: KindCallReducer,
		CallReducer: &CallReducer{
			ReducerName: "create_widget",
			Args:        argBytes,
			RequestID:   1,
		},
	})

	msg := readServerMessage(t, conn, EncodingBSATN)
	require.Equal(t, KindTransactionUpdate, msg.Kind)
	require.NotNil(t, msg.TransactionUpdate)
	require.Equal(t, "committed", msg.TransactionUpdate.Status)
	require.Equal(t, "create_widget", msg.TransactionUpdate.Reducer)
	require.Greater(t, msg.TransactionUpdate.EnergyUsed, int64(0))
}

func TestConnCallReducerWithoutBalanceReportsOutOfEnergy(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := ts.dial(t, "v1.json.spacetimedb")

	argBytes, err := sats.Encode(nil, sats.ProductOf(sats.Field{Name: "name", Type: sats.StringT()}),
		sats.ProductVal(sats.StrVal("gizmo")), nil)
	require.NoError(t, err)

	sendClientMessage(t, conn, EncodingJSON, ClientMessage{
		Kind: KindCallReducer,
		CallReducer: &CallReducer{ReducerName: "create_widget", Args: argBytes, RequestID: 2},
	})

	msg := readServerMessage(t, conn, EncodingJSON)
	require.Equal(t, KindTransactionUpdate, msg.Kind)
	require.Equal(t, "out_of_energy", msg.TransactionUpdate.Status)
}

func TestConnCallReducerUnknownNameReportsFailed(t *testing.T) {
	ts := newTestServer(t)
	conn, _ := ts.dial(t, "v1.bsatn.spacetimedb")

	sendClientMessage(t, conn, EncodingBSATN, ClientMessage{
		Kind:        KindCallReducer,
		CallReducer: &CallReducer{ReducerName: "does_not_exist", Args: nil, RequestID: 3},
	})

	msg := readServerMessage(t, conn, EncodingBSATN)
	require.Equal(t, KindTransactionUpdate, msg.Kind)
	require.Equal(t, "failed", msg.TransactionUpdate.Status)
}

func TestConnSubscribeReturnsInitialSetThenDeltaOnCommit(t *testing.T) {
	ts := newTestServer(t)
	subConn, _ := ts.dial(t, "v1.bsatn.spacetimedb")
	callConn, callerTok := ts.dial(t, "v1.bsatn.spacetimedb")
	require.NoError(t, ts.ds.SetEnergyBalance(callerTok.Identity, big.NewInt(10_000)))

	sendClientMessage(t, subConn, EncodingBSATN, ClientMessage{
		Kind:      KindSubscribe,
		Subscribe: &Subscribe{QueryStrings: []string{"SELECT * FROM widgets"}, RequestID: 7},
	})
	initial := readServerMessage(t, subConn, EncodingBSATN)
	require.Equal(t, KindInitialSubscription, initial.Kind)
	require.Len(t, initial.InitialSubscription.Updates, 1)
	require.Empty(t, initial.InitialSubscription.Updates[0].Rows)

	argBytes, err := sats.Encode(nil, sats.ProductOf(sats.Field{Name: "name", Type: sats.StringT()}),
		sats.ProductVal(sats.StrVal("widget-a")), nil)
	require.NoError(t, err)
	sendClientMessage(t, callConn, EncodingBSATN, ClientMessage{
		Kind:        KindCallReducer,
		CallReducer: &CallReducer{ReducerName: "create_widget", Args: argBytes, RequestID: 8},
	})

	callerUpdate := readServerMessage(t, callConn, EncodingBSATN)
	require.Equal(t, KindTransactionUpdate, callerUpdate.Kind)
	require.Equal(t, "committed", callerUpdate.TransactionUpdate.Status)

	subUpdate := readServerMessage(t, subConn, EncodingBSATN)
	require.Equal(t, KindTransactionUpdate, subUpdate.Kind)
	require.Len(t, subUpdate.TransactionUpdate.Updates, 1)
	rows := subUpdate.TransactionUpdate.Updates[0].Rows
	require.Len(t, rows, 1)
	require.True(t, rows[0].Insert)
}

func TestConnUnsubscribeStopsFurtherDeltas(t *testing.T) {
	ts := newTestServer(t)
	subConn, _ := ts.dial(t, "v1.bsatn.spacetimedb")
	callConn, callerTok := ts.dial(t, "v1.bsatn.spacetimedb")
	require.NoError(t, ts.ds.SetEnergyBalance(callerTok.Identity, big.NewInt(10_000)))

	sendClientMessage(t, subConn, EncodingBSATN, ClientMessage{
		Kind:      KindSubscribe,
		Subscribe: &Subscribe{QueryStrings: []string{"SELECT * FROM widgets"}, RequestID: 11},
	})
	_ = readServerMessage(t, subConn, EncodingBSATN) // initial subscription

	sendClientMessage(t, subConn, EncodingBSATN, ClientMessage{
		Kind:        KindUnsubscribe,
		Unsubscribe: &Unsubscribe{RequestID: 11},
	})
	applied := readServerMessage(t, subConn, EncodingBSATN)
	require.Equal(t, KindUnsubscribeApplied, applied.Kind)

	argBytes, err := sats.Encode(nil, sats.ProductOf(sats.Field{Name: "name", Type: sats.StringT()}),
		sats.ProductVal(sats.StrVal("widget-b")), nil)
	require.NoError(t, err)
	sendClientMessage(t, callConn, EncodingBSATN, ClientMessage{
		Kind:        KindCallReducer,
		CallReducer: &CallReducer{ReducerName: "create_widget", Args: argBytes, RequestID: 12},
	})
	callerUpdate := readServerMessage(t, callConn, EncodingBSATN)
	require.Equal(t, "committed", callerUpdate.TransactionUpdate.Status)

	require.NoError(t, subConn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = subConn.ReadMessage()
	require.Error(t, err, "unsubscribed connection must not receive a further delta")
}

func TestConnOneOffQueryReturnsEncodedRows(t *testing.T) {
	ts := newTestServer(t)
	callConn, callerTok := ts.dial(t, "v1.json.spacetimedb")
	require.NoError(t, ts.ds.SetEnergyBalance(callerTok.Identity, big.NewInt(10_000)))

	argBytes, err := sats.Encode(nil, sats.ProductOf(sats.Field{Name: "name", Type: sats.StringT()}),
		sats.ProductVal(sats.StrVal("widget-c")), nil)
	require.NoError(t, err)
	sendClientMessage(t, callConn, EncodingJSON, ClientMessage{
		Kind:        KindCallReducer,
		CallReducer: &CallReducer{ReducerName: "create_widget", Args: argBytes, RequestID: 20},
	})
	_ = readServerMessage(t, callConn, EncodingJSON)

	sendClientMessage(t, callConn, EncodingJSON, ClientMessage{
		Kind:        KindOneOffQuery,
		OneOffQuery: &OneOffQuery{SQL: "SELECT * FROM widgets", RequestID: 21},
	})
	resp := readServerMessage(t, callConn, EncodingJSON)
	require.Equal(t, KindOneOffQueryResponse, resp.Kind)
	require.Empty(t, resp.OneOffQueryResponse.Error)
	require.Len(t, resp.OneOffQueryResponse.Rows, 1)

	rowType := widgetsSchema().RowType()
	row, _, err := sats.Decode(nil, rowType, resp.OneOffQueryResponse.Rows[0])
	require.NoError(t, err)
	require.Equal(t, "widget-c", row.Product[1].Str)
}
