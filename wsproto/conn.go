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
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/veltdb/velt/auth"
	"github.com/veltdb/velt/datastore"
	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/log"
	"github.com/veltdb/velt/modhost"
	"github.com/veltdb/velt/sats"
	"github.com/veltdb/velt/subscription"
)

var upgrader = websocket.Upgrader{
	Subprotocols:    Subprotocols,
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler upgrades incoming HTTP requests to the reducer/subscription
// WebSocket protocol. One Handler is shared by every connection, since
// a committed reducer call on one connection can produce TransactionUpdate
// deliveries for subscriptions owned by any other.
type Handler struct {
	ds     *datastore.Datastore
	ts     *sats.Typespace
	host   *modhost.Host
	engine *subscription.Engine
	issuer *auth.Issuer
	logger log.Logger

	mu   sync.Mutex
	subs map[string]*conn // engine subscription id -> owning connection
}

func NewHandler(ds *datastore.Datastore, ts *sats.Typespace, host *modhost.Host, engine *subscription.Engine, issuer *auth.Issuer, logger log.Logger) *Handler {
	return &Handler{
		ds:     ds,
		ts:     ts,
		host:   host,
		engine: engine,
		issuer: issuer,
		logger: logger,
		subs:   map[string]*conn{},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	version, enc, err := ParseSubprotocol(ws.Subprotocol())
	if err != nil {
		h.logger.Warn("unsupported subprotocol", "remote", ws.RemoteAddr().String(), "error", err)
		ws.Close()
		return
	}

	caller, token, err := h.identify(r)
	if err != nil {
		h.logger.Warn("identify failed", "remote", ws.RemoteAddr().String(), "error", err)
		ws.Close()
		return
	}

	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		Handler: h,
		ws:      ws,
		version: version,
		enc:     enc,
		caller:  caller,
		connID:  connID,
		ctx:     ctx,
		cancel:  cancel,
		reqSubs: map[uint32][]string{},
		log:     h.logger.New("remote", ws.RemoteAddr().String(), "identity", caller.String(), "connection_id", connID),
	}
	c.serve(token)
}

// identify resolves the caller identity for a new connection from an
// Authorization bearer token, minting a fresh identity and token when
// none is presented. Minting the identity itself - as opposed to
// renewing its token - is this package's business, not an external
// collaborator's: every connection needs one to be admitted at all.
func (h *Handler) identify(r *http.Request) (energy.Identity, string, error) {
	if tok := bearerToken(r); tok != "" {
		id, err := h.issuer.Validate(tok)
		if err == nil {
			return id, tok, nil
		}
		h.logger.Debug("rejecting invalid bearer token, minting new identity", "error", err)
	}

	id, err := newIdentity()
	if err != nil {
		return energy.Identity{}, "", err
	}
	tok, err := h.issuer.Issue(id)
	if err != nil {
		return energy.Identity{}, "", err
	}
	return id, tok, nil
}

// newIdentity generates a fresh random principal for a connection that
// presented no usable bearer token. A standalone embedded instance has
// no external identity provider to defer to, so it has to mint one
// itself to admit the connection at all.
func newIdentity() (energy.Identity, error) {
	var id energy.Identity
	if _, err := rand.Read(id[:]); err != nil {
		return energy.Identity{}, err
	}
	return id, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return r.URL.Query().Get("token")
}

// conn is one accepted WebSocket connection: its own identity, its own
// negotiated encoding, and the set of engine subscriptions it has open,
// keyed by the client-chosen request_id that registered them.
type conn struct {
	*Handler
	ws      *websocket.Conn
	version Version
	enc     Encoding
	caller  energy.Identity
	connID  string
	ctx     context.Context
	cancel  context.CancelFunc

	writeMu sync.Mutex

	mu      sync.Mutex
	reqSubs map[uint32][]string

	log log.Logger
}

func (c *conn) serve(token string) {
	defer c.close()

	if err := c.send(ServerMessage{
		Kind: KindIdentityToken,
		IdentityToken: &IdentityToken{
			Identity:     c.caller,
			Token:        token,
			ConnectionID: c.connID,
		},
	}); err != nil {
		c.log.Warn("failed to send identity token", "error", err)
		return
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		typ, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.log.Debug("read failed, closing connection", "error", err)
			return
		}
		if typ != websocket.BinaryMessage {
			c.log.Warn("ignoring non-binary frame")
			continue
		}

		payload, err := Unframe(raw)
		if err != nil {
			c.log.Warn("fatal frame error, closing connection", "error", err)
			return
		}

		msg, err := DecodeClientMessage(c.enc, payload)
		if err != nil {
			c.log.Warn("fatal decode error, closing connection", "error", err)
			return
		}

		c.handle(msg)
	}
}

func (c *conn) close() {
	c.cancel()
	c.mu.Lock()
	ids := make([]string, 0)
	for _, subIDs := range c.reqSubs {
		ids = append(ids, subIDs...)
	}
	c.reqSubs = map[uint32][]string{}
	c.mu.Unlock()

	c.Handler.mu.Lock()
	for _, id := range ids {
		delete(c.Handler.subs, id)
	}
	c.Handler.mu.Unlock()

	for _, id := range ids {
		_ = c.engine.Unsubscribe(id)
	}
	c.ws.Close()
}

func (c *conn) send(msg ServerMessage) error {
	data, err := EncodeServerMessage(c.enc, msg)
	if err != nil {
		return err
	}
	framed, err := Frame(CompressionNone, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, framed)
}

func (c *conn) handle(msg ClientMessage) {
	switch msg.Kind {
	case KindCallReducer:
		c.handleCallReducer(msg.CallReducer)
	case KindSubscribe:
		c.handleSubscribe(msg.Subscribe)
	case KindUnsubscribe:
		c.handleUnsubscribe(msg.Unsubscribe)
	case KindOneOffQuery:
		c.handleOneOffQuery(msg.OneOffQuery)
	default:
		c.log.Warn("unknown client message kind, ignoring", "kind", msg.Kind)
	}
}

func (c *conn) handleCallReducer(m *CallReducer) {
	desc := c.host.Description()
	rd, ok := desc.ReducerByName(m.ReducerName)
	if !ok {
		c.sendReducerFailure(m.ReducerName, "failed", fmt.Sprintf("unknown reducer %q", m.ReducerName))
		return
	}

	argVal, err := sats.DecodeExact(desc.Typespace, rd.ArgType, m.Args)
	if err != nil {
		c.sendReducerFailure(m.ReducerName, "failed", "invalid reducer arguments: "+err.Error())
		return
	}

	outcome, err := c.host.Dispatch(modhost.Request{
		ReducerName: m.ReducerName,
		Args:        argVal,
		Caller:      c.caller,
		Timestamp:   time.Now(),
	})
	if err != nil {
		c.sendReducerFailure(m.ReducerName, "failed", err.Error())
		return
	}

	c.Handler.broadcastCommit(c, m.ReducerName, outcome)
}

func (c *conn) sendReducerFailure(reducerName, status, message string) {
	if err := c.send(ServerMessage{
		Kind: KindTransactionUpdate,
		TransactionUpdate: &TransactionUpdate{
			Timestamp: time.Now().UnixMicro(),
			Caller:    c.caller,
			Reducer:   reducerName,
			Status:    status,
			Message:   message,
		},
	}); err != nil {
		c.log.Warn("failed to send reducer failure", "error", err)
	}
}

func (c *conn) handleSubscribe(m *Subscribe) {
	cat, err := c.ds.Catalog()
	if err != nil {
		c.sendSubscribeError(m.RequestID, err.Error())
		return
	}

	ids := make([]string, 0, len(m.QueryStrings))
	updates := make([]QueryUpdate, 0, len(m.QueryStrings))
	for i, sql := range m.QueryStrings {
		subID := fmt.Sprintf("%s/%d/%d", c.connID, m.RequestID, i)
		rows, err := c.engine.Subscribe(subID, sql, c.caller)
		if err != nil {
			for _, done := range ids {
				_ = c.engine.Unsubscribe(done)
			}
			c.sendSubscribeError(m.RequestID, err.Error())
			return
		}
		ids = append(ids, subID)

		table, err := c.engine.ProjectedTable(subID)
		if err != nil {
			for _, done := range ids {
				_ = c.engine.Unsubscribe(done)
			}
			c.sendSubscribeError(m.RequestID, err.Error())
			return
		}
		ops, err := rowsToOps(cat, c.ts, table, rows)
		if err != nil {
			for _, done := range ids {
				_ = c.engine.Unsubscribe(done)
			}
			c.sendSubscribeError(m.RequestID, err.Error())
			return
		}
		updates = append(updates, QueryUpdate{QueryID: subID, Rows: ops})
	}

	c.mu.Lock()
	c.reqSubs[m.RequestID] = ids
	c.mu.Unlock()

	c.Handler.mu.Lock()
	for _, id := range ids {
		c.Handler.subs[id] = c
	}
	c.Handler.mu.Unlock()

	if err := c.send(ServerMessage{
		Kind:                KindInitialSubscription,
		InitialSubscription: &InitialSubscription{RequestID: m.RequestID, Updates: updates},
	}); err != nil {
		c.log.Warn("failed to send initial subscription", "error", err)
	}
}

func (c *conn) sendSubscribeError(requestID uint32, reason string) {
	if err := c.send(ServerMessage{
		Kind:           KindSubscribeError,
		SubscribeError: &SubscribeError{RequestID: requestID, Error: reason},
	}); err != nil {
		c.log.Warn("failed to send subscribe error", "error", err)
	}
}

func (c *conn) handleUnsubscribe(m *Unsubscribe) {
	c.mu.Lock()
	ids, ok := c.reqSubs[m.RequestID]
	delete(c.reqSubs, m.RequestID)
	c.mu.Unlock()
	if !ok {
		return
	}

	c.Handler.mu.Lock()
	for _, id := range ids {
		delete(c.Handler.subs, id)
	}
	c.Handler.mu.Unlock()

	for _, id := range ids {
		_ = c.engine.Unsubscribe(id)
	}

	if err := c.send(ServerMessage{
		Kind:               KindUnsubscribeApplied,
		UnsubscribeApplied: &UnsubscribeApplied{RequestID: m.RequestID},
	}); err != nil {
		c.log.Warn("failed to send unsubscribe applied", "error", err)
	}
}

func (c *conn) handleOneOffQuery(m *OneOffQuery) {
	rows, err := c.engine.OneOffQuery(m.SQL, c.caller)
	if err != nil {
		c.sendOneOffError(m.RequestID, err.Error())
		return
	}

	table, err := c.engine.QueryTable(m.SQL)
	if err != nil {
		c.sendOneOffError(m.RequestID, err.Error())
		return
	}

	cat, err := c.ds.Catalog()
	if err != nil {
		c.sendOneOffError(m.RequestID, err.Error())
		return
	}

	schema, ok := cat.Tables[table]
	if !ok {
		c.sendOneOffError(m.RequestID, fmt.Sprintf("unknown table %q", table))
		return
	}

	rowType := schema.RowType()
	encoded := make([][]byte, len(rows))
	for i, r := range rows {
		b, err := sats.Encode(c.ts, rowType, r.Value, nil)
		if err != nil {
			c.sendOneOffError(m.RequestID, err.Error())
			return
		}
		encoded[i] = b
	}

	if err := c.send(ServerMessage{
		Kind:                KindOneOffQueryResponse,
		OneOffQueryResponse: &OneOffQueryResponse{RequestID: m.RequestID, Rows: encoded},
	}); err != nil {
		c.log.Warn("failed to send one-off query response", "error", err)
	}
}

func (c *conn) sendOneOffError(requestID uint32, reason string) {
	if err := c.send(ServerMessage{
		Kind: KindOneOffQueryResponse,
		OneOffQueryResponse: &OneOffQueryResponse{
			RequestID: requestID,
			Error:     reason,
		},
	}); err != nil {
		c.log.Warn("failed to send one-off query error", "error", err)
	}
}

// broadcastCommit feeds a committed reducer outcome to the subscription
// engine and delivers the resulting per-subscription deltas to whichever
// connections own them - which may include connections other than
// caller, the one that issued the CallReducer. caller always receives
// exactly one TransactionUpdate of its own, carrying the outcome status
// even when the call produced no committed row effects at all.
func (h *Handler) broadcastCommit(caller *conn, reducerName string, outcome modhost.Outcome) {
	var updates []subscription.Update
	if outcome.Status == modhost.Committed {
		result := datastore.WriteResult{TxOffset: outcome.TxOffset, Changes: outcome.Changes}
		var err error
		updates, err = h.engine.OnCommit(result)
		if err != nil {
			h.logger.Error("subscription delta evaluation failed", "error", err)
		}
	}

	grouped := map[*conn][]QueryUpdate{caller: nil}
	if len(updates) > 0 {
		cat, catErr := h.ds.Catalog()
		if catErr != nil {
			h.logger.Error("catalog load failed during broadcast", "error", catErr)
		} else {
			h.mu.Lock()
			for _, u := range updates {
				owner, ok := h.subs[u.ID]
				if !ok {
					continue
				}
				table, terr := h.engine.ProjectedTable(u.ID)
				if terr != nil {
					continue
				}
				ops, oerr := deltasToOps(cat, h.ts, table, u.Deltas)
				if oerr != nil {
					h.logger.Error("row encode failed during broadcast", "error", oerr)
					continue
				}
				grouped[owner] = append(grouped[owner], QueryUpdate{QueryID: u.ID, Rows: ops})
			}
			h.mu.Unlock()
		}
	}

	timestamp := time.Now().UnixMicro()
	for owner, qus := range grouped {
		err := owner.send(ServerMessage{
			Kind: KindTransactionUpdate,
			TransactionUpdate: &TransactionUpdate{
				TxOffset:   outcome.TxOffset,
				Timestamp:  timestamp,
				Caller:     caller.caller,
				Reducer:    reducerName,
				Status:     string(outcome.Status),
				EnergyUsed: outcome.EnergyUsed,
				Message:    outcome.Message,
				Updates:    qus,
			},
		})
		if err != nil {
			owner.log.Warn("failed to deliver transaction update", "error", err)
		}
	}
}

func rowsToOps(cat datastore.Catalog, ts *sats.Typespace, table string, rows []subscription.Row) ([]RowOp, error) {
	schema, ok := cat.Tables[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	rowType := schema.RowType()
	ops := make([]RowOp, len(rows))
	for i, r := range rows {
		b, err := sats.Encode(ts, rowType, r.Value, nil)
		if err != nil {
			return nil, err
		}
		ops[i] = RowOp{Insert: true, Row: b}
	}
	return ops, nil
}

func deltasToOps(cat datastore.Catalog, ts *sats.Typespace, table string, deltas []subscription.Delta) ([]RowOp, error) {
	schema, ok := cat.Tables[table]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	rowType := schema.RowType()
	ops := make([]RowOp, len(deltas))
	for i, d := range deltas {
		b, err := sats.Encode(ts, rowType, d.Row.Value, nil)
		if err != nil {
			return nil, err
		}
		ops[i] = RowOp{Insert: d.Insert, Row: b}
	}
	return ops, nil
}
