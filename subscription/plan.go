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

// Package subscription maintains per-client SQL views over the datastore
// and delivers incremental (insert, delete) updates as the commit stream
// advances, with row-level security AND-composed into every query.
package subscription

import (
	"github.com/veltdb/velt/energy"
	"github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/sats"
	"github.com/veltdb/velt/subscription/query"
)

// Reader is the read surface a compiled plan evaluates against. Both
// *datastore.ReadTx and *datastore.MutTx satisfy it structurally.
type Reader interface {
	Get(table string, id rowstore.RowId) (sats.Value, error)
	Scan(table string, fn func(id rowstore.RowId, row sats.Value) bool) error
	IndexSeek(table, index string, key []sats.Value) ([]rowstore.RowId, error)
}

// evalCtx carries the row(s) a compiled predicate evaluates against: the
// base table's row always, the joined table's row when the query has a
// join, and the caller identity :sender resolves to.
type evalCtx struct {
	base    sats.Value
	join    sats.Value
	hasJoin bool
	sender  energy.Identity
}

// side picks out which table to resolve a column against.
type side int

const (
	sideBase side = iota
	sideJoin
)

// Predicate is one compiled boolean test over an evalCtx.
type Predicate func(evalCtx) bool

// Plan is a compiled subscription query, ready to evaluate against any
// Reader snapshot.
type Plan struct {
	ts          *sats.Typespace
	q           *query.Query
	baseSchema  rowstore.TableSchema
	joinSchema  *rowstore.TableSchema
	joinOn      func(base, join sats.Value) bool
	where       Predicate
	projectJoin bool // true if the join table's rows are projected, not the base table's
}

// resolveSchema looks up the base or join schema referenced by a query's
// table alias or name.
func (p *Plan) resolveSchema(tableQualifier string) (rowstore.TableSchema, side, error) {
	if tableQualifier == "" || tableQualifier == p.q.Table || tableQualifier == p.q.As {
		return p.baseSchema, sideBase, nil
	}
	if p.joinSchema != nil && (tableQualifier == p.q.Join.Table || tableQualifier == p.q.Join.As) {
		return *p.joinSchema, sideJoin, nil
	}
	return rowstore.TableSchema{}, sideBase, errors.Wrapf(errors.ErrQueryTypeMismatch, "unknown table qualifier %q", tableQualifier)
}

// Compile type-checks q against the schema(s) it names and produces a
// Plan. tableSchemas maps table name to schema; it must contain every
// table the query's FROM/JOIN clauses reference.
func Compile(ts *sats.Typespace, q *query.Query, tableSchemas map[string]rowstore.TableSchema) (*Plan, error) {
	base, ok := tableSchemas[q.Table]
	if !ok {
		return nil, errors.Wrapf(errors.ErrQueryTypeMismatch, "unknown table %q", q.Table)
	}
	p := &Plan{ts: ts, q: q, baseSchema: base}

	if q.Join != nil {
		joinSchema, ok := tableSchemas[q.Join.Table]
		if !ok {
			return nil, errors.Wrapf(errors.ErrQueryTypeMismatch, "unknown join table %q", q.Join.Table)
		}
		p.joinSchema = &joinSchema
		onFn, err := p.compileJoinOn(q.Join.On)
		if err != nil {
			return nil, err
		}
		p.joinOn = onFn
	}

	switch q.Project {
	case "", q.Table, q.As:
		p.projectJoin = false
	default:
		if q.Join == nil || (q.Project != q.Join.Table && q.Project != q.Join.As) {
			return nil, errors.Wrapf(errors.ErrQueryTypeMismatch, "projected table %q is neither FROM nor JOIN table", q.Project)
		}
		p.projectJoin = true
	}

	where, err := p.compileWhere(q.Where)
	if err != nil {
		return nil, err
	}
	p.where = where
	return p, nil
}

func (p *Plan) compileJoinOn(c query.Cond) (func(base, join sats.Value) bool, error) {
	if c.Op != query.OpEQ || c.Left.Column == nil || c.Right.Column == nil {
		return nil, errors.Wrapf(errors.ErrQueryTypeMismatch, "JOIN ON must equate two columns")
	}
	leftSchema, leftSide, err := p.resolveSchema(c.Left.Column.Table)
	if err != nil {
		return nil, err
	}
	rightSchema, rightSide, err := p.resolveSchema(c.Right.Column.Table)
	if err != nil {
		return nil, err
	}
	if leftSide == rightSide {
		return nil, errors.Wrapf(errors.ErrQueryTypeMismatch, "JOIN ON must compare base to joined table")
	}
	leftIdx := leftSchema.ColumnIndex(c.Left.Column.Name)
	rightIdx := rightSchema.ColumnIndex(c.Right.Column.Name)
	if leftIdx < 0 || rightIdx < 0 {
		return nil, errors.Wrapf(errors.ErrQueryTypeMismatch, "unknown join column")
	}
	leftType := leftSchema.Columns[leftIdx].Type
	baseIdx, joinIdx := leftIdx, rightIdx
	if leftSide == sideJoin {
		baseIdx, joinIdx = rightIdx, leftIdx
	}
	ts := p.ts
	return func(base, join sats.Value) bool {
		return sats.Compare(ts, leftType, base.Product[baseIdx], join.Product[joinIdx]) == 0
	}, nil
}

func (p *Plan) compileWhere(conds []query.Cond) (Predicate, error) {
	preds := make([]Predicate, 0, len(conds))
	for _, c := range conds {
		pred, err := p.compileCond(c)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	return func(ctx evalCtx) bool {
		for _, pred := range preds {
			if !pred(ctx) {
				return false
			}
		}
		return true
	}, nil
}

type operandEval struct {
	value func(evalCtx) sats.Value
	typ   sats.Type
}

func (p *Plan) compileOperand(op query.Operand, knownType *sats.Type) (operandEval, error) {
	switch {
	case op.Column != nil:
		schema, s, err := p.resolveSchema(op.Column.Table)
		if err != nil {
			return operandEval{}, err
		}
		idx := schema.ColumnIndex(op.Column.Name)
		if idx < 0 {
			return operandEval{}, errors.Wrapf(errors.ErrQueryTypeMismatch, "unknown column %q", op.Column.Name)
		}
		typ := schema.Columns[idx].Type
		return operandEval{typ: typ, value: func(ctx evalCtx) sats.Value {
			if s == sideJoin {
				return ctx.join.Product[idx]
			}
			return ctx.base.Product[idx]
		}}, nil
	case op.IsSender:
		if knownType == nil {
			return operandEval{}, errors.Wrapf(errors.ErrQueryTypeMismatch, ":sender requires a column operand on the other side")
		}
		return operandEval{typ: *knownType, value: func(ctx evalCtx) sats.Value {
			return identityValue(ctx.sender)
		}}, nil
	case op.Literal != nil:
		if knownType == nil {
			return operandEval{}, errors.Wrapf(errors.ErrQueryTypeMismatch, "literal requires a column operand on the other side")
		}
		v, err := literalValue(*op.Literal, *knownType)
		if err != nil {
			return operandEval{}, err
		}
		return operandEval{typ: *knownType, value: func(evalCtx) sats.Value { return v }}, nil
	default:
		return operandEval{}, errors.Wrapf(errors.ErrQueryTypeMismatch, "empty operand")
	}
}

func (p *Plan) compileCond(c query.Cond) (Predicate, error) {
	var colType *sats.Type
	if c.Left.Column != nil {
		schema, _, err := p.resolveSchema(c.Left.Column.Table)
		if err == nil {
			if idx := schema.ColumnIndex(c.Left.Column.Name); idx >= 0 {
				t := schema.Columns[idx].Type
				colType = &t
			}
		}
	}
	if colType == nil && c.Right.Column != nil {
		schema, _, err := p.resolveSchema(c.Right.Column.Table)
		if err == nil {
			if idx := schema.ColumnIndex(c.Right.Column.Name); idx >= 0 {
				t := schema.Columns[idx].Type
				colType = &t
			}
		}
	}

	left, err := p.compileOperand(c.Left, colType)
	if err != nil {
		return nil, err
	}
	right, err := p.compileOperand(c.Right, &left.typ)
	if err != nil {
		return nil, err
	}
	ts := p.ts
	typ := left.typ
	op := c.Op
	return func(ctx evalCtx) bool {
		cmp := sats.Compare(ts, typ, left.value(ctx), right.value(ctx))
		switch op {
		case query.OpEQ:
			return cmp == 0
		case query.OpNE:
			return cmp != 0
		case query.OpLT:
			return cmp < 0
		case query.OpLE:
			return cmp <= 0
		case query.OpGT:
			return cmp > 0
		case query.OpGE:
			return cmp >= 0
		default:
			return false
		}
	}, nil
}

func identityValue(id energy.Identity) sats.Value {
	elems := make([]sats.Value, len(id))
	for i, b := range id {
		elems[i] = sats.U8Val(b)
	}
	return sats.ArrayVal(elems...)
}

func literalValue(lit query.Literal, typ sats.Type) (sats.Value, error) {
	switch typ.Kind {
	case sats.KindBool:
		return sats.BoolVal(lit.Int != 0 || lit.Bool), nil
	case sats.KindI8:
		return sats.I8Val(int8(lit.Int)), nil
	case sats.KindU8:
		return sats.U8Val(uint8(lit.Int)), nil
	case sats.KindI16:
		return sats.I16Val(int16(lit.Int)), nil
	case sats.KindU16:
		return sats.U16Val(uint16(lit.Int)), nil
	case sats.KindI32:
		return sats.I32Val(int32(lit.Int)), nil
	case sats.KindU32:
		return sats.U32Val(uint32(lit.Int)), nil
	case sats.KindI64:
		return sats.I64Val(lit.Int), nil
	case sats.KindU64:
		return sats.U64Val(uint64(lit.Int)), nil
	case sats.KindString:
		return sats.StrVal(lit.Str), nil
	default:
		return sats.Value{}, errors.Wrapf(errors.ErrQueryTypeMismatch, "literal cannot bind to column kind %s", typ.Kind)
	}
}

// Row pairs a projected row with the identifier it was inserted/deleted
// under in its own table.
type Row struct {
	ID    rowstore.RowId
	Value sats.Value
}

// Evaluate runs the full query over r, returning every row (from the
// projected table) that satisfies the join condition (if any) and the
// WHERE clause, deduplicated by row id.
func (p *Plan) Evaluate(r Reader, sender energy.Identity) ([]Row, error) {
	if p.joinSchema == nil {
		return p.evaluateSingleTable(r, sender)
	}
	return p.evaluateJoin(r, sender)
}

func (p *Plan) evaluateSingleTable(r Reader, sender energy.Identity) ([]Row, error) {
	var out []Row
	err := r.Scan(p.q.Table, func(id rowstore.RowId, row sats.Value) bool {
		if p.where(evalCtx{base: row, sender: sender}) {
			out = append(out, Row{ID: id, Value: row})
		}
		return true
	})
	return out, err
}

func (p *Plan) evaluateJoin(r Reader, sender energy.Identity) ([]Row, error) {
	var joinRows []Row
	if err := r.Scan(p.q.Join.Table, func(id rowstore.RowId, row sats.Value) bool {
		joinRows = append(joinRows, Row{ID: id, Value: row})
		return true
	}); err != nil {
		return nil, err
	}

	seen := map[rowstore.RowId]bool{}
	var out []Row
	err := r.Scan(p.q.Table, func(baseID rowstore.RowId, baseRow sats.Value) bool {
		for _, jr := range joinRows {
			if !p.joinOn(baseRow, jr.Value) {
				continue
			}
			ctx := evalCtx{base: baseRow, join: jr.Value, hasJoin: true, sender: sender}
			if !p.where(ctx) {
				continue
			}
			if p.projectJoin {
				if !seen[jr.ID] {
					seen[jr.ID] = true
					out = append(out, jr)
				}
			} else if !seen[baseID] {
				seen[baseID] = true
				out = append(out, Row{ID: baseID, Value: baseRow})
			}
		}
		return true
	})
	return out, err
}

// MatchesBaseRow evaluates the plan's WHERE predicate against a single
// base-table row with no join, the shape every row-level-security rule
// takes. Compile accepts joins; RLSCompiler.Compiled rejects a rule with
// a JOIN before it reaches here.
func (p *Plan) MatchesBaseRow(row sats.Value, sender energy.Identity) bool {
	return p.where(evalCtx{base: row, sender: sender})
}

// MatchesRow reports whether a single candidate row (from the base or join
// table, identified by fromJoin) would pass the plan's predicate when
// paired against other's current matching rows. Used by delta evaluation
// to test one changed row without a full re-scan.
func (p *Plan) MatchesRow(r Reader, sender energy.Identity, fromJoin bool, row sats.Value) (bool, error) {
	if p.joinSchema == nil {
		return p.where(evalCtx{base: row, sender: sender}), nil
	}
	otherTable := p.q.Join.Table
	if fromJoin {
		otherTable = p.q.Table
	}
	matched := false
	err := r.Scan(otherTable, func(_ rowstore.RowId, other sats.Value) bool {
		base, join := row, other
		if fromJoin {
			base, join = other, row
		}
		if !p.joinOn(base, join) {
			return true
		}
		if p.where(evalCtx{base: base, join: join, hasJoin: true, sender: sender}) {
			matched = true
			return false
		}
		return true
	})
	return matched, err
}
