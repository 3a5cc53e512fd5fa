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

// Package query parses the subscription grammar subset - single-table or
// single-join SELECT with an AND-only WHERE clause referencing the caller
// via :sender - using the pingcap/tidb SQL parser as a frontend, then
// hands back a small typed AST the planner compiles against a schema.
// Nothing downstream of Parse touches the tidb AST directly.
package query

import (
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/veltdb/velt/pkg/errors"
)

// senderToken is what :sender is rewritten to before handing the string to
// tidb's parser, which has no bind-parameter syntax for a bare identifier
// prefixed with a colon. The rewritten identifier is recognized again once
// the AST comes back out.
const senderToken = "__sender__"

// CmpOp is one of the subset's comparison operators.
type CmpOp int

const (
	OpEQ CmpOp = iota
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
)

// Column references a (possibly table-qualified) column by name.
type Column struct {
	Table string
	Name  string
}

// Literal is a constant operand: exactly one of its fields is set,
// matching how the tidb parser's literal driver hands back Go values.
type Literal struct {
	Int    int64
	Str    string
	Bool   bool
	IsNull bool
}

// Operand is a Column, a Literal, or the caller-identity placeholder
// :sender. Exactly one of these fields is non-nil/true.
type Operand struct {
	Column   *Column
	Literal  *Literal
	IsSender bool
}

// Cond is one leaf comparison of a flattened, AND-only WHERE clause.
type Cond struct {
	Left  Operand
	Op    CmpOp
	Right Operand
}

// Join describes a single INNER JOIN ... ON left = right.
type Join struct {
	Table string
	As    string
	On    Cond
}

// Query is the compiled shape of one subscription's SQL text.
type Query struct {
	SQL     string
	Table   string
	As      string
	Join    *Join
	Where   []Cond // implicitly AND-ed
	Project string // table name (or alias) whose columns are projected; "" means the single FROM table
}

// Parse parses one subscription query string against the grammar subset:
// SELECT * FROM t | SELECT t.* FROM t [JOIN u ON ...] [WHERE ...].
func Parse(sql string) (*Query, error) {
	rewritten := strings.ReplaceAll(sql, ":sender", senderToken)

	p := parser.New()
	stmts, _, err := p.Parse(rewritten, "", "")
	if err != nil {
		return nil, errors.Wrapf(errors.ErrQuerySyntax, "%s", err)
	}
	if len(stmts) != 1 {
		return nil, errors.Wrapf(errors.ErrQuerySyntax, "expected exactly one statement, got %d", len(stmts))
	}
	sel, ok := stmts[0].(*ast.SelectStmt)
	if !ok {
		return nil, errors.Wrapf(errors.ErrQuerySyntax, "only SELECT is supported")
	}
	if sel.From == nil || sel.From.TableRefs == nil {
		return nil, errors.Wrapf(errors.ErrQuerySyntax, "missing FROM clause")
	}

	q := &Query{SQL: sql}
	if err := parseFrom(sel.From.TableRefs, q); err != nil {
		return nil, err
	}
	if err := parseProjection(sel.Fields, q); err != nil {
		return nil, err
	}
	if sel.Where != nil {
		conds, err := flattenAnd(sel.Where)
		if err != nil {
			return nil, err
		}
		q.Where = conds
	}
	return q, nil
}

func parseFrom(join *ast.Join, q *Query) error {
	left, ok := join.Left.(*ast.TableSource)
	if !ok {
		return errors.Wrapf(errors.ErrQuerySyntax, "unsupported FROM clause shape")
	}
	table, as, err := tableSourceName(left)
	if err != nil {
		return err
	}
	q.Table, q.As = table, as

	if join.Right == nil {
		return nil
	}
	right, ok := join.Right.(*ast.TableSource)
	if !ok {
		return errors.Wrapf(errors.ErrQuerySyntax, "unsupported JOIN right-hand side")
	}
	rTable, rAs, err := tableSourceName(right)
	if err != nil {
		return err
	}
	if join.On == nil {
		return errors.Wrapf(errors.ErrQuerySyntax, "JOIN requires an ON clause")
	}
	onCond, err := toCond(join.On.Expr)
	if err != nil {
		return err
	}
	q.Join = &Join{Table: rTable, As: rAs, On: onCond}
	return nil
}

func tableSourceName(src *ast.TableSource) (table, as string, err error) {
	name, ok := src.Source.(*ast.TableName)
	if !ok {
		return "", "", errors.Wrapf(errors.ErrQuerySyntax, "FROM must name a base table")
	}
	return name.Name.O, src.AsName.O, nil
}

func parseProjection(fields *ast.FieldList, q *Query) error {
	if fields == nil || len(fields.Fields) != 1 {
		return errors.Wrapf(errors.ErrQuerySyntax, "exactly one projected table (t.* or *) is supported")
	}
	f := fields.Fields[0]
	if f.WildCard == nil {
		return errors.Wrapf(errors.ErrQuerySyntax, "only * or t.* projections are supported")
	}
	q.Project = f.WildCard.Table.O
	return nil
}

func flattenAnd(expr ast.ExprNode) ([]Cond, error) {
	if bin, ok := expr.(*ast.BinaryOperationExpr); ok && bin.Op == opcode.LogicAnd {
		left, err := flattenAnd(bin.L)
		if err != nil {
			return nil, err
		}
		right, err := flattenAnd(bin.R)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	}
	cond, err := toCond(expr)
	if err != nil {
		return nil, err
	}
	return []Cond{cond}, nil
}

func toCond(expr ast.ExprNode) (Cond, error) {
	bin, ok := expr.(*ast.BinaryOperationExpr)
	if !ok {
		return Cond{}, errors.Wrapf(errors.ErrQuerySyntax, "expected a comparison, got %T", expr)
	}
	op, err := toCmpOp(bin.Op)
	if err != nil {
		return Cond{}, err
	}
	left, err := toOperand(bin.L)
	if err != nil {
		return Cond{}, err
	}
	right, err := toOperand(bin.R)
	if err != nil {
		return Cond{}, err
	}
	return Cond{Left: left, Op: op, Right: right}, nil
}

func toCmpOp(op opcode.Op) (CmpOp, error) {
	switch op {
	case opcode.EQ:
		return OpEQ, nil
	case opcode.NE:
		return OpNE, nil
	case opcode.LT:
		return OpLT, nil
	case opcode.LE:
		return OpLE, nil
	case opcode.GT:
		return OpGT, nil
	case opcode.GE:
		return OpGE, nil
	default:
		return 0, errors.Wrapf(errors.ErrQuerySyntax, "unsupported operator %v", op)
	}
}

func toOperand(expr ast.ExprNode) (Operand, error) {
	switch e := expr.(type) {
	case *ast.ColumnNameExpr:
		if e.Name.Name.O == senderToken && e.Name.Table.O == "" {
			return Operand{IsSender: true}, nil
		}
		return Operand{Column: &Column{Table: e.Name.Table.O, Name: e.Name.Name.O}}, nil
	case ast.ValueExpr:
		lit, err := toLiteral(e)
		if err != nil {
			return Operand{}, err
		}
		return Operand{Literal: lit}, nil
	default:
		return Operand{}, errors.Wrapf(errors.ErrQuerySyntax, "unsupported expression %T", expr)
	}
}

func toLiteral(v ast.ValueExpr) (*Literal, error) {
	raw := v.GetValue()
	switch val := raw.(type) {
	case nil:
		return &Literal{IsNull: true}, nil
	case int64:
		return &Literal{Int: val}, nil
	case uint64:
		return &Literal{Int: int64(val)}, nil
	case string:
		return &Literal{Str: val}, nil
	case []byte:
		return &Literal{Str: string(val)}, nil
	default:
		return nil, errors.Wrapf(errors.ErrQuerySyntax, "unsupported literal type %T", raw)
	}
}
