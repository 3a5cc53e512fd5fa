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

package sats

import (
	"fmt"

	"github.com/veltdb/velt/pkg/errors"
)

// Typespace is an ordered, append-only table of types. Module schemas and
// row schemas alike reference their component types by index into a
// Typespace rather than embedding them inline, so recursive-looking
// schemas (a table referencing its own row type) can be expressed without
// an actually-infinite Type value.
type Typespace struct {
	types []Type
}

// NewTypespace builds a Typespace from types, validating that its Ref
// graph is acyclic and every Ref is in range.
func NewTypespace(types []Type) (*Typespace, error) {
	ts := &Typespace{types: types}
	for i := range types {
		if err := ts.checkAcyclic(uint32(i)); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

// Get returns the type at index i.
func (ts *Typespace) Get(i uint32) (Type, error) {
	if int(i) >= len(ts.types) {
		return Type{}, errors.ErrRefOutOfRange
	}
	return ts.types[i], nil
}

// Len returns the number of types in the space.
func (ts *Typespace) Len() int { return len(ts.types) }

// Resolve replaces t with the type it names if t is a Ref, recursively,
// returning the first non-Ref type reached.
func (ts *Typespace) Resolve(t Type) (Type, error) {
	seen := map[uint32]bool{}
	for t.Kind == KindRef {
		if seen[t.Ref] {
			return Type{}, errors.ErrCyclicTypeRef
		}
		seen[t.Ref] = true
		var err error
		t, err = ts.Get(t.Ref)
		if err != nil {
			return Type{}, err
		}
	}
	return t, nil
}

// checkAcyclic walks the direct reference graph reachable from type index
// root, rejecting any path that returns to an ancestor. A reference edge
// exists from type i to type j whenever i's structure directly names a
// Ref(j), including through Array/Map/Product/Sum nesting: this is
// intentionally conservative (a Sum with one terminating variant and one
// recursive variant is still rejected) to keep every value in the algebra
// finite by construction.
func (ts *Typespace) checkAcyclic(root uint32) error {
	onStack := map[uint32]bool{}
	var walk func(idx uint32) error
	walk = func(idx uint32) error {
		if int(idx) >= len(ts.types) {
			return errors.ErrRefOutOfRange
		}
		if onStack[idx] {
			return errors.Wrapf(errors.ErrCyclicTypeRef, "type %d", idx)
		}
		onStack[idx] = true
		defer delete(onStack, idx)
		return walkType(ts.types[idx], walk)
	}
	return walk(root)
}

// walkType invokes visit on every Ref index directly reachable from t's
// structure.
func walkType(t Type, visit func(uint32) error) error {
	switch t.Kind {
	case KindRef:
		return visit(t.Ref)
	case KindArray:
		return walkType(*t.Elem, visit)
	case KindMap:
		if err := walkType(*t.Key, visit); err != nil {
			return err
		}
		return walkType(*t.Val, visit)
	case KindProduct:
		for _, f := range t.Fields {
			if err := walkType(f.Type, visit); err != nil {
				return err
			}
		}
	case KindSum:
		for _, v := range t.Variants {
			if err := walkType(v.Type, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// String renders t for diagnostics, resolving one level of Ref against ts
// if given (ts may be nil).
func (t Type) String() string {
	switch t.Kind {
	case KindArray:
		return fmt.Sprintf("Array(%s)", t.Elem.String())
	case KindMap:
		return fmt.Sprintf("Map(%s, %s)", t.Key.String(), t.Val.String())
	case KindProduct:
		return fmt.Sprintf("Product(%d fields)", len(t.Fields))
	case KindSum:
		return fmt.Sprintf("Sum(%d variants)", len(t.Variants))
	case KindRef:
		return fmt.Sprintf("Ref(%d)", t.Ref)
	default:
		return t.Kind.String()
	}
}
