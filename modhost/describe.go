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

package modhost

import (
	"encoding/json"

	"github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/rowstore"
	"github.com/veltdb/velt/sats"
)

// The module description crosses the host/guest boundary once, at load
// time, as JSON rather than BSATN: like the datastore's schema catalog,
// it's metadata about the module, not row data subject to the canonical
// encoding law, and describing the closed sats.Type algebra generically
// in BSATN would mean re-deriving BSATN's own type-of-types - a problem
// the real wire format sidesteps by only ever encoding concrete values
// of a type both sides already agree on.

type jsonType struct {
	Kind     string      `json:"kind"`
	Elem     *jsonType   `json:"elem,omitempty"`
	Key      *jsonType   `json:"key,omitempty"`
	Val      *jsonType   `json:"val,omitempty"`
	Fields   []jsonField `json:"fields,omitempty"`
	Variants []jsonVariant `json:"variants,omitempty"`
	Ref      uint32      `json:"ref,omitempty"`
}

type jsonField struct {
	Name string   `json:"name"`
	Type jsonType `json:"type"`
}

type jsonVariant struct {
	Name string   `json:"name"`
	Type jsonType `json:"type"`
}

type jsonColumn struct {
	Name    string   `json:"name"`
	Type    jsonType `json:"type"`
	AutoInc bool     `json:"auto_inc"`
}

type jsonIndex struct {
	Name    string `json:"name"`
	Columns []int  `json:"columns"`
	Unique  bool   `json:"unique"`
}

type jsonTable struct {
	Name       string       `json:"name"`
	Columns    []jsonColumn `json:"columns"`
	Indexes    []jsonIndex  `json:"indexes"`
	PrimaryKey string       `json:"primary_key"`
}

type jsonReducer struct {
	Name    string   `json:"name"`
	ArgType jsonType `json:"arg_type"`
	Kind    string   `json:"kind"`
}

type jsonSchedule struct {
	Table    string `json:"table"`
	Reducer  string `json:"reducer"`
	AtColumn string `json:"at_column"`
}

type jsonDescription struct {
	Typespace []jsonType     `json:"typespace"`
	Tables    []jsonTable    `json:"tables"`
	Reducers  []jsonReducer  `json:"reducers"`
	Schedules []jsonSchedule `json:"schedules"`
}

func toSatsType(j jsonType) sats.Type {
	switch j.Kind {
	case "bool":
		return sats.Bool()
	case "i8":
		return sats.I8()
	case "u8":
		return sats.U8()
	case "i16":
		return sats.I16()
	case "u16":
		return sats.U16()
	case "i32":
		return sats.I32()
	case "u32":
		return sats.U32()
	case "i64":
		return sats.I64()
	case "u64":
		return sats.U64()
	case "i128":
		return sats.I128()
	case "u128":
		return sats.U128()
	case "f32":
		return sats.F32()
	case "f64":
		return sats.F64()
	case "string":
		return sats.StringT()
	case "array":
		return sats.ArrayOf(toSatsType(*j.Elem))
	case "map":
		return sats.MapOf(toSatsType(*j.Key), toSatsType(*j.Val))
	case "product":
		fields := make([]sats.Field, len(j.Fields))
		for i, f := range j.Fields {
			fields[i] = sats.Field{Name: f.Name, Type: toSatsType(f.Type)}
		}
		return sats.ProductOf(fields...)
	case "sum":
		variants := make([]sats.Variant, len(j.Variants))
		for i, v := range j.Variants {
			variants[i] = sats.Variant{Name: v.Name, Type: toSatsType(v.Type)}
		}
		return sats.SumOf(variants...)
	case "ref":
		return sats.RefTo(j.Ref)
	default:
		return sats.ProductOf()
	}
}

// decodeDescription parses a module's raw JSON description buffer into a
// Description, building the module's own Typespace and resolving every
// table/reducer type against it.
func decodeDescription(raw []byte) (*Description, error) {
	var jd jsonDescription
	if err := json.Unmarshal(raw, &jd); err != nil {
		return nil, errors.Wrap(err, "unmarshal module description")
	}

	types := make([]sats.Type, len(jd.Typespace))
	for i, jt := range jd.Typespace {
		types[i] = toSatsType(jt)
	}
	ts, err := sats.NewTypespace(types)
	if err != nil {
		return nil, errors.Wrap(err, "build module typespace")
	}

	tables := make([]rowstore.TableSchema, len(jd.Tables))
	for i, jt := range jd.Tables {
		cols := make([]rowstore.ColumnSchema, len(jt.Columns))
		for ci, jc := range jt.Columns {
			cols[ci] = rowstore.ColumnSchema{Name: jc.Name, Type: toSatsType(jc.Type), AutoInc: jc.AutoInc}
		}
		idxs := make([]rowstore.IndexSchema, len(jt.Indexes))
		for ii, ji := range jt.Indexes {
			idxs[ii] = rowstore.IndexSchema{Name: ji.Name, Columns: ji.Columns, Unique: ji.Unique}
		}
		tables[i] = rowstore.TableSchema{Name: jt.Name, Columns: cols, Indexes: idxs, PrimaryKey: jt.PrimaryKey}
	}

	reducers := make([]ReducerDesc, len(jd.Reducers))
	for i, jr := range jd.Reducers {
		reducers[i] = ReducerDesc{Name: jr.Name, ArgType: toSatsType(jr.ArgType), Kind: ReducerKind(jr.Kind)}
	}

	schedules := make([]ScheduleDesc, len(jd.Schedules))
	for i, js := range jd.Schedules {
		schedules[i] = ScheduleDesc{Table: js.Table, Reducer: js.Reducer, AtColumn: js.AtColumn}
	}

	return &Description{Tables: tables, Reducers: reducers, Schedules: schedules, Typespace: ts}, nil
}
