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

package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veltdb/velt/pkg/errors"
)

func TestParseSelectStar(t *testing.T) {
	q, err := Parse("SELECT * FROM widgets")
	require.NoError(t, err)
	require.Equal(t, "widgets", q.Table)
	require.Nil(t, q.Join)
	require.Empty(t, q.Where)
}

func TestParseSelectTableWildcard(t *testing.T) {
	q, err := Parse("SELECT w.* FROM widgets AS w")
	require.NoError(t, err)
	require.Equal(t, "widgets", q.Table)
	require.Equal(t, "w", q.As)
	require.Equal(t, "w", q.Project)
}

func TestParseWhereWithSenderAndLiteral(t *testing.T) {
	q, err := Parse("SELECT * FROM widgets WHERE owner = :sender AND qty > 3")
	require.NoError(t, err)
	require.Len(t, q.Where, 2)

	require.Equal(t, "owner", q.Where[0].Left.Column.Name)
	require.Equal(t, OpEQ, q.Where[0].Op)
	require.True(t, q.Where[0].Right.IsSender)

	require.Equal(t, "qty", q.Where[1].Left.Column.Name)
	require.Equal(t, OpGT, q.Where[1].Op)
	require.Equal(t, int64(3), q.Where[1].Right.Literal.Int)
}

func TestParseJoinOnEquality(t *testing.T) {
	q, err := Parse("SELECT o.* FROM orders AS o JOIN widgets AS w ON o.widget_id = w.id")
	require.NoError(t, err)
	require.Equal(t, "orders", q.Table)
	require.NotNil(t, q.Join)
	require.Equal(t, "widgets", q.Join.Table)
	require.Equal(t, "widget_id", q.Join.On.Left.Column.Name)
	require.Equal(t, "id", q.Join.On.Right.Column.Name)
}

func TestParseRejectsMultiStatement(t *testing.T) {
	_, err := Parse("SELECT * FROM widgets; SELECT * FROM orders")
	require.ErrorIs(t, err, errors.ErrQuerySyntax)
}

func TestParseRejectsNonSelect(t *testing.T) {
	_, err := Parse("DELETE FROM widgets")
	require.ErrorIs(t, err, errors.ErrQuerySyntax)
}

func TestParseRejectsUnsupportedLiteral(t *testing.T) {
	_, err := Parse("SELECT * FROM widgets WHERE created_at = NOW()")
	require.Error(t, err)
}
