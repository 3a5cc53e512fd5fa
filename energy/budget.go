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

package energy

import (
	"math/big"

	"github.com/veltdb/velt/conf"
	velterrors "github.com/veltdb/velt/pkg/errors"
)

// Budget computes the energy a single reducer dispatch is granted for a
// caller with the given balance. A sufficient balance funds the full
// conf.Config.DefaultBudget; the granted amount never exceeds what's
// actually in the balance. A non-positive balance fails dispatch up
// front unless cfg.AllowNegativeBalanceDispatch lets it through at the
// floor cfg.MinBudget on credit, to be recovered (or driven further
// negative) when the dispatch's actual spend is withdrawn afterward.
func Budget(balance *big.Int, cfg conf.Config) (int64, error) {
	if balance.Sign() <= 0 {
		if !cfg.AllowNegativeBalanceDispatch {
			return 0, velterrors.ErrOutOfEnergy
		}
		return cfg.MinBudget, nil
	}

	def := big.NewInt(cfg.DefaultBudget)
	if balance.Cmp(def) >= 0 {
		return cfg.DefaultBudget, nil
	}
	if !balance.IsInt64() {
		return cfg.DefaultBudget, nil
	}
	granted := balance.Int64()
	if granted <= 0 {
		return 0, velterrors.ErrOutOfEnergy
	}
	return granted, nil
}
