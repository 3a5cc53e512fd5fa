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
	lru "github.com/hashicorp/golang-lru/v2"
	"lukechampine.com/blake3"

	"github.com/veltdb/velt/datastore"
)

// loadedModule pairs a compiled Instance with the Description its describe
// call produced, so a cache hit skips both wasmtime compilation and the
// guest describe round-trip.
type loadedModule struct {
	instance *Instance
	desc     *Description
}

// ModuleCache memoizes compiled modules by program hash. Republishing the
// same program bytes - the common case for a module that restarts without
// changing code - is then a cache lookup instead of a fresh wasmtime
// compilation, which dominates load latency for anything but a trivial
// guest.
type ModuleCache struct {
	cache *lru.Cache[[32]byte, loadedModule]
}

// NewModuleCache builds a cache holding up to size compiled modules.
func NewModuleCache(size int) (*ModuleCache, error) {
	c, err := lru.New[[32]byte, loadedModule](size)
	if err != nil {
		return nil, err
	}
	return &ModuleCache{cache: c}, nil
}

// LoadCached returns the cached Instance/Description for programBytes if
// present, compiling and describing it (then caching the result) on a
// miss.
func (mc *ModuleCache) LoadCached(programBytes []byte) (*Instance, *Description, error) {
	hash := blake3.Sum256(programBytes)
	if lm, ok := mc.cache.Get(hash); ok {
		return lm.instance, lm.desc, nil
	}
	instance, desc, err := Load(programBytes)
	if err != nil {
		return nil, nil, err
	}
	mc.cache.Add(hash, loadedModule{instance: instance, desc: desc})
	return instance, desc, nil
}

// PublishModule compiles and describes programBytes (through cache, if
// given), applies its schema to ds as a single atomic migration, and
// returns a Host ready to dispatch its reducers. A module that declares at
// least one scheduled table also gets the system schedule table created
// alongside its own. allowBreaking mirrors the caller's explicit
// acknowledgement of a breaking schema change; a fresh load with no prior
// catalog never trips the check.
func PublishModule(ds *datastore.Datastore, cache *ModuleCache, programBytes []byte, allowBreaking bool) (*Host, *Description, error) {
	var instance *Instance
	var desc *Description
	var err error
	if cache != nil {
		instance, desc, err = cache.LoadCached(programBytes)
	} else {
		instance, desc, err = Load(programBytes)
	}
	if err != nil {
		return nil, nil, err
	}

	_, err = ds.WriteTx(func(tx *datastore.MutTx) error {
		for _, table := range desc.Tables {
			if err := tx.CreateTable(table, allowBreaking); err != nil {
				return err
			}
		}
		if len(desc.Schedules) > 0 {
			if err := tx.CreateTable(SystemScheduleTable(), allowBreaking); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return NewHost(ds, instance, desc), desc, nil
}
