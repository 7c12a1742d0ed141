// Package memadapter bridges a memstore.MemoryStore to the narrow
// model.MemoryAdapter interface the Machine drives loads and stores
// through, enforcing address-mapper bounds on every access. The
// Machine never touches the store directly, so tests can substitute a
// bare map without dragging in allocation or bank logic.
package memadapter

import (
	"github.com/tibbar/tibbar/pkg/memstore"
	"github.com/tibbar/tibbar/pkg/tibbarerr"
)

// Adapter implements model.MemoryAdapter over a memstore.MemoryStore,
// rejecting any access outside the mapped code/data banks.
type Adapter struct {
	store *memstore.MemoryStore
}

// New wraps store for use as a Machine's memory.
func New(store *memstore.MemoryStore) *Adapter {
	return &Adapter{store: store}
}

// Load reads size bytes at address, failing with OutsideMappedBanks if
// the access isn't fully contained in a mapped segment. Loads may
// target either code or data (e.g. reading a literal pool placed in
// code), so any mapped bank is acceptable.
func (a *Adapter) Load(address uint64, size uint8) (uint64, error) {
	if _, err := a.store.Mapper().RequireStoreAddr(address, uint64(size)); err != nil {
		return 0, tibbarerr.New(tibbarerr.OutsideMappedBanks, "load outside mapped banks",
			map[string]any{"addr": address, "size": size})
	}
	return a.store.ReadFromMemStore(address, size), nil
}

// Store writes size bytes of value at address, failing with
// OutsideMappedBanks if the access isn't fully contained in a mapped
// segment. A store into a code bank is allowed (the carved data arena
// lives at the high end of the last code bank when no pure data bank
// is declared); sequences are responsible for targeting allocated data
// regions rather than placed code.
func (a *Adapter) Store(address uint64, value uint64, size uint8) error {
	if _, err := a.store.Mapper().RequireStoreAddr(address, uint64(size)); err != nil {
		return tibbarerr.New(tibbarerr.OutsideMappedBanks, "store outside mapped banks",
			map[string]any{"addr": address, "size": size})
	}
	a.store.WriteToMemStore(address, value, size)
	return nil
}
