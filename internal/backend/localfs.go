package backend

import (
	"context"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/DwyaneShi/priskv/pkg/protocol"
)

func init() {
	Register("localfs", func() Driver { return &localfsDriver{} })
}

// localfsDriver persists values in an embedded Badger database opened at
// the driver's address path, the standard tiering origin: slower than
// the in-process memory tier but durable across process restarts.
//
// Grounded on the teacher's examples/disk_eject/main.go, which opens
// Badger the same way (badger.DefaultOptions(path).WithLogger(nil)) and
// uses it as the eviction-callback destination for an L1 cache —
// generalized here to a proper chain tier with its own IsCacheable/Evict.
type localfsDriver struct{}

type localfsHandle struct {
	db     *badger.DB
	budget uint64
}

func (localfsDriver) Open(_ context.Context, address string) (Handle, error) {
	budget, err := parseByteBudget(address)
	if err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(basePath(address)).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &localfsHandle{db: db, budget: budget}, nil
}

func (h *localfsHandle) Close() error { return h.db.Close() }

// IsCacheable consults Badger's reported LSM + value-log size against the
// configured byte budget, per SPEC_FULL.md's component design.
func (h *localfsHandle) IsCacheable(valueLen uint64) bool {
	if h.budget == 0 {
		return true
	}
	lsm, vlog := h.db.Size()
	return uint64(lsm+vlog)+valueLen <= h.budget
}

func (h *localfsHandle) Get(_ context.Context, key string, val []byte) (uint32, protocol.Status) {
	var n int
	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(b []byte) error {
			n = copy(val, b)
			if n < len(b) {
				return errValueTooBig
			}
			return nil
		})
	})
	switch {
	case err == nil:
		return uint32(n), protocol.StatusOK
	case err == badger.ErrKeyNotFound:
		return 0, protocol.StatusNotFound
	case err == errValueTooBig:
		return uint32(n), protocol.StatusValueTooBig
	default:
		return 0, protocol.StatusError
	}
}

func (h *localfsHandle) Set(_ context.Context, key string, val []byte, timeout time.Duration) protocol.Status {
	err := h.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), val)
		if timeout > 0 {
			entry = entry.WithTTL(timeout)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return protocol.StatusError
	}
	return protocol.StatusOK
}

func (h *localfsHandle) Del(_ context.Context, key string) protocol.Status {
	err := h.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return protocol.StatusError
	}
	return protocol.StatusOK
}

func (h *localfsHandle) Test(_ context.Context, key string) protocol.Status {
	err := h.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return protocol.StatusNotFound
	}
	if err != nil {
		return protocol.StatusError
	}
	return protocol.StatusOK
}

// Evict runs Badger's value-log garbage collection, the closest this tier
// has to an explicit eviction primitive; Badger manages its own LSM
// compaction independently.
func (h *localfsHandle) Evict(_ context.Context, _ uint64) protocol.Status {
	err := h.db.RunValueLogGC(0.5)
	if err != nil && err != badger.ErrNoRewrite {
		return protocol.StatusError
	}
	return protocol.StatusOK
}

func (h *localfsHandle) Clearup() error {
	return h.db.DropAll()
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errValueTooBig = sentinelErr("backend: localfs: value too big for target buffer")
