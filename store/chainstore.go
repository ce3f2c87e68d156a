package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

var ErrWrongLinkage = errors.New("header does not extend the tip")

var (
	tipKey          = []byte("tip")
	headerKeyPrefix = byte('h')
)

// ChainStore is badger database of headers. Heights are consecutive from genesis 0 to tip
type ChainStore struct {
	mutex   sync.RWMutex
	db      *badger.DB
	genesis Hash
	tip     *Header
}

func headerKey(height uint64) []byte {
	ret := make([]byte, 9)
	ret[0] = headerKeyPrefix
	binary.BigEndian.PutUint64(ret[1:], height)
	return ret
}

func badgerOptions(dir string) badger.Options {
	return badger.DefaultOptions(dir).WithLogger(nil)
}

// CreateChainStore creates database in dir with the genesis header as tip
func CreateChainStore(dir string, genesis *Header) error {
	if genesis.Height != 0 {
		return fmt.Errorf("genesis header must have height 0")
	}
	db, err := badger.Open(badgerOptions(dir))
	if err != nil {
		return fmt.Errorf("can't create chain database in '%s': %w", dir, err)
	}
	err = db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(tipKey); err == nil {
			return fmt.Errorf("chain database in '%s' is not empty", dir)
		}
		if err := txn.Set(headerKey(0), genesis.Bytes()); err != nil {
			return err
		}
		return txn.Set(tipKey, headerKey(0)[1:])
	})
	if errClose := db.Close(); err == nil {
		err = errClose
	}
	return err
}

// OpenChainStore opens existing chain database
func OpenChainStore(dir string) (*ChainStore, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("chain database '%s' does not exist: %w", dir, err)
	}
	db, err := badger.Open(badgerOptions(dir))
	if err != nil {
		return nil, fmt.Errorf("can't open chain database '%s': %w", dir, err)
	}
	ret := &ChainStore{db: db}
	if err = ret.load(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("inconsistent chain database '%s': %w", dir, err)
	}
	return ret, nil
}

func (s *ChainStore) load() error {
	return s.db.View(func(txn *badger.Txn) error {
		genesis, err := getHeader(txn, 0)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		item, err := txn.Get(tipKey)
		if err != nil {
			return fmt.Errorf("tip: %w", err)
		}
		tipBin, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(tipBin) != 8 {
			return fmt.Errorf("wrong tip record")
		}
		tip, err := getHeader(txn, binary.BigEndian.Uint64(tipBin))
		if err != nil {
			return fmt.Errorf("tip header: %w", err)
		}
		s.genesis = genesis.Hash()
		s.tip = tip
		return nil
	})
}

func getHeader(txn *badger.Txn, height uint64) (*Header, error) {
	item, err := txn.Get(headerKey(height))
	if err != nil {
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return HeaderFromBytes(data)
}

func (s *ChainStore) GenesisHash() Hash {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.genesis
}

func (s *ChainStore) Tip() *Header {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return s.tip
}

func (s *ChainStore) HeaderAt(height uint64) (ret *Header, found bool) {
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ret, err = getHeader(txn, height)
		return err
	})
	return ret, err == nil
}

// HeadersFrom returns up to maxHeaders consecutive headers starting from height
func (s *ChainStore) HeadersFrom(from uint64, maxHeaders int) []*Header {
	tipHeight := s.Tip().Height
	ret := make([]*Header, 0)
	_ = s.db.View(func(txn *badger.Txn) error {
		for h := from; h <= tipHeight && len(ret) < maxHeaders; h++ {
			hdr, err := getHeader(txn, h)
			if err != nil {
				return err
			}
			ret = append(ret, hdr)
		}
		return nil
	})
	return ret
}

// Append writes headers which extend the tip one by one in one transaction.
// Headers at or below the tip are skipped if they are already in the chain
func (s *ChainStore) Append(headers ...*Header) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tip := s.tip
	appended := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, hdr := range headers {
			if hdr.Height <= tip.Height {
				existing, err := getHeader(txn, hdr.Height)
				if err != nil {
					return err
				}
				if existing.Hash() != hdr.Hash() {
					return fmt.Errorf("%w: conflicting header at height %d", ErrWrongLinkage, hdr.Height)
				}
				continue
			}
			if hdr.Height != tip.Height+1 || hdr.Parent != tip.Hash() {
				return fmt.Errorf("%w: header %s, tip %s", ErrWrongLinkage, hdr.String(), tip.String())
			}
			if err := txn.Set(headerKey(hdr.Height), hdr.Bytes()); err != nil {
				return err
			}
			tip = hdr
			appended++
		}
		if appended == 0 {
			return nil
		}
		return txn.Set(tipKey, headerKey(tip.Height)[1:])
	})
	if err != nil {
		return 0, err
	}
	s.tip = tip
	return appended, nil
}

// RunGC runs one badger value log GC cycle. Nothing to rewrite is not an error
func (s *ChainStore) RunGC() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		return nil
	}
	return err
}

func (s *ChainStore) IsClosed() bool {
	return s.db.IsClosed()
}

func (s *ChainStore) Close() error {
	return s.db.Close()
}
