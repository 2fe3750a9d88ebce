// Package store persists ledger accounts and the settlement scheme of each subnet in a bbolt database.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/encodeous/weft/state"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketAccounts          = []byte("accounts")
	bucketSettlementSchemes = []byte("settlement_schemes")
)

const fileName = "weft.db"

// BoltStore implements state.Store
type BoltStore struct {
	db *bolt.DB
}

// Open opens (or creates) the database inside dataPath.
func Open(dataPath string) (*BoltStore, error) {
	if err := os.MkdirAll(dataPath, 0700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dataPath, fileName), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAccounts, bucketSettlementSchemes} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (b *BoltStore) PutAccount(path state.AccountPath, limit state.LimitMode) error {
	value, err := limit.MarshalText()
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).Put([]byte(path), value)
	})
}

// Accounts returns every persisted account, ordered by path
func (b *BoltStore) Accounts() ([]state.Pair[state.AccountPath, state.LimitMode], error) {
	out := make([]state.Pair[state.AccountPath, state.LimitMode], 0)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var limit state.LimitMode
			if err := limit.UnmarshalText(v); err != nil {
				return fmt.Errorf("account %s: %w", k, err)
			}
			out = append(out, state.Pair[state.AccountPath, state.LimitMode]{V1: state.AccountPath(k), V2: limit})
			return nil
		})
	})
	return out, err
}

func (b *BoltStore) PutSettlementScheme(subnet state.SubnetId, module state.SubnetModule) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettlementSchemes).Put([]byte(subnet), []byte(module))
	})
}

// SettlementSchemes returns the module recorded for each subnet, ordered by subnet
func (b *BoltStore) SettlementSchemes() ([]state.Pair[state.SubnetId, state.SubnetModule], error) {
	out := make([]state.Pair[state.SubnetId, state.SubnetModule], 0)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettlementSchemes).ForEach(func(k, v []byte) error {
			out = append(out, state.Pair[state.SubnetId, state.SubnetModule]{V1: state.SubnetId(k), V2: state.SubnetModule(v)})
			return nil
		})
	})
	return out, err
}
