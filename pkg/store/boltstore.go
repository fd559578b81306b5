package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

// BoltStore keeps per-account key/value data and the account registry in one BoltDB file.
//
// Bucket "accounts" -> sub-bucket per provider prefix -> "indices" (JSON []int), "active" (decimal int)
// Bucket "<prefix>_account_<n>" -> key -> sealed value
type BoltStore struct {
	db     *bbolt.DB
	sealer *Sealer
}

// NoAccount is the active index reported when no account is selected.
const NoAccount = -1

const (
	registryBucket = "accounts"
	indicesKey     = "indices"
	activeKey      = "active"
)

var (
	// ErrNotFound is returned when an account key has no value.
	ErrNotFound = errors.New("key not found")
	// ErrUnknownAccount is returned when selecting an account that was never registered.
	ErrUnknownAccount = errors.New("account is not registered")
)

// AccountID names the bucket of one account slot, e.g. "Github_account_1".
func AccountID(prefix string, index int) string {
	return prefix + "_account_" + strconv.Itoa(index)
}

// NewBoltStore opens (or creates) the store at path. A nil sealer stores values in plain text.
func NewBoltStore(path string, sealer *Sealer) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(registryBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db, sealer: sealer}, nil
}

// Get returns the value stored under key for the account.
func (b *BoltStore) Get(accountID, key string) ([]byte, error) {
	var sealed []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(accountID))
		if bucket == nil {
			return ErrNotFound
		}
		val := bucket.Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		sealed = slices.Clone(val)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.sealer.Open(sealed)
}

// Set stores value under key for the account.
func (b *BoltStore) Set(accountID, key string, value []byte) error {
	sealed, err := b.sealer.Seal(value)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(accountID))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), sealed)
	})
}

// Delete removes key from the account. Missing keys are not an error.
func (b *BoltStore) Delete(accountID, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(accountID))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

// Accounts returns the registered account indices for a provider prefix in ascending order.
func (b *BoltStore) Accounts(prefix string) ([]int, error) {
	var indices []int
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		indices, err = readIndices(registry(tx, prefix))
		return err
	})
	return indices, err
}

// Active returns the selected account index, or NoAccount.
func (b *BoltStore) Active(prefix string) (int, error) {
	active := NoAccount
	err := b.db.View(func(tx *bbolt.Tx) error {
		reg := registry(tx, prefix)
		if reg == nil {
			return nil
		}
		raw := reg.Get([]byte(activeKey))
		if raw == nil {
			return nil
		}
		idx, err := strconv.Atoi(string(raw))
		if err != nil {
			return fmt.Errorf("corrupt active account %q: %w", raw, err)
		}
		indices, err := readIndices(reg)
		if err != nil {
			return err
		}
		if slices.Contains(indices, idx) {
			active = idx
		}
		return nil
	})
	return active, err
}

// SetActive selects a registered account, or clears the selection with NoAccount.
func (b *BoltStore) SetActive(prefix string, index int) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		reg, err := createRegistry(tx, prefix)
		if err != nil {
			return err
		}
		if index == NoAccount {
			return reg.Delete([]byte(activeKey))
		}
		indices, err := readIndices(reg)
		if err != nil {
			return err
		}
		if !slices.Contains(indices, index) {
			return fmt.Errorf("%w: %d", ErrUnknownAccount, index)
		}
		return reg.Put([]byte(activeKey), []byte(strconv.Itoa(index)))
	})
}

// NextIndex returns the index a new account would receive. Nothing is reserved.
func (b *BoltStore) NextIndex(prefix string) (int, error) {
	indices, err := b.Accounts(prefix)
	if err != nil {
		return 0, err
	}
	if len(indices) == 0 {
		return 1, nil
	}
	return slices.Max(indices) + 1, nil
}

// CommitAccount writes key=value into the account, registers the index and
// makes it active, all in a single transaction.
func (b *BoltStore) CommitAccount(prefix string, index int, key string, value []byte) error {
	sealed, err := b.sealer.Seal(value)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(AccountID(prefix, index)))
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(key), sealed); err != nil {
			return err
		}
		reg, err := createRegistry(tx, prefix)
		if err != nil {
			return err
		}
		indices, err := readIndices(reg)
		if err != nil {
			return err
		}
		if !slices.Contains(indices, index) {
			indices = append(indices, index)
			slices.Sort(indices)
			if err := writeIndices(reg, indices); err != nil {
				return err
			}
		}
		return reg.Put([]byte(activeKey), []byte(strconv.Itoa(index)))
	})
}

// RemoveAccount deletes every key of the account and unregisters it.
// If it was active, no account is active afterwards.
func (b *BoltStore) RemoveAccount(prefix string, index int) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(AccountID(prefix, index)))
		if err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		reg := registry(tx, prefix)
		if reg == nil {
			return nil
		}
		indices, err := readIndices(reg)
		if err != nil {
			return err
		}
		indices = slices.DeleteFunc(indices, func(i int) bool { return i == index })
		if err := writeIndices(reg, indices); err != nil {
			return err
		}
		if string(reg.Get([]byte(activeKey))) == strconv.Itoa(index) {
			return reg.Delete([]byte(activeKey))
		}
		return nil
	})
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

func registry(tx *bbolt.Tx, prefix string) *bbolt.Bucket {
	root := tx.Bucket([]byte(registryBucket))
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(prefix))
}

func createRegistry(tx *bbolt.Tx, prefix string) (*bbolt.Bucket, error) {
	root, err := tx.CreateBucketIfNotExists([]byte(registryBucket))
	if err != nil {
		return nil, err
	}
	return root.CreateBucketIfNotExists([]byte(prefix))
}

func readIndices(reg *bbolt.Bucket) ([]int, error) {
	if reg == nil {
		return nil, nil
	}
	raw := reg.Get([]byte(indicesKey))
	if raw == nil {
		return nil, nil
	}
	var indices []int
	if err := json.Unmarshal(raw, &indices); err != nil {
		return nil, fmt.Errorf("corrupt account registry: %w", err)
	}
	return indices, nil
}

func writeIndices(reg *bbolt.Bucket, indices []int) error {
	if indices == nil {
		indices = []int{}
	}
	val, err := json.Marshal(indices)
	if err != nil {
		return err
	}
	return reg.Put([]byte(indicesKey), val)
}
