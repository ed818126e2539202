package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"tradeup/native/tradeup"
	"tradeup/storage"
)

var depositCountKey = []byte("tradeup/deposits/count")

func depositKey(index uint64) []byte {
	key := make([]byte, 0, len("tradeup/deposits/")+8)
	key = append(key, []byte("tradeup/deposits/")...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	return append(key, buf[:]...)
}

// storedDeposit is the persisted wire form of a ledger record.
type storedDeposit struct {
	Class      string `json:"class"`
	AssetID    string `json:"assetId"`
	Depositor  string `json:"depositor"`
	Consumed   bool   `json:"consumed"`
	ReceivedAt int64  `json:"receivedAt"`
}

// Manager persists the custody ledger in a key-value database. It implements
// the engine's state interface: an append-only index sequence plus the
// consumed flag, which is the only field ever rewritten.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// DepositCount reports the ledger length. A fresh database holds zero records.
func (m *Manager) DepositCount() (uint64, error) {
	raw, err := m.db.Get(depositCountKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: malformed deposit count")
	}
	return binary.BigEndian.Uint64(raw), nil
}

// DepositByIndex loads a single ledger record. The boolean reports existence.
func (m *Manager) DepositByIndex(index uint64) (*tradeup.Deposit, bool, error) {
	raw, err := m.db.Get(depositKey(index))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	dep, err := decodeDeposit(raw)
	if err != nil {
		return nil, false, err
	}
	return dep, true, nil
}

// DepositAppend persists the record at the next index and returns that index.
// Records are sanitized on the way in; the stored instance is independent of
// the argument.
func (m *Manager) DepositAppend(d *tradeup.Deposit) (uint64, error) {
	sanitized, err := tradeup.SanitizeDeposit(d)
	if err != nil {
		return 0, err
	}
	index, err := m.DepositCount()
	if err != nil {
		return 0, err
	}
	raw, err := encodeDeposit(sanitized)
	if err != nil {
		return 0, err
	}
	if err := m.db.Put(depositKey(index), raw); err != nil {
		return 0, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index+1)
	if err := m.db.Put(depositCountKey, buf[:]); err != nil {
		return 0, err
	}
	return index, nil
}

// DepositSetConsumed rewrites the consumed flag of an existing record. All
// other fields are immutable after append.
func (m *Manager) DepositSetConsumed(index uint64, consumed bool) error {
	dep, ok, err := m.DepositByIndex(index)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("state: no deposit at index %d", index)
	}
	dep.Consumed = consumed
	raw, err := encodeDeposit(dep)
	if err != nil {
		return err
	}
	return m.db.Put(depositKey(index), raw)
}

func encodeDeposit(d *tradeup.Deposit) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("state: nil deposit")
	}
	id := "0"
	if d.AssetID != nil {
		id = d.AssetID.String()
	}
	return json.Marshal(storedDeposit{
		Class:      hex.EncodeToString(d.Class[:]),
		AssetID:    id,
		Depositor:  hex.EncodeToString(d.Depositor[:]),
		Consumed:   d.Consumed,
		ReceivedAt: d.ReceivedAt,
	})
}

func decodeDeposit(raw []byte) (*tradeup.Deposit, error) {
	var stored storedDeposit
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode deposit: %w", err)
	}
	dep := &tradeup.Deposit{Consumed: stored.Consumed, ReceivedAt: stored.ReceivedAt}
	classBytes, err := hex.DecodeString(stored.Class)
	if err != nil || len(classBytes) != len(dep.Class) {
		return nil, fmt.Errorf("state: malformed asset class")
	}
	copy(dep.Class[:], classBytes)
	depositorBytes, err := hex.DecodeString(stored.Depositor)
	if err != nil || len(depositorBytes) != len(dep.Depositor) {
		return nil, fmt.Errorf("state: malformed depositor")
	}
	copy(dep.Depositor[:], depositorBytes)
	assetID, ok := new(big.Int).SetString(stored.AssetID, 10)
	if !ok {
		return nil, fmt.Errorf("state: malformed asset id")
	}
	dep.AssetID = assetID
	return dep, nil
}
