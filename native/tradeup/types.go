package tradeup

import (
	"fmt"
	"math/big"
)

// ChainStatus represents the lifecycle states of a trade-up chain. The status
// is never stored; it is derived from the custody ledger and the clock on
// every query.
type ChainStatus uint8

const (
	ChainInactive ChainStatus = iota
	ChainActive
	ChainSucceeded
	ChainExpired
)

// Valid reports whether the status value is within the supported range.
func (s ChainStatus) Valid() bool {
	switch s {
	case ChainInactive, ChainActive, ChainSucceeded, ChainExpired:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase label used in events and RPC
// responses.
func (s ChainStatus) String() string {
	switch s {
	case ChainInactive:
		return "inactive"
	case ChainActive:
		return "active"
	case ChainSucceeded:
		return "succeeded"
	case ChainExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

var wildcardAssetID = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// WildcardAssetID returns the sentinel asset identifier meaning "any instance
// of the class". It is only meaningful on the final asset specification and is
// never a valid identity for a deposited record.
func WildcardAssetID() *big.Int {
	return new(big.Int).Set(wildcardAssetID)
}

// AssetSpec identifies an asset by issuing class and instance id. A spec whose
// id equals the wildcard sentinel matches every instance of the class.
type AssetSpec struct {
	Class [20]byte
	ID    *big.Int
}

// Wildcard reports whether the spec's id is the wildcard sentinel.
func (s AssetSpec) Wildcard() bool {
	return s.ID != nil && s.ID.Cmp(wildcardAssetID) == 0
}

// Matches reports whether the given concrete asset satisfies the spec. The
// class must match by identity; the id matches exactly or via the wildcard
// sentinel.
func (s AssetSpec) Matches(class [20]byte, id *big.Int) bool {
	if s.Class != class {
		return false
	}
	if s.Wildcard() {
		return true
	}
	if s.ID == nil || id == nil {
		return false
	}
	return s.ID.Cmp(id) == 0
}

// Equals reports an exact class+id match, treating the wildcard sentinel as an
// ordinary value. Used for the starting specification, which never carries a
// wildcard.
func (s AssetSpec) Equals(class [20]byte, id *big.Int) bool {
	if s.Class != class {
		return false
	}
	if s.ID == nil || id == nil {
		return false
	}
	return s.ID.Cmp(id) == 0
}

// Clone returns a deep copy of the spec.
func (s AssetSpec) Clone() AssetSpec {
	clone := s
	if s.ID != nil {
		clone.ID = new(big.Int).Set(s.ID)
	}
	return clone
}

// Deposit is a single custody ledger record. Apart from the consumed flag the
// record is immutable once appended.
type Deposit struct {
	Class      [20]byte
	AssetID    *big.Int
	Depositor  [20]byte
	Consumed   bool
	ReceivedAt int64
}

// Clone returns a deep copy of the deposit so callers can safely mutate the
// copy without affecting the stored instance.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	clone := *d
	if d.AssetID != nil {
		clone.AssetID = new(big.Int).Set(d.AssetID)
	} else {
		clone.AssetID = big.NewInt(0)
	}
	return &clone
}

// SanitizeDeposit validates the supplied record and returns a cloned instance
// with a non-nil asset id. A deposit may never carry the wildcard sentinel as
// its own identity.
func SanitizeDeposit(d *Deposit) (*Deposit, error) {
	if d == nil {
		return nil, fmt.Errorf("tradeup: nil deposit")
	}
	clone := d.Clone()
	if clone.AssetID.Sign() < 0 {
		return nil, fmt.Errorf("tradeup: asset id must be non-negative")
	}
	if clone.AssetID.Cmp(wildcardAssetID) == 0 {
		return nil, fmt.Errorf("tradeup: wildcard sentinel is not a valid asset id")
	}
	return clone, nil
}

// ChainParams holds the immutable escrow configuration fixed at construction:
// the starting asset, the final asset (id may be the wildcard sentinel) and
// the expiry timestamp in unix seconds.
type ChainParams struct {
	Start     AssetSpec
	Final     AssetSpec
	ExpiresAt int64
}

// Clone returns a deep copy of the parameters.
func (p ChainParams) Clone() ChainParams {
	return ChainParams{Start: p.Start.Clone(), Final: p.Final.Clone(), ExpiresAt: p.ExpiresAt}
}

// SanitizeParams validates the chain parameters, returning a cloned instance.
// The starting spec must name an exact asset; the final spec may use the
// wildcard sentinel.
func SanitizeParams(p ChainParams) (ChainParams, error) {
	clone := p.Clone()
	if clone.Start.ID == nil {
		return ChainParams{}, fmt.Errorf("tradeup: starting asset id required")
	}
	if clone.Start.Wildcard() {
		return ChainParams{}, fmt.Errorf("tradeup: starting asset id must be exact")
	}
	if clone.Start.ID.Sign() < 0 {
		return ChainParams{}, fmt.Errorf("tradeup: starting asset id must be non-negative")
	}
	if clone.Final.ID == nil {
		return ChainParams{}, fmt.Errorf("tradeup: final asset id required")
	}
	if clone.Final.ID.Sign() < 0 {
		return ChainParams{}, fmt.Errorf("tradeup: final asset id must be non-negative")
	}
	if clone.ExpiresAt <= 0 {
		return ChainParams{}, fmt.Errorf("tradeup: expiry timestamp required")
	}
	return clone, nil
}
