package tradeup

import (
	"errors"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrAuxiliaryData rejects any deposit notification carrying non-empty
	// auxiliary data, regardless of ledger or status state.
	ErrAuxiliaryData = errors.New("tradeup: auxiliary data not supported")
	// ErrUntrustedCaller rejects notifications from identities that are not
	// custody providers.
	ErrUntrustedCaller = errors.New("tradeup: caller is not a custody provider")
	// ErrAssetNotHeld rejects notifications for assets the escrow cannot
	// verify it holds.
	ErrAssetNotHeld = errors.New("tradeup: escrow does not hold the asset")
)

// Capability and acknowledgement identifiers, derived as the first four bytes
// of the keccak256 hash of the canonical signature.
var (
	// AckAssetReceived is the acknowledgement returned to a custody provider
	// so the inbound transfer is not rejected as an unsupported receiver. It
	// doubles as the receiver capability identifier.
	AckAssetReceived = selector("onAssetReceived(address,address,uint256,bytes)")
	// CapCapabilityQuery identifies the capability-query surface itself.
	CapCapabilityQuery = selector("supportsCapability(bytes4)")
)

func selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], ethcrypto.Keccak256([]byte(signature))[:4])
	return sel
}

// SupportsCapability reports whether the escrow implements the identified
// capability. Custody providers use it to pre-check receiver compatibility
// before transferring.
func (e *Engine) SupportsCapability(id [4]byte) bool {
	return id == AckAssetReceived || id == CapCapabilityQuery
}

// NotifyAssetReceived is the inbound entry point invoked by a custody provider
// after it has moved an asset into the escrow's custody. The caller identity
// is the asset's issuing class: ownership is resolved through the provider
// keyed by that class, so an end-user identity posing as a provider fails the
// ownership verification. Auxiliary data must be empty. On acceptance the
// deposit gate runs and the record is appended; the returned acknowledgement
// tells the provider the transfer landed on a supported receiver.
func (e *Engine) NotifyAssetReceived(caller [20]byte, from [20]byte, assetID *big.Int, data []byte) ([4]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(data) != 0 {
		return [4]byte{}, ErrAuxiliaryData
	}
	if e.custody == nil {
		return [4]byte{}, errNilCustody
	}
	if e.self == ([20]byte{}) {
		return [4]byte{}, errNilEscrow
	}
	if caller == ([20]byte{}) || caller == from {
		return [4]byte{}, ErrUntrustedCaller
	}
	owner, err := e.custody.OwnerOf(caller, assetID)
	if err != nil {
		return [4]byte{}, ErrAssetNotHeld
	}
	if owner != e.self {
		return [4]byte{}, ErrAssetNotHeld
	}
	if _, _, err := e.acceptDeposit(caller, assetID, from); err != nil {
		return [4]byte{}, err
	}
	return AckAssetReceived, nil
}
