package tradeup

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"tradeup/core/types"
)

const (
	EventTypeDeposited = "tradeup.deposited"
	EventTypeCompleted = "tradeup.completed"
	EventTypeRedeemed  = "tradeup.redeemed"
	EventTypeMinted    = "tradeup.minted"
)

// Redemption modes reported on tradeup.redeemed events.
const (
	RedeemModeRefund  = "refund"
	RedeemModeTradeUp = "tradeup"
)

// NewDepositedEvent returns the canonical event payload for an accepted
// deposit, including the status the chain assumed after the append.
func NewDepositedEvent(index uint64, d *Deposit, status ChainStatus) *types.Event {
	attrs := depositAttributes(index, d)
	attrs["status"] = status.String()
	return &types.Event{Type: EventTypeDeposited, Attributes: attrs}
}

// NewCompletedEvent returns the canonical event payload emitted when a deposit
// matches the final specification and concludes the chain.
func NewCompletedEvent(index uint64, winning *Deposit) *types.Event {
	return &types.Event{Type: EventTypeCompleted, Attributes: depositAttributes(index, winning)}
}

// NewRedeemedEvent returns the canonical event payload for a redeemed ledger
// entry. The asset attributes describe the transferred counter-asset, which
// differs from the entry's own asset in trade-up mode.
func NewRedeemedEvent(index uint64, d *Deposit, mode string, class [20]byte, assetID *big.Int) *types.Event {
	attrs := depositAttributes(index, d)
	attrs["mode"] = mode
	attrs["assetClass"] = hex.EncodeToString(class[:])
	if assetID != nil {
		attrs["assetId"] = assetID.String()
	}
	return &types.Event{Type: EventTypeRedeemed, Attributes: attrs}
}

// NewMintedEvent returns the canonical event payload emitted when the minting
// collaborator credits a participant.
func NewMintedEvent(recipient [20]byte) *types.Event {
	return &types.Event{Type: EventTypeMinted, Attributes: map[string]string{
		"recipient": hex.EncodeToString(recipient[:]),
	}}
}

func depositAttributes(index uint64, d *Deposit) map[string]string {
	attrs := make(map[string]string)
	attrs["index"] = strconv.FormatUint(index, 10)
	if d == nil {
		return attrs
	}
	sanitized := d.Clone()
	attrs["class"] = hex.EncodeToString(sanitized.Class[:])
	attrs["id"] = sanitized.AssetID.String()
	attrs["depositor"] = hex.EncodeToString(sanitized.Depositor[:])
	attrs["receivedAt"] = strconv.FormatInt(sanitized.ReceivedAt, 10)
	return attrs
}
