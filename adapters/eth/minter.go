package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var mintSelector = gethcrypto.Keccak256([]byte("mint(address)"))[:4]

// Minter credits participants with freshly minted tokens by calling a mint
// contract. It reuses the custody adapter's client and signing key.
type Minter struct {
	custody  *Custody
	contract common.Address
}

// NewMinter binds the minting collaborator to the given contract address.
func NewMinter(custody *Custody, contract [20]byte) (*Minter, error) {
	if custody == nil {
		return nil, fmt.Errorf("eth: custody adapter required")
	}
	addr := common.BytesToAddress(contract[:])
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("eth: minter contract address required")
	}
	return &Minter{custody: custody, contract: addr}, nil
}

// MintFor submits a mint transaction crediting the recipient and waits for a
// successful receipt.
func (m *Minter) MintFor(recipient [20]byte) error {
	calldata := append(append([]byte(nil), mintSelector...), common.LeftPadBytes(recipient[:], 32)...)
	ctx, cancel := context.WithTimeout(context.Background(), receiptWaitTimeout)
	defer cancel()
	nonce, err := m.custody.client.PendingNonceAt(ctx, m.custody.sender)
	if err != nil {
		return fmt.Errorf("eth: fetch nonce: %w", err)
	}
	gasPrice, err := m.custody.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("eth: suggest gas price: %w", err)
	}
	tx := gethtypes.NewTransaction(nonce, m.contract, big.NewInt(0), transferGasLimit, gasPrice, calldata)
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(m.custody.chainID), m.custody.key)
	if err != nil {
		return fmt.Errorf("eth: sign mint: %w", err)
	}
	if err := m.custody.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("eth: send mint: %w", err)
	}
	return m.custody.waitMined(ctx, signed.Hash())
}
