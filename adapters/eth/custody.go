package eth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ownerOfSelector      = gethcrypto.Keccak256([]byte("ownerOf(uint256)"))[:4]
	transferFromSelector = gethcrypto.Keccak256([]byte("transferFrom(address,address,uint256)"))[:4]
)

const (
	transferGasLimit   = uint64(150_000)
	receiptPollEvery   = 2 * time.Second
	receiptWaitTimeout = 2 * time.Minute
)

// Client defines the subset of the Ethereum RPC used by the custody adapter.
type Client interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// Dial initialises an Ethereum RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("eth: endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// Custody implements the engine's custody provider against ERC-721 contracts:
// ownership queries via eth_call and transfers via signed transferFrom
// transactions. The asset class is the token contract address.
type Custody struct {
	client  Client
	key     *ecdsa.PrivateKey
	sender  common.Address
	chainID *big.Int
}

// NewCustody constructs a custody adapter. The key signs outgoing transfer
// transactions and must control the escrow's holdings.
func NewCustody(ctx context.Context, client Client, keyHex string) (*Custody, error) {
	if client == nil {
		return nil, fmt.Errorf("eth: client required")
	}
	key, err := gethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("eth: parse key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("eth: fetch chain id: %w", err)
	}
	return &Custody{
		client:  client,
		key:     key,
		sender:  gethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

// OwnerOf resolves the current owner of the asset through its issuing
// contract.
func (c *Custody) OwnerOf(class [20]byte, assetID *big.Int) ([20]byte, error) {
	var owner [20]byte
	if assetID == nil {
		return owner, fmt.Errorf("eth: asset id required")
	}
	contract := common.BytesToAddress(class[:])
	calldata := append(append([]byte(nil), ownerOfSelector...), common.LeftPadBytes(assetID.Bytes(), 32)...)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	raw, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: calldata}, nil)
	if err != nil {
		return owner, fmt.Errorf("eth: ownerOf call: %w", err)
	}
	if len(raw) < 32 {
		return owner, fmt.Errorf("eth: malformed ownerOf response")
	}
	copy(owner[:], raw[12:32])
	return owner, nil
}

// Transfer submits a transferFrom transaction against the asset's contract
// and waits for a successful receipt.
func (c *Custody) Transfer(class [20]byte, assetID *big.Int, from, to [20]byte) error {
	if assetID == nil {
		return fmt.Errorf("eth: asset id required")
	}
	contract := common.BytesToAddress(class[:])
	calldata := make([]byte, 0, 4+3*32)
	calldata = append(calldata, transferFromSelector...)
	calldata = append(calldata, common.LeftPadBytes(from[:], 32)...)
	calldata = append(calldata, common.LeftPadBytes(to[:], 32)...)
	calldata = append(calldata, common.LeftPadBytes(assetID.Bytes(), 32)...)

	ctx, cancel := context.WithTimeout(context.Background(), receiptWaitTimeout)
	defer cancel()
	nonce, err := c.client.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return fmt.Errorf("eth: fetch nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("eth: suggest gas price: %w", err)
	}
	tx := gethtypes.NewTransaction(nonce, contract, big.NewInt(0), transferGasLimit, gasPrice, calldata)
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return fmt.Errorf("eth: sign transfer: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("eth: send transfer: %w", err)
	}
	return c.waitMined(ctx, signed.Hash())
}

func (c *Custody) waitMined(ctx context.Context, txHash common.Hash) error {
	ticker := time.NewTicker(receiptPollEvery)
	defer ticker.Stop()
	for {
		receipt, err := c.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("eth: transfer %s reverted", txHash.Hex())
			}
			return nil
		}
		if err != nil && err != ethereum.NotFound {
			return fmt.Errorf("eth: fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("eth: transfer %s not mined: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
