package tradeup

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"tradeup/core/events"
	"tradeup/core/types"
)

var (
	errNilState   = errors.New("tradeup engine: state not configured")
	errNilCustody = errors.New("tradeup engine: custody provider not configured")
	errNilEscrow  = errors.New("tradeup engine: escrow identity not configured")

	// ErrChainActive rejects any redemption attempt while the chain is still
	// in progress.
	ErrChainActive = errors.New("tradeup: chain still active")
	// ErrChainClosed rejects deposits once the chain has concluded in either
	// terminal status.
	ErrChainClosed = errors.New("tradeup: chain already concluded")
	// ErrDepositRejected rejects a deposit the gate's post-check refuses.
	ErrDepositRejected = errors.New("tradeup: deposit does not advance the chain")
	// ErrNoSuchDeposit signals an out-of-range ledger index.
	ErrNoSuchDeposit = errors.New("tradeup: deposit index out of range")
	// ErrNothingToRedeem signals a failed redemption precondition: the caller
	// is not the depositor at the index, or the record is already consumed.
	ErrNothingToRedeem = errors.New("tradeup: nothing to redeem at index")
)

type engineState interface {
	DepositCount() (uint64, error)
	DepositByIndex(index uint64) (*Deposit, bool, error)
	DepositAppend(*Deposit) (uint64, error)
	DepositSetConsumed(index uint64, consumed bool) error
}

// CustodyProvider moves and reports ownership of the custodied assets. The
// engine calls Transfer only during redemption, always out of its own
// holdings.
type CustodyProvider interface {
	Transfer(class [20]byte, assetID *big.Int, from, to [20]byte) error
	OwnerOf(class [20]byte, assetID *big.Int) ([20]byte, error)
}

// Minter credits a participant with a newly minted token. It is optional and
// invoked only on successful trade-up redemption.
type Minter interface {
	MintFor(recipient [20]byte) error
}

type tradeupEvent struct {
	evt *types.Event
}

func (e tradeupEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e tradeupEvent) Event() *types.Event { return e.evt }

// Engine wires the trade-up chain business logic with the custody ledger
// state, the external custody provider and event emitters. Every public
// operation runs to completion under a single mutex, so no operation ever
// observes a partially applied effect of another.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	custody CustodyProvider
	minter  Minter
	emitter events.Emitter
	params  ChainParams
	self    [20]byte
	nowFn   func() int64
}

// NewEngine creates a trade-up engine for the supplied immutable chain
// parameters with a no-op emitter. Collaborators are configured via setters.
func NewEngine(params ChainParams) (*Engine, error) {
	sanitized, err := SanitizeParams(params)
	if err != nil {
		return nil, err
	}
	return &Engine{
		params:  sanitized,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// SetState configures the ledger state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody configures the asset custody provider.
func (e *Engine) SetCustody(custody CustodyProvider) { e.custody = custody }

// SetMinter configures the optional minting collaborator. Passing nil leaves
// minting disabled.
func (e *Engine) SetMinter(minter Minter) { e.minter = minter }

// SetEscrowAddress configures the identity under which the escrow holds
// deposited assets.
func (e *Engine) SetEscrowAddress(addr [20]byte) { e.self = addr }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Params returns a copy of the immutable chain parameters.
func (e *Engine) Params() ChainParams { return e.params.Clone() }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(tradeupEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// snapshot loads the full ledger in insertion order. Records are clones; the
// caller may not mutate stored state through them.
func (e *Engine) snapshot() ([]*Deposit, error) {
	if e.state == nil {
		return nil, errNilState
	}
	count, err := e.state.DepositCount()
	if err != nil {
		return nil, err
	}
	deposits := make([]*Deposit, 0, count)
	for i := uint64(0); i < count; i++ {
		dep, ok, err := e.state.DepositByIndex(i)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("tradeup: ledger gap at index %d", i)
		}
		deposits = append(deposits, dep)
	}
	return deposits, nil
}

// Status derives the current chain status from the ledger and the clock.
func (e *Engine) Status() (ChainStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() (ChainStatus, error) {
	deposits, err := e.snapshot()
	if err != nil {
		return ChainInactive, err
	}
	return StatusAt(e.params, deposits, e.now()), nil
}

// DepositCount reports the ledger length.
func (e *Engine) DepositCount() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, errNilState
	}
	return e.state.DepositCount()
}

// DepositAt returns the ledger record at the given index.
func (e *Engine) DepositAt(index uint64) (*Deposit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	dep, ok, err := e.state.DepositByIndex(index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSuchDeposit
	}
	return dep, nil
}

// Deposits returns the full ledger in insertion order.
func (e *Engine) Deposits() ([]*Deposit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

// acceptDeposit runs the deposit-acceptance gate and appends the record on
// success. Callers hold the engine mutex. The gate checks the status both
// immediately before and immediately after the candidate append: the
// pre-check rejects deposits once the chain has concluded, the post-check
// rejects a deposit that leaves a previously empty chain inactive unless the
// deposit itself completes the chain. On rejection the ledger is unchanged.
func (e *Engine) acceptDeposit(class [20]byte, assetID *big.Int, depositor [20]byte) (ChainStatus, uint64, error) {
	if e.state == nil {
		return ChainInactive, 0, errNilState
	}
	record, err := SanitizeDeposit(&Deposit{
		Class:      class,
		AssetID:    assetID,
		Depositor:  depositor,
		ReceivedAt: e.now(),
	})
	if err != nil {
		return ChainInactive, 0, err
	}
	deposits, err := e.snapshot()
	if err != nil {
		return ChainInactive, 0, err
	}
	now := e.now()
	pre := StatusAt(e.params, deposits, now)
	if pre != ChainInactive && pre != ChainActive {
		return pre, 0, ErrChainClosed
	}
	post := StatusAt(e.params, append(deposits, record), now)
	if post != ChainActive && post != ChainSucceeded {
		return post, 0, ErrDepositRejected
	}
	index, err := e.state.DepositAppend(record)
	if err != nil {
		return post, 0, err
	}
	e.emit(NewDepositedEvent(index, record, post))
	if post == ChainSucceeded {
		e.emit(NewCompletedEvent(index, record))
	}
	return post, index, nil
}

// RedeemAll attempts redemption at every ledger index in order on behalf of
// the caller. Indices that fail their redemption precondition are skipped
// silently; the batch never fails because of one bad index.
func (e *Engine) RedeemAll(caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	status, err := e.statusLocked()
	if err != nil {
		return err
	}
	if status == ChainActive {
		return ErrChainActive
	}
	count, err := e.state.DepositCount()
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		if err := e.redeemIndex(caller, i, status); err != nil {
			if errors.Is(err, ErrNothingToRedeem) || errors.Is(err, ErrNoSuchDeposit) {
				continue
			}
			return err
		}
	}
	return nil
}

// RedeemAt redeems the ledger record at the given index on behalf of the
// caller. It fails with ErrNothingToRedeem when the caller is not the
// depositor at the index or the record is already consumed.
func (e *Engine) RedeemAt(caller [20]byte, index uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	status, err := e.statusLocked()
	if err != nil {
		return err
	}
	if status == ChainActive {
		return ErrChainActive
	}
	return e.redeemIndex(caller, index, status)
}

// redeemIndex executes the per-entry redemption algorithm with the mutex
// held. The consumed flag is committed strictly before the custody transfer
// is issued so a nested call triggered by the transfer mechanism observes
// consumed == true and fails its precondition. Should the transfer itself
// fail, the flag is restored before the rejection surfaces; no other
// operation can observe the intermediate state.
func (e *Engine) redeemIndex(caller [20]byte, index uint64, status ChainStatus) error {
	if e.state == nil {
		return errNilState
	}
	if e.custody == nil {
		return errNilCustody
	}
	if e.self == ([20]byte{}) {
		return errNilEscrow
	}
	cur, ok, err := e.state.DepositByIndex(index)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoSuchDeposit
	}
	if cur.Depositor != caller || cur.Consumed {
		return ErrNothingToRedeem
	}
	if err := e.state.DepositSetConsumed(index, true); err != nil {
		return err
	}
	switch status {
	case ChainExpired:
		if err := e.custody.Transfer(cur.Class, cur.AssetID, e.self, cur.Depositor); err != nil {
			if restoreErr := e.state.DepositSetConsumed(index, false); restoreErr != nil {
				return fmt.Errorf("tradeup: transfer failed (%v) and consumed flag not restored: %w", err, restoreErr)
			}
			return fmt.Errorf("tradeup: refund transfer: %w", err)
		}
		e.emit(NewRedeemedEvent(index, cur, RedeemModeRefund, cur.Class, cur.AssetID))
	case ChainSucceeded:
		count, err := e.state.DepositCount()
		if err != nil {
			return err
		}
		// Wrap-around claim: index 0's predecessor is the chain's final link.
		prevIndex := index - 1
		if index == 0 {
			prevIndex = count - 1
		}
		prev, ok, err := e.state.DepositByIndex(prevIndex)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("tradeup: ledger gap at index %d", prevIndex)
		}
		if err := e.custody.Transfer(prev.Class, prev.AssetID, e.self, cur.Depositor); err != nil {
			if restoreErr := e.state.DepositSetConsumed(index, false); restoreErr != nil {
				return fmt.Errorf("tradeup: transfer failed (%v) and consumed flag not restored: %w", err, restoreErr)
			}
			return fmt.Errorf("tradeup: trade-up transfer: %w", err)
		}
		e.emit(NewRedeemedEvent(index, cur, RedeemModeTradeUp, prev.Class, prev.AssetID))
		if e.minter != nil {
			if err := e.minter.MintFor(cur.Depositor); err != nil {
				return fmt.Errorf("tradeup: mint: %w", err)
			}
			e.emit(NewMintedEvent(cur.Depositor))
		}
	default:
		// Unreachable for a well-formed ledger: redemption is gated on a
		// non-active status and an inactive chain has nothing matching the
		// precondition branches. The flag still flips exactly once and no
		// transfer is issued.
	}
	return nil
}
