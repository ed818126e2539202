package tradeup

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"tradeup/core/events"
	"tradeup/core/types"
)

type mockState struct {
	deposits []*Deposit
}

func (m *mockState) DepositCount() (uint64, error) {
	return uint64(len(m.deposits)), nil
}

func (m *mockState) DepositByIndex(index uint64) (*Deposit, bool, error) {
	if index >= uint64(len(m.deposits)) {
		return nil, false, nil
	}
	return m.deposits[index].Clone(), true, nil
}

func (m *mockState) DepositAppend(d *Deposit) (uint64, error) {
	sanitized, err := SanitizeDeposit(d)
	if err != nil {
		return 0, err
	}
	m.deposits = append(m.deposits, sanitized)
	return uint64(len(m.deposits) - 1), nil
}

func (m *mockState) DepositSetConsumed(index uint64, consumed bool) error {
	if index >= uint64(len(m.deposits)) {
		return fmt.Errorf("no deposit at index %d", index)
	}
	m.deposits[index].Consumed = consumed
	return nil
}

type transferCall struct {
	class   [20]byte
	assetID *big.Int
	from    [20]byte
	to      [20]byte
}

type mockCustody struct {
	owners      map[string][20]byte
	transfers   []transferCall
	failNext    bool
	onTransfer  func()
	escrowOwned bool
	escrow      [20]byte
}

func ownerKey(class [20]byte, assetID *big.Int) string {
	return fmt.Sprintf("%x/%s", class, assetID.String())
}

func (m *mockCustody) OwnerOf(class [20]byte, assetID *big.Int) ([20]byte, error) {
	if m.escrowOwned {
		return m.escrow, nil
	}
	owner, ok := m.owners[ownerKey(class, assetID)]
	if !ok {
		return [20]byte{}, fmt.Errorf("unknown asset")
	}
	return owner, nil
}

func (m *mockCustody) Transfer(class [20]byte, assetID *big.Int, from, to [20]byte) error {
	if m.onTransfer != nil {
		m.onTransfer()
	}
	if m.failNext {
		m.failNext = false
		return fmt.Errorf("transfer rejected")
	}
	m.transfers = append(m.transfers, transferCall{
		class:   class,
		assetID: new(big.Int).Set(assetID),
		from:    from,
		to:      to,
	})
	return nil
}

type mockMinter struct {
	recipients [][20]byte
}

func (m *mockMinter) MintFor(recipient [20]byte) error {
	m.recipients = append(m.recipients, recipient)
	return nil
}

type captureEmitter struct {
	captured []*types.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	c.captured = append(c.captured, payload.Event())
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	classA     = newTestAddress(0xA1)
	classB     = newTestAddress(0xB2)
	escrowAddr = newTestAddress(0xEE)
	alice      = newTestAddress(0x01)
	bob        = newTestAddress(0x02)
	carol      = newTestAddress(0x03)
)

func testParams() ChainParams {
	return ChainParams{
		Start:     AssetSpec{Class: classA, ID: big.NewInt(1)},
		Final:     AssetSpec{Class: classB, ID: WildcardAssetID()},
		ExpiresAt: 100,
	}
}

type testHarness struct {
	engine  *Engine
	state   *mockState
	custody *mockCustody
	emitter *captureEmitter
	now     int64
}

func newTestHarness(t *testing.T, params ChainParams) *testHarness {
	t.Helper()
	engine, err := NewEngine(params)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	h := &testHarness{
		engine:  engine,
		state:   &mockState{},
		custody: &mockCustody{owners: make(map[string][20]byte), escrow: escrowAddr, escrowOwned: true},
		emitter: &captureEmitter{},
		now:     10,
	}
	engine.SetState(h.state)
	engine.SetCustody(h.custody)
	engine.SetEscrowAddress(escrowAddr)
	engine.SetEmitter(h.emitter)
	engine.SetNowFunc(func() int64 { return h.now })
	return h
}

func (h *testHarness) notify(t *testing.T, class [20]byte, id int64, from [20]byte) {
	t.Helper()
	if _, err := h.engine.NotifyAssetReceived(class, from, big.NewInt(id), nil); err != nil {
		t.Fatalf("NotifyAssetReceived(%x, %d): %v", class[:2], id, err)
	}
}

func (h *testHarness) mustStatus(t *testing.T, want ChainStatus) {
	t.Helper()
	got, err := h.engine.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got != want {
		t.Fatalf("status = %s, want %s", got, want)
	}
}

func TestStatusLifecycle(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.mustStatus(t, ChainInactive)

	h.notify(t, classA, 1, alice)
	h.mustStatus(t, ChainActive)

	h.notify(t, classB, 42, bob)
	h.mustStatus(t, ChainSucceeded)

	// Success is permanent: the clock running past expiry changes nothing.
	h.now = 1000
	h.mustStatus(t, ChainSucceeded)
}

func TestStatusIsPureFunctionOfLedgerAndClock(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	for i := 0; i < 5; i++ {
		h.mustStatus(t, ChainActive)
	}
	h.now = 100
	for i := 0; i < 5; i++ {
		h.mustStatus(t, ChainExpired)
	}
}

func TestGateRejectsMismatchedFirstDeposit(t *testing.T) {
	h := newTestHarness(t, testParams())
	_, err := h.engine.NotifyAssetReceived(classA, alice, big.NewInt(7), nil)
	if !errors.Is(err, ErrDepositRejected) {
		t.Fatalf("expected ErrDepositRejected, got %v", err)
	}
	count, err := h.engine.DepositCount()
	if err != nil {
		t.Fatalf("DepositCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("ledger should be unchanged on rejection, got %d records", count)
	}
}

func TestGateAcceptsMidChainDeposits(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	// Any asset accumulates once the chain started; identity is not
	// validated mid-chain.
	h.notify(t, classA, 99, bob)
	h.mustStatus(t, ChainActive)
}

func TestGateRejectsAfterSuccess(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	h.notify(t, classB, 42, bob)

	_, err := h.engine.NotifyAssetReceived(classA, carol, big.NewInt(5), nil)
	if !errors.Is(err, ErrChainClosed) {
		t.Fatalf("expected ErrChainClosed, got %v", err)
	}
}

func TestGateRejectsAfterExpiry(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	h.now = 100
	_, err := h.engine.NotifyAssetReceived(classA, bob, big.NewInt(2), nil)
	if !errors.Is(err, ErrChainClosed) {
		t.Fatalf("expected ErrChainClosed, got %v", err)
	}
}

func TestGateLastSecondWinningDeposit(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	h.now = 99
	h.notify(t, classB, 7, bob)
	h.now = 1000
	h.mustStatus(t, ChainSucceeded)
}

func TestDegenerateSingleDepositCompletesChain(t *testing.T) {
	params := ChainParams{
		Start:     AssetSpec{Class: classB, ID: big.NewInt(42)},
		Final:     AssetSpec{Class: classB, ID: big.NewInt(42)},
		ExpiresAt: 100,
	}
	h := newTestHarness(t, params)
	h.notify(t, classB, 42, alice)
	h.mustStatus(t, ChainSucceeded)
}

func TestRedeemRejectsWhileActive(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)

	if err := h.engine.RedeemAt(alice, 0); !errors.Is(err, ErrChainActive) {
		t.Fatalf("RedeemAt: expected ErrChainActive, got %v", err)
	}
	if err := h.engine.RedeemAll(alice); !errors.Is(err, ErrChainActive) {
		t.Fatalf("RedeemAll: expected ErrChainActive, got %v", err)
	}
}

func TestRedeemTradeUpCycle(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	h.now = 20
	h.notify(t, classB, 42, bob)

	// Bob at index 1 receives the asset deposited immediately before his
	// turn: Alice's (classA, 1).
	if err := h.engine.RedeemAt(bob, 1); err != nil {
		t.Fatalf("RedeemAt(bob, 1): %v", err)
	}
	// Alice at index 0 wraps around to the last index and receives the
	// winning asset (classB, 42).
	if err := h.engine.RedeemAt(alice, 0); err != nil {
		t.Fatalf("RedeemAt(alice, 0): %v", err)
	}

	if len(h.custody.transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(h.custody.transfers))
	}
	first := h.custody.transfers[0]
	if first.class != classA || first.assetID.Int64() != 1 || first.to != bob || first.from != escrowAddr {
		t.Fatalf("unexpected first transfer: %+v", first)
	}
	second := h.custody.transfers[1]
	if second.class != classB || second.assetID.Int64() != 42 || second.to != alice {
		t.Fatalf("unexpected second transfer: %+v", second)
	}
}

func TestRedeemSucceededInvokesMinter(t *testing.T) {
	h := newTestHarness(t, testParams())
	minter := &mockMinter{}
	h.engine.SetMinter(minter)
	h.notify(t, classA, 1, alice)
	h.notify(t, classB, 42, bob)

	if err := h.engine.RedeemAt(bob, 1); err != nil {
		t.Fatalf("RedeemAt: %v", err)
	}
	if len(minter.recipients) != 1 || minter.recipients[0] != bob {
		t.Fatalf("expected one mint for bob, got %v", minter.recipients)
	}
}

func TestRedeemExpiredReturnsOwnAsset(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	h.notify(t, classA, 2, bob)
	h.now = 101
	h.mustStatus(t, ChainExpired)

	if err := h.engine.RedeemAt(bob, 1); err != nil {
		t.Fatalf("RedeemAt: %v", err)
	}
	if err := h.engine.RedeemAt(alice, 0); err != nil {
		t.Fatalf("RedeemAt: %v", err)
	}
	if len(h.custody.transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(h.custody.transfers))
	}
	if got := h.custody.transfers[0]; got.class != classA || got.assetID.Int64() != 2 || got.to != bob {
		t.Fatalf("bob should receive his own deposit back, got %+v", got)
	}
	if got := h.custody.transfers[1]; got.class != classA || got.assetID.Int64() != 1 || got.to != alice {
		t.Fatalf("alice should receive her own deposit back, got %+v", got)
	}
}

func TestRedeemTwiceFails(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	h.notify(t, classB, 42, bob)

	if err := h.engine.RedeemAt(bob, 1); err != nil {
		t.Fatalf("first RedeemAt: %v", err)
	}
	if err := h.engine.RedeemAt(bob, 1); !errors.Is(err, ErrNothingToRedeem) {
		t.Fatalf("second RedeemAt: expected ErrNothingToRedeem, got %v", err)
	}
	if len(h.custody.transfers) != 1 {
		t.Fatalf("expected exactly one transfer, got %d", len(h.custody.transfers))
	}
}

func TestRedeemWrongCallerFails(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	h.notify(t, classB, 42, bob)

	if err := h.engine.RedeemAt(carol, 0); !errors.Is(err, ErrNothingToRedeem) {
		t.Fatalf("expected ErrNothingToRedeem, got %v", err)
	}
}

func TestRedeemOutOfRangeIndex(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	h.notify(t, classB, 42, bob)

	if err := h.engine.RedeemAt(alice, 5); !errors.Is(err, ErrNoSuchDeposit) {
		t.Fatalf("expected ErrNoSuchDeposit, got %v", err)
	}
}

func TestRedeemAllBatchSemantics(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	h.notify(t, classA, 2, alice)
	h.notify(t, classA, 3, bob)
	h.notify(t, classB, 42, alice)

	// Alice pre-redeems one of her indices; RedeemAll must skip it along
	// with Bob's entry and still redeem her remaining indices.
	if err := h.engine.RedeemAt(alice, 0); err != nil {
		t.Fatalf("RedeemAt: %v", err)
	}
	if err := h.engine.RedeemAll(alice); err != nil {
		t.Fatalf("RedeemAll: %v", err)
	}
	if len(h.custody.transfers) != 3 {
		t.Fatalf("expected 3 transfers for alice, got %d", len(h.custody.transfers))
	}
	if err := h.engine.RedeemAll(bob); err != nil {
		t.Fatalf("RedeemAll(bob): %v", err)
	}
	if len(h.custody.transfers) != 4 {
		t.Fatalf("expected 4 transfers total, got %d", len(h.custody.transfers))
	}
	for i, dep := range h.state.deposits {
		if !dep.Consumed {
			t.Fatalf("deposit %d should be consumed", i)
		}
	}
}

func TestConsumedFlagCommittedBeforeTransfer(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	h.notify(t, classB, 42, bob)

	observed := false
	h.custody.onTransfer = func() {
		observed = h.state.deposits[1].Consumed
	}
	if err := h.engine.RedeemAt(bob, 1); err != nil {
		t.Fatalf("RedeemAt: %v", err)
	}
	if !observed {
		t.Fatalf("consumed flag must be committed before the transfer is issued")
	}
}

func TestTransferFailureRestoresConsumedFlag(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	h.notify(t, classB, 42, bob)

	h.custody.failNext = true
	if err := h.engine.RedeemAt(bob, 1); err == nil {
		t.Fatalf("expected transfer failure to surface")
	}
	if h.state.deposits[1].Consumed {
		t.Fatalf("consumed flag should be restored after failed transfer")
	}
	if err := h.engine.RedeemAt(bob, 1); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestDepositEventsEmitted(t *testing.T) {
	h := newTestHarness(t, testParams())
	h.notify(t, classA, 1, alice)
	h.notify(t, classB, 42, bob)

	var typesSeen []string
	for _, evt := range h.emitter.captured {
		typesSeen = append(typesSeen, evt.Type)
	}
	want := []string{EventTypeDeposited, EventTypeDeposited, EventTypeCompleted}
	if len(typesSeen) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), typesSeen)
	}
	for i, wantType := range want {
		if typesSeen[i] != wantType {
			t.Fatalf("event %d = %s, want %s", i, typesSeen[i], wantType)
		}
	}
}
