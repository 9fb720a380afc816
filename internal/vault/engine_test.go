package vault_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"CoreVault/internal/asset"
	"CoreVault/internal/custody"
	"CoreVault/internal/fixedpoint"
	"CoreVault/internal/oracle"
	"CoreVault/internal/token"
	"CoreVault/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reference prices: 1 stCORE = 1.42 CORE, 1 CORE = 0.0000086 BTC.
var (
	stCOREPrice = fixedpoint.MustParse("1420000000000000000")
	corePrice   = fixedpoint.MustParse("8600000000000")
)

var (
	ownerID    = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	operatorID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	feeRecvID  = uuid.MustParse("00000000-0000-0000-0000-000000000003")
	aliceID    = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	bobID      = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000001")
)

// oneUniBTC + tenStCORE is worth exactly 1000122120000000000 wad BTC at
// the reference prices: 1 + 10*1.42*0.0000086.
var (
	oneUniBTC   = big.NewInt(100_000_000)
	tenStCORE   = fixedpoint.MustParse("10000000000000000000")
	depositMint = fixedpoint.MustParse("1000122120000000000")
)

type testVault struct {
	t         *testing.T
	oracle    *oracle.PriceOracle
	custodian *custody.Custodian
	tokens    *token.Ledger
	engine    *vault.Engine
	now       time.Time
}

func newTestVault(t *testing.T) *testVault {
	t.Helper()

	o := oracle.New(ownerID)
	if err := o.SetPrice(ownerID, asset.StCORE, stCOREPrice); err != nil {
		t.Fatalf("set stCORE price: %v", err)
	}
	if err := o.SetPrice(ownerID, asset.CORE, corePrice); err != nil {
		t.Fatalf("set CORE price: %v", err)
	}

	c := custody.New(ownerID, o)
	l := token.NewLedger(ownerID)

	tv := &testVault{
		t:         t,
		oracle:    o,
		custodian: c,
		tokens:    l,
		now:       time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	eng, err := vault.New(vault.Params{
		Owner:             ownerID,
		Operator:          operatorID,
		FeeReceiver:       feeRecvID,
		Custodian:         c,
		Tokens:            l,
		WhitelistedAssets: []asset.ID{asset.StCORE},
		Clock:             func() time.Time { return tv.now },
		Logger:            zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	tv.engine = eng
	return tv
}

func (tv *testVault) advance(d time.Duration) {
	tv.now = tv.now.Add(d)
}

func (tv *testVault) mustDeposit(user uuid.UUID, primary, secondary *big.Int) *big.Int {
	tv.t.Helper()
	minted, err := tv.engine.Deposit(user, primary, secondary, asset.StCORE)
	if err != nil {
		tv.t.Fatalf("deposit: %v", err)
	}
	return minted
}

// runEpoch drives one full lifecycle with a primary-asset yield.
func (tv *testVault) runEpoch(primaryYield *big.Int) {
	tv.t.Helper()
	tv.advance(25 * time.Hour)
	if err := tv.engine.CloseEpoch(operatorID); err != nil {
		tv.t.Fatalf("close epoch: %v", err)
	}
	if err := tv.engine.NotifyYield(operatorID, primaryYield, asset.StCORE, nil); err != nil {
		tv.t.Fatalf("notify yield: %v", err)
	}
	if err := tv.engine.DistributeEpochYield(operatorID); err != nil {
		tv.t.Fatalf("distribute yield: %v", err)
	}
	if err := tv.engine.StartNewEpoch(operatorID); err != nil {
		tv.t.Fatalf("start epoch: %v", err)
	}
}

// pegGap returns custody value minus total supply. Floor rounding means
// it is never negative; normal operation keeps it at dust levels.
func (tv *testVault) pegGap() *big.Int {
	tv.t.Helper()
	custodyValue, err := tv.custodian.TotalBTCValue()
	if err != nil {
		tv.t.Fatalf("custody value: %v", err)
	}
	return new(big.Int).Sub(custodyValue, tv.tokens.TotalSupply())
}

// maxDust bounds the value lost to flooring native-unit conversions in
// a handful of operations.
var maxDust = big.NewInt(1_000_000_000_000)

// ============================================================================
// Test: Deposit
// ============================================================================

func TestDeposit_MintsCombinedBTCValue(t *testing.T) {
	tv := newTestVault(t)

	minted := tv.mustDeposit(aliceID, oneUniBTC, tenStCORE)
	if minted.Cmp(depositMint) != 0 {
		t.Errorf("minted = %s, want %s", minted, depositMint)
	}
	if got := tv.tokens.BalanceOf(aliceID); got.Cmp(depositMint) != 0 {
		t.Errorf("balance = %s, want %s", got, depositMint)
	}
	if got := tv.tokens.TotalSupply(); got.Cmp(depositMint) != 0 {
		t.Errorf("total supply = %s, want %s", got, depositMint)
	}
	if gap := tv.pegGap(); gap.Sign() != 0 {
		t.Errorf("peg gap after deposit = %s, want 0", gap)
	}
}

func TestDeposit_RequiresBothAmounts(t *testing.T) {
	tv := newTestVault(t)

	cases := []struct {
		name               string
		primary, secondary *big.Int
	}{
		{"zero primary", big.NewInt(0), tenStCORE},
		{"zero secondary", oneUniBTC, big.NewInt(0)},
		{"nil primary", nil, tenStCORE},
		{"negative secondary", oneUniBTC, big.NewInt(-1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tv.engine.Deposit(aliceID, tc.primary, tc.secondary, asset.StCORE)
			if !errors.Is(err, vault.ErrZeroAmount) {
				t.Errorf("got %v, want ErrZeroAmount", err)
			}
		})
	}
}

func TestDeposit_AssetNotWhitelisted(t *testing.T) {
	tv := newTestVault(t)

	_, err := tv.engine.Deposit(aliceID, oneUniBTC, tenStCORE, asset.CORE)
	if !errors.Is(err, vault.ErrAssetNotWhitelisted) {
		t.Errorf("got %v, want ErrAssetNotWhitelisted", err)
	}
}

func TestDeposit_BelowMinimum(t *testing.T) {
	tv := newTestVault(t)

	// Floor at 2 BTC value; the reference deposit is worth ~1.00012.
	min := fixedpoint.MustParse("2000000000000000000")
	if err := tv.engine.SetMinimumAmounts(ownerID, min, nil); err != nil {
		t.Fatalf("set minimums: %v", err)
	}

	_, err := tv.engine.Deposit(aliceID, oneUniBTC, tenStCORE, asset.StCORE)
	if !errors.Is(err, vault.ErrBelowMinimum) {
		t.Errorf("got %v, want ErrBelowMinimum", err)
	}
}

func TestDeposit_FirstEligibleEpochIsNext(t *testing.T) {
	tv := newTestVault(t)

	tv.mustDeposit(aliceID, oneUniBTC, tenStCORE)
	info, err := tv.engine.User(aliceID)
	if err != nil {
		t.Fatalf("user info: %v", err)
	}
	if info.FirstEligibleEpoch != 2 {
		t.Errorf("first eligible epoch = %d, want 2", info.FirstEligibleEpoch)
	}

	// A second deposit must not move the eligibility boundary.
	tv.mustDeposit(aliceID, oneUniBTC, tenStCORE)
	info, _ = tv.engine.User(aliceID)
	if info.FirstEligibleEpoch != 2 {
		t.Errorf("first eligible epoch after second deposit = %d, want 2", info.FirstEligibleEpoch)
	}
}

func TestDeposit_RatioIsWeightedAverage(t *testing.T) {
	tv := newTestVault(t)

	tv.mustDeposit(aliceID, oneUniBTC, tenStCORE)
	info, _ := tv.engine.User(aliceID)
	first := new(big.Int).Set(info.RPrimary)

	if sum := new(big.Int).Add(info.RPrimary, info.RSecondary); sum.Cmp(fixedpoint.Wad) != 0 {
		t.Errorf("ratio sum = %s, want 1 wad", sum)
	}

	// A second, much more primary-heavy deposit must pull the primary
	// ratio upward.
	tv.mustDeposit(aliceID, new(big.Int).Mul(oneUniBTC, big.NewInt(10)), big.NewInt(1_000_000_000))
	info, _ = tv.engine.User(aliceID)
	if info.RPrimary.Cmp(first) <= 0 {
		t.Errorf("primary ratio did not increase: %s -> %s", first, info.RPrimary)
	}
	if sum := new(big.Int).Add(info.RPrimary, info.RSecondary); sum.Cmp(fixedpoint.Wad) != 0 {
		t.Errorf("ratio sum after second deposit = %s, want 1 wad", sum)
	}
}

// ============================================================================
// Test: Queued redemption
// ============================================================================

func TestRedeem_EscrowsAndStripsEligibleBalance(t *testing.T) {
	tv := newTestVault(t)
	minted := tv.mustDeposit(bobID, oneUniBTC, tenStCORE)

	half := new(big.Int).Quo(minted, big.NewInt(2))
	if _, err := tv.engine.Redeem(bobID, half, asset.StCORE); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	want := new(big.Int).Sub(minted, half)
	if got := tv.tokens.BalanceOf(bobID); got.Cmp(want) != 0 {
		t.Errorf("wallet balance = %s, want %s", got, want)
	}
	if got := tv.tokens.BalanceOf(tv.engine.ID()); got.Cmp(half) != 0 {
		t.Errorf("escrow balance = %s, want %s", got, half)
	}

	status, err := tv.engine.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.QueueDepth != 1 {
		t.Errorf("queue depth = %d, want 1", status.QueueDepth)
	}
	// Escrow is not burned yet, so supply is unchanged.
	if got := tv.tokens.TotalSupply(); got.Cmp(minted) != 0 {
		t.Errorf("total supply = %s, want %s", got, minted)
	}
}

func TestRedeem_InsufficientBalance(t *testing.T) {
	tv := newTestVault(t)
	minted := tv.mustDeposit(bobID, oneUniBTC, tenStCORE)

	over := new(big.Int).Add(minted, big.NewInt(1))
	if _, err := tv.engine.Redeem(bobID, over, asset.StCORE); !errors.Is(err, vault.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
}

func TestRedeem_UnknownUser(t *testing.T) {
	tv := newTestVault(t)

	if _, err := tv.engine.Redeem(aliceID, big.NewInt(1), asset.StCORE); !errors.Is(err, vault.ErrUnknownUser) {
		t.Errorf("got %v, want ErrUnknownUser", err)
	}
}

func TestRedeem_BelowMinimum(t *testing.T) {
	tv := newTestVault(t)
	tv.mustDeposit(bobID, oneUniBTC, tenStCORE)

	if err := tv.engine.SetMinimumAmounts(ownerID, nil, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("set minimums: %v", err)
	}
	if _, err := tv.engine.Redeem(bobID, big.NewInt(100), asset.StCORE); !errors.Is(err, vault.ErrBelowMinimum) {
		t.Errorf("got %v, want ErrBelowMinimum", err)
	}
}

// ============================================================================
// Test: Emergency redemption
// ============================================================================

func TestEmergencyRedeem_FeeExactness(t *testing.T) {
	tv := newTestVault(t)
	minted := tv.mustDeposit(aliceID, oneUniBTC, tenStCORE)

	preview, err := tv.engine.PreviewRedeem(aliceID, minted, asset.StCORE)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	primaryPaid, secondaryPaid, err := tv.engine.EmergencyRedeem(aliceID, minted, asset.StCORE)
	if err != nil {
		t.Fatalf("emergency redeem: %v", err)
	}

	wantPrimary := new(big.Int).Sub(preview.PrimaryOut,
		fixedpoint.ApplyBasisPoints(preview.PrimaryOut, vault.DefaultFeePoints))
	wantSecondary := new(big.Int).Sub(preview.SecondaryOut,
		fixedpoint.ApplyBasisPoints(preview.SecondaryOut, vault.DefaultFeePoints))

	if primaryPaid.Cmp(wantPrimary) != 0 {
		t.Errorf("primary paid = %s, want %s", primaryPaid, wantPrimary)
	}
	if secondaryPaid.Cmp(wantSecondary) != 0 {
		t.Errorf("secondary paid = %s, want %s", secondaryPaid, wantSecondary)
	}
	if primaryPaid.Sign() <= 0 || secondaryPaid.Sign() <= 0 {
		t.Errorf("payout legs must be positive, got %s / %s", primaryPaid, secondaryPaid)
	}

	if got := tv.tokens.BalanceOf(aliceID); got.Sign() != 0 {
		t.Errorf("wallet balance after full exit = %s, want 0", got)
	}
	if got := tv.tokens.TotalSupply(); got.Sign() != 0 {
		t.Errorf("total supply after full exit = %s, want 0", got)
	}
}

func TestEmergencyRedeem_FeeStaysInCustody(t *testing.T) {
	tv := newTestVault(t)
	minted := tv.mustDeposit(aliceID, oneUniBTC, tenStCORE)

	if _, _, err := tv.engine.EmergencyRedeem(aliceID, minted, asset.StCORE); err != nil {
		t.Fatalf("emergency redeem: %v", err)
	}

	// Supply is zero; custody still holds the fee plus flooring dust.
	gap := tv.pegGap()
	feeValue := fixedpoint.ApplyBasisPoints(minted, vault.DefaultFeePoints)
	diff := new(big.Int).Sub(gap, feeValue)
	if diff.Sign() < 0 || diff.CmpAbs(maxDust) > 0 {
		t.Errorf("custody surplus = %s, want fee %s within dust %s", gap, feeValue, maxDust)
	}

	fees := tv.engine.AccruedFees()
	if len(fees) == 0 {
		t.Fatal("no accrued fees recorded")
	}
	for id, amount := range fees {
		if amount.Sign() <= 0 {
			t.Errorf("accrued fee for %s = %s, want > 0", asset.Symbol(id), amount)
		}
	}
}

func TestCollectFees(t *testing.T) {
	tv := newTestVault(t)
	minted := tv.mustDeposit(aliceID, oneUniBTC, tenStCORE)
	if _, _, err := tv.engine.EmergencyRedeem(aliceID, minted, asset.StCORE); err != nil {
		t.Fatalf("emergency redeem: %v", err)
	}

	accrued := tv.engine.AccruedFees()
	paid, err := tv.engine.CollectFees(ownerID)
	if err != nil {
		t.Fatalf("collect fees: %v", err)
	}
	for id, want := range accrued {
		if got := paid[id]; got == nil || got.Cmp(want) != 0 {
			t.Errorf("paid %s = %v, want %s", asset.Symbol(id), got, want)
		}
	}
	if left := tv.engine.AccruedFees(); len(left) != 0 {
		t.Errorf("accrued fees after collection = %v, want empty", left)
	}

	if _, err := tv.engine.CollectFees(ownerID); !errors.Is(err, vault.ErrNoFeesToCollect) {
		t.Errorf("second collect got %v, want ErrNoFeesToCollect", err)
	}
}

func TestEmergencyRedeem_PayoutStaysWithinDeposits(t *testing.T) {
	tv := newTestVault(t)
	tv.mustDeposit(bobID, oneUniBTC, tenStCORE)
	minted := tv.mustDeposit(aliceID, oneUniBTC, tenStCORE)

	primaryPaid, secondaryPaid, err := tv.engine.EmergencyRedeem(aliceID, minted, asset.StCORE)
	if err != nil {
		t.Fatalf("emergency redeem: %v", err)
	}

	// A full exit is funded by the caller's own deposits: per leg, the
	// payout plus the retained fee never exceeds what they put in.
	fees := tv.engine.AccruedFees()
	primaryTotal := new(big.Int).Add(primaryPaid, fees[asset.UniBTC])
	if primaryTotal.Cmp(oneUniBTC) > 0 {
		t.Errorf("uniBTC payout+fee = %s exceeds deposit %s", primaryTotal, oneUniBTC)
	}
	secondaryTotal := new(big.Int).Add(secondaryPaid, fees[asset.StCORE])
	if secondaryTotal.Cmp(tenStCORE) > 0 {
		t.Errorf("stCORE payout+fee = %s exceeds deposit %s", secondaryTotal, tenStCORE)
	}

	// The other depositor's reserve share is intact and the fee remains
	// payable out of what the exit left behind.
	if got := tv.custodian.Reserve(asset.StCORE); got.Cmp(tenStCORE) < 0 {
		t.Errorf("stCORE reserve after exit = %s, want >= %s", got, tenStCORE)
	}
	if _, err := tv.engine.CollectFees(ownerID); err != nil {
		t.Fatalf("collect fees: %v", err)
	}
}

func TestCollectFees_OwnerOnly(t *testing.T) {
	tv := newTestVault(t)
	if _, err := tv.engine.CollectFees(operatorID); !errors.Is(err, vault.ErrNotOwner) {
		t.Errorf("got %v, want ErrNotOwner", err)
	}
}

// ============================================================================
// Test: Administration
// ============================================================================

func TestAdmin_OwnerGating(t *testing.T) {
	tv := newTestVault(t)

	if err := tv.engine.SetOperator(aliceID, bobID); !errors.Is(err, vault.ErrNotOwner) {
		t.Errorf("SetOperator: got %v, want ErrNotOwner", err)
	}
	if err := tv.engine.SetFeeReceiver(aliceID, bobID); !errors.Is(err, vault.ErrNotOwner) {
		t.Errorf("SetFeeReceiver: got %v, want ErrNotOwner", err)
	}
	if err := tv.engine.WhitelistAsset(aliceID, asset.StCORE, false); !errors.Is(err, vault.ErrNotOwner) {
		t.Errorf("WhitelistAsset: got %v, want ErrNotOwner", err)
	}
	if err := tv.engine.SetProtocolFeePoints(aliceID, 5000); !errors.Is(err, vault.ErrNotOwner) {
		t.Errorf("SetProtocolFeePoints: got %v, want ErrNotOwner", err)
	}
	if err := tv.engine.EmergencyWithdraw(aliceID, asset.UniBTC, big.NewInt(1), bobID); !errors.Is(err, vault.ErrNotOwner) {
		t.Errorf("EmergencyWithdraw: got %v, want ErrNotOwner", err)
	}
}

func TestAdmin_RejectsZeroIdentity(t *testing.T) {
	tv := newTestVault(t)

	if err := tv.engine.SetOperator(ownerID, uuid.Nil); !errors.Is(err, vault.ErrInvalidAddress) {
		t.Errorf("SetOperator: got %v, want ErrInvalidAddress", err)
	}
	if err := tv.engine.SetFeeReceiver(ownerID, uuid.Nil); !errors.Is(err, vault.ErrInvalidAddress) {
		t.Errorf("SetFeeReceiver: got %v, want ErrInvalidAddress", err)
	}
}

func TestAdmin_WhitelistToggle(t *testing.T) {
	tv := newTestVault(t)

	if err := tv.engine.WhitelistAsset(ownerID, asset.StCORE, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := tv.engine.Deposit(aliceID, oneUniBTC, tenStCORE, asset.StCORE); !errors.Is(err, vault.ErrAssetNotWhitelisted) {
		t.Errorf("got %v, want ErrAssetNotWhitelisted", err)
	}

	if err := tv.engine.WhitelistAsset(ownerID, asset.StCORE, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	tv.mustDeposit(aliceID, oneUniBTC, tenStCORE)
}

func TestSetMinimumAmounts_RejectedCallChangesNothing(t *testing.T) {
	tv := newTestVault(t)

	huge := fixedpoint.MustParse("1000000000000000000000000000000")
	err := tv.engine.SetMinimumAmounts(ownerID, huge, big.NewInt(-1))
	if !errors.Is(err, vault.ErrZeroAmount) {
		t.Fatalf("got %v, want ErrZeroAmount", err)
	}

	// The valid deposit floor in the same rejected call must not have
	// been applied.
	tv.mustDeposit(aliceID, oneUniBTC, tenStCORE)
}

func TestEmergencyWithdraw_DrainsReserve(t *testing.T) {
	tv := newTestVault(t)
	tv.mustDeposit(aliceID, oneUniBTC, tenStCORE)

	before := tv.custodian.Reserve(asset.UniBTC)
	if err := tv.engine.EmergencyWithdraw(ownerID, asset.UniBTC, oneUniBTC, bobID); err != nil {
		t.Fatalf("emergency withdraw: %v", err)
	}
	after := tv.custodian.Reserve(asset.UniBTC)
	if got := new(big.Int).Sub(before, after); got.Cmp(oneUniBTC) != 0 {
		t.Errorf("reserve delta = %s, want %s", got, oneUniBTC)
	}
}

// ============================================================================
// Test: Snapshot restore
// ============================================================================

func TestSnapshot_RoundTrip(t *testing.T) {
	tv := newTestVault(t)
	minted := tv.mustDeposit(aliceID, oneUniBTC, tenStCORE)
	tv.mustDeposit(bobID, oneUniBTC, tenStCORE)
	half := new(big.Int).Quo(minted, big.NewInt(2))
	if _, err := tv.engine.Redeem(bobID, half, asset.StCORE); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	state := tv.engine.ExportState()

	// Rebuild the whole stack and restore into it.
	o := oracle.New(ownerID)
	o.SetPrice(ownerID, asset.StCORE, stCOREPrice)
	o.SetPrice(ownerID, asset.CORE, corePrice)
	c := custody.New(ownerID, o)
	l := token.NewLedger(ownerID)
	restoredNow := tv.now
	eng, err := vault.New(vault.Params{
		Owner:             ownerID,
		Operator:          operatorID,
		FeeReceiver:       feeRecvID,
		Custodian:         c,
		Tokens:            l,
		WhitelistedAssets: []asset.ID{asset.StCORE},
		Clock:             func() time.Time { return restoredNow },
		Logger:            zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.RestoreState(state); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if got := l.BalanceOf(aliceID); got.Cmp(tv.tokens.BalanceOf(aliceID)) != 0 {
		t.Errorf("alice balance = %s, want %s", got, tv.tokens.BalanceOf(aliceID))
	}
	if got := l.BalanceOf(eng.ID()); got.Cmp(half) != 0 {
		t.Errorf("restored escrow = %s, want %s", got, half)
	}

	want, _ := tv.engine.Status()
	got, err := eng.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.CurrentEpoch != want.CurrentEpoch || got.QueueDepth != want.QueueDepth ||
		got.Sequence != want.Sequence ||
		got.TotalSupply.Cmp(want.TotalSupply) != 0 ||
		got.CustodyBTCValue.Cmp(want.CustodyBTCValue) != 0 {
		t.Errorf("restored status %+v, want %+v", got, want)
	}
}
