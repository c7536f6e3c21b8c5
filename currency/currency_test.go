package currency

import (
	"testing"
)

// TestStartBlockReward pins the emission at the empty chain: the genesis
// reward is 320000 whole coins.
func TestStartBlockReward(t *testing.T) {
	cur := MainNet()

	reward, emissionChange, err := cur.BlockReward(0, 0, 0, 0, false)
	if err != nil {
		t.Fatalf("BlockReward: unexpected error %v", err)
	}
	if want := uint64(320000 * COIN); reward != want {
		t.Fatalf("start reward: got %d, want %d", reward, want)
	}
	if emissionChange != reward {
		t.Fatalf("emission change %d differs from reward %d with no fee", emissionChange, reward)
	}

	if got := cur.GenesisBlock().CoinbaseTx.OutputAmount(); got != reward {
		t.Fatalf("genesis coinbase pays %d, want %d", got, reward)
	}
}

// TestBlockRewardPenalty covers the penalty regimes around the effective
// median.
func TestBlockRewardPenalty(t *testing.T) {
	cur := MainNet()
	base := cur.MoneySupply >> cur.EmissionSpeedFactor

	// At or below the effective median there is no penalty.
	reward, _, err := cur.BlockReward(0, cur.FullRewardZone, 0, 0, false)
	if err != nil {
		t.Fatalf("BlockReward at zone boundary: %v", err)
	}
	if reward != base {
		t.Fatalf("reward at zone boundary: got %d, want %d", reward, base)
	}

	// Between the median and twice the median the reward shrinks.
	penalized, _, err := cur.BlockReward(0, cur.FullRewardZone*3/2, 0, 0, false)
	if err != nil {
		t.Fatalf("BlockReward in penalty zone: %v", err)
	}
	if penalized >= base {
		t.Fatalf("penalized reward %d not below base %d", penalized, base)
	}

	// The curve gives base*(2*m*s - s^2)/m^2; at s = 1.5m that is 0.75
	// of the base.
	if want := base / 4 * 3; penalized != want {
		t.Fatalf("penalized reward: got %d, want %d", penalized, want)
	}

	// Beyond twice the median the block earns nothing at all.
	if _, _, err := cur.BlockReward(0, cur.FullRewardZone*2+1, 0, 0, false); err == nil {
		t.Fatal("oversize block must fail reward computation")
	}
}

// TestBlockRewardFeePenalty covers post-fork fee penalization.
func TestBlockRewardFeePenalty(t *testing.T) {
	cur := MainNet()
	base := cur.MoneySupply >> cur.EmissionSpeedFactor
	fee := uint64(4 * COIN)

	// Unpenalized fees pass through.
	reward, emissionChange, err := cur.BlockReward(0, 0, 0, fee, false)
	if err != nil {
		t.Fatalf("BlockReward: %v", err)
	}
	if reward != base+fee {
		t.Fatalf("reward with fee: got %d, want %d", reward, base+fee)
	}
	if emissionChange != base {
		t.Fatalf("emission change with pass-through fee: got %d, want %d", emissionChange, base)
	}

	// At s = 1.5m the penalized fee is 0.75 of the fee, and the emission
	// shrinks by the burned quarter.
	reward, emissionChange, err = cur.BlockReward(0, cur.FullRewardZone*3/2, 0, fee, true)
	if err != nil {
		t.Fatalf("BlockReward penalized: %v", err)
	}
	wantReward := base/4*3 + fee/4*3
	if reward != wantReward {
		t.Fatalf("penalized reward with fee: got %d, want %d", reward, wantReward)
	}
	wantEmission := base/4*3 - fee/4
	if emissionChange != wantEmission {
		t.Fatalf("penalized emission change: got %d, want %d", emissionChange, wantEmission)
	}
}

// TestNextDifficulty covers the retarget edges of the difficulty function.
func TestNextDifficulty(t *testing.T) {
	cur := MainNet()

	// Short histories retarget to 1.
	if got := cur.NextDifficulty(1, nil, nil); got != 1 {
		t.Fatalf("empty history: got %d, want 1", got)
	}
	if got := cur.NextDifficulty(1, []uint64{100}, []uint64{5}); got != 1 {
		t.Fatalf("single entry: got %d, want 1", got)
	}

	// Two blocks 240 seconds apart with one unit of work each hold the
	// difficulty at 1.
	got := cur.NextDifficulty(1, []uint64{0, 240}, []uint64{1, 2})
	if got != 1 {
		t.Fatalf("steady chain: got %d, want 1", got)
	}

	// Blocks found twice as fast double the difficulty.
	got = cur.NextDifficulty(1, []uint64{0, 120}, []uint64{1, 2})
	if got != 2 {
		t.Fatalf("fast chain: got %d, want 2", got)
	}

	// A zero time span is clamped to one second.
	got = cur.NextDifficulty(1, []uint64{100, 100}, []uint64{1, 2})
	if got != cur.DifficultyTarget {
		t.Fatalf("zero span: got %d, want %d", got, cur.DifficultyTarget)
	}

	// Work overflowing 64 bits during retarget returns the overflow
	// sentinel.
	got = cur.NextDifficulty(1, []uint64{0, 240}, []uint64{0, ^uint64(0)})
	if got != 0 {
		t.Fatalf("overflow: got %d, want 0", got)
	}
}

// TestIsUnlocked covers the block/time interpretation boundary of unlock
// times.
func TestIsUnlocked(t *testing.T) {
	cur := MainNet()

	// Block-interpreted unlock times.
	if cur.IsUnlocked(106, 104, 0) {
		t.Fatal("unlock 106 must be locked at index 104")
	}
	if !cur.IsUnlocked(106, 106, 0) {
		t.Fatal("unlock 106 must be unlocked at index 106")
	}

	// MaxBlockIndex-1 is still a block index; MaxBlockIndex is a
	// timestamp.
	if cur.IsUnlocked(MaxBlockIndex-1, 0, ^uint64(0)) {
		t.Fatal("unlock MaxBlockIndex-1 must be interpreted as a block index")
	}
	if !cur.IsUnlocked(MaxBlockIndex, 0, MaxBlockIndex) {
		t.Fatal("unlock MaxBlockIndex must be interpreted as a timestamp")
	}
	if cur.IsUnlocked(MaxBlockIndex*10, 0, 0) {
		t.Fatal("future timestamp unlock must be locked at time zero")
	}
}

// TestMaxBlockCumulativeSize checks the linear growth of the size limit.
func TestMaxBlockCumulativeSize(t *testing.T) {
	cur := MainNet()

	if got := cur.MaxBlockCumulativeSize(0); got != cur.MaxBlockSizeInitial {
		t.Fatalf("initial size limit: got %d, want %d", got, cur.MaxBlockSizeInitial)
	}

	year := cur.MaxBlockSizeGrowthDenominator
	if got := cur.MaxBlockCumulativeSize(year); got != cur.MaxBlockSizeInitial+cur.MaxBlockSizeGrowthNumerator {
		t.Fatalf("size limit after one year of blocks: got %d", got)
	}
}

// TestDecomposeAmount checks digit decomposition and dust routing.
func TestDecomposeAmount(t *testing.T) {
	var chunks, dust []uint64
	DecomposeAmount(1234500, 1000,
		func(chunk uint64) { chunks = append(chunks, chunk) },
		func(d uint64) { dust = append(dust, d) })

	wantChunks := []uint64{4000, 30000, 200000, 1000000}
	wantDust := []uint64{500}

	if len(chunks) != len(wantChunks) || len(dust) != len(wantDust) {
		t.Fatalf("decomposition shape: chunks %v dust %v", chunks, dust)
	}
	for i := range wantChunks {
		if chunks[i] != wantChunks[i] {
			t.Fatalf("chunks: got %v, want %v", chunks, wantChunks)
		}
	}
	if dust[0] != wantDust[0] {
		t.Fatalf("dust: got %v, want %v", dust, wantDust)
	}

	var total uint64
	for _, piece := range append(chunks, dust...) {
		total += piece
	}
	if total != 1234500 {
		t.Fatalf("decomposition loses value: %d", total)
	}
}

// TestFormatParseAmount round-trips display amounts.
func TestFormatParseAmount(t *testing.T) {
	cur := MainNet()

	if got := cur.FormatAmount(123456789); got != "1.23456789" {
		t.Fatalf("FormatAmount: got %q", got)
	}
	if got := cur.FormatAmount(5); got != "0.00000005" {
		t.Fatalf("FormatAmount small: got %q", got)
	}

	parsed, err := cur.ParseAmount("1.23456789")
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	if parsed != 123456789 {
		t.Fatalf("ParseAmount: got %d", parsed)
	}

	parsed, err = cur.ParseAmount("320000")
	if err != nil {
		t.Fatalf("ParseAmount integer: %v", err)
	}
	if parsed != 320000*COIN {
		t.Fatalf("ParseAmount integer: got %d", parsed)
	}

	if _, err := cur.ParseAmount("0.123456789"); err == nil {
		t.Fatal("over-precise amount must fail to parse")
	}
}

// TestCheckpoints covers table extension and the INDEX:HASH parser.
func TestCheckpoints(t *testing.T) {
	cur := MainNet()

	if cur.HighestCheckpointIndex() != 66000 {
		t.Fatalf("highest compiled-in checkpoint: got %d", cur.HighestCheckpointIndex())
	}

	checkpoint, err := ParseCheckpoint("70000:" +
		"990a83b3e77ba5def86311da34793e09fa3b0a2875571bd59449173fddf4e129")
	if err != nil {
		t.Fatalf("ParseCheckpoint: %v", err)
	}
	if err := cur.AddCheckpoint(checkpoint.Index, checkpoint.Hash); err != nil {
		t.Fatalf("AddCheckpoint: %v", err)
	}
	if cur.HighestCheckpointIndex() != 70000 {
		t.Fatalf("highest checkpoint after add: got %d", cur.HighestCheckpointIndex())
	}

	if _, err := ParseCheckpoint("nonsense"); err == nil {
		t.Fatal("malformed checkpoint must fail to parse")
	}

	// Conflicting re-addition of an existing index is refused.
	other, _ := ParseCheckpoint("70000:" +
		"76af92fc41eadf9c99df91efc08011d0fce6f3f55b131da2449c187f432f91f7")
	if err := cur.AddCheckpoint(other.Index, other.Hash); err == nil {
		t.Fatal("conflicting checkpoint must be rejected")
	}
}

// TestGenesisNetworksDiffer ensures the testnet nonce bump flips the genesis
// hash.
func TestGenesisNetworksDiffer(t *testing.T) {
	if MainNet().GenesisHash() == TestNet().GenesisHash() {
		t.Fatal("mainnet and testnet genesis hashes must differ")
	}
}
