// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"math/bits"
	"sort"
	"time"

	"github.com/amjuarez/bytecoin-sub001/blockchain"
	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/currency"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// ChainBackend is the view of the blockchain the pool validates against.
type ChainBackend interface {
	// CheckTransactionInputs verifies a transaction's inputs against the
	// chain state up to the given block index and returns the highest
	// main-chain index the transaction references.
	CheckTransactionInputs(tx *wire.MsgTx, uptoBlockIndex uint32) (uint32, error)

	// TopBlockIndex returns the index of the chain tip.
	TopBlockIndex() (uint32, error)

	// TopBlockHash returns the hash of the chain tip.
	TopBlockHash() (crypto.Hash, error)
}

// Config holds the configuration of a transaction pool.
type Config struct {
	Currency *currency.Currency
	Chain    ChainBackend
	Clock    blockchain.Clock
}

// TxDesc is a descriptor of a pool transaction along with the metadata the
// pool tracks for it.
type TxDesc struct {
	// Tx is the transaction itself.
	Tx *wire.MsgTx

	// Hash is the transaction's identifier.
	Hash crypto.Hash

	// BlobSize is the size of the serialized transaction in bytes.
	BlobSize uint64

	// Fee is inputs minus outputs.
	Fee uint64

	// KeptByBlock is set for transactions re-admitted during a
	// reorganization; they bypass the fee floor and survive a failed
	// chain check.
	KeptByBlock bool

	// ReceiveTime is when the pool first saw the transaction.
	ReceiveTime time.Time

	// MaxUsedBlock is the highest main-chain index the transaction's
	// rings referenced when it last validated successfully.
	MaxUsedBlock uint32

	// lastFailedIndex remembers the chain tip the transaction last
	// failed to validate against, to skip rechecking a dead tip.
	lastFailedIndex uint32
	lastFailedHash  crypto.Hash

	// checkFailed is set when the transaction could not be verified at
	// admission (only possible for kept-by-block transactions).
	checkFailed bool
}

// TxPool holds unconfirmed, mutually consistent transactions ordered by fee
// density for block template assembly.
//
// TxPool methods are not safe for concurrent use; the core facade serializes
// access.
type TxPool struct {
	cfg Config

	// pool is the primary index, by hash.
	pool map[crypto.Hash]*TxDesc

	// ordered is the secondary index, sorted by priority: higher fee per
	// byte first, ties broken by smaller size, then by older receive
	// time. Both indexes are always mutated together.
	ordered []*TxDesc

	// spentKeyImages records the key images referenced by pool
	// transactions. Kept-by-block transactions may share a key image,
	// hence the set of hashes per image.
	spentKeyImages map[crypto.KeyImage]map[crypto.Hash]struct{}

	lastUpdated time.Time
}

// New returns a new transaction pool.
func New(cfg Config) *TxPool {
	return &TxPool{
		cfg:            cfg,
		pool:           make(map[crypto.Hash]*TxDesc),
		spentKeyImages: make(map[crypto.KeyImage]map[crypto.Hash]struct{}),
	}
}

// HaveTransaction returns whether the pool holds the given transaction.
func (p *TxPool) HaveTransaction(txHash crypto.Hash) bool {
	_, ok := p.pool[txHash]
	return ok
}

// Count returns the number of transactions in the pool.
func (p *TxPool) Count() int {
	return len(p.pool)
}

// LastUpdated returns the last time a transaction was added to or removed
// from the pool.
func (p *TxPool) LastUpdated() time.Time {
	return p.lastUpdated
}

// AddTransaction admits a transaction into the pool.
func (p *TxPool) AddTransaction(tx *wire.MsgTx, keptByBlock bool) error {
	txHash := tx.TxHash()

	if p.HaveTransaction(txHash) {
		return txRuleError(RejectDuplicate, "transaction already in pool")
	}

	if err := blockchain.CheckTransactionSanity(tx); err != nil {
		return err
	}
	if tx.IsCoinbase() {
		return txRuleError(RejectInvalid, "coinbase may not enter the pool")
	}

	blobSize := uint64(tx.SerializeSize())
	if blobSize > currency.MaxTxSize {
		return txRuleError(RejectInvalid, "transaction exceeds the maximum size")
	}

	fee := tx.Fee()

	if !keptByBlock && fee < p.cfg.Currency.MinimumFee {
		return txRuleError(RejectInsufficientFee, "transaction fee is below the minimum")
	}

	// Screen against the pool's own spent set; re-admitted block
	// transactions are exempt since their double spends resolve when one
	// chain wins.
	if !keptByBlock && p.haveSpentInputs(tx) {
		return txRuleError(RejectDoubleSpend, "transaction spends a key image already in the pool")
	}

	desc := &TxDesc{
		Tx:          tx,
		Hash:        txHash,
		BlobSize:    blobSize,
		Fee:         fee,
		KeptByBlock: keptByBlock,
		ReceiveTime: p.cfg.Clock.Now(),
	}

	topIndex, err := p.cfg.Chain.TopBlockIndex()
	if err != nil {
		return err
	}
	maxUsedBlock, err := p.cfg.Chain.CheckTransactionInputs(tx, topIndex)
	if err != nil {
		if !keptByBlock {
			return err
		}
		// A kept-by-block transaction may reference outputs of a chain
		// that is not currently the main one; admit it and let the
		// template fill recheck.
		desc.checkFailed = true
		log.Debugf("admitting unverifiable kept-by-block transaction %s: %s", txHash, err)
	} else {
		desc.MaxUsedBlock = maxUsedBlock
	}

	p.insertDesc(desc)
	log.Debugf("accepted transaction %s (pool size %d)", txHash, len(p.pool))
	return nil
}

// TakeTransaction removes the transaction with the given hash from the pool
// and returns it. It implements the chain manager's TxSource contract.
func (p *TxPool) TakeTransaction(txHash crypto.Hash) (*wire.MsgTx, bool) {
	desc, ok := p.pool[txHash]
	if !ok {
		return nil, false
	}
	p.removeDesc(desc)
	return desc.Tx, true
}

// ReturnTransaction re-admits a transaction displaced by a reorganization.
// Failures are logged, not fatal: a displaced transaction that no longer
// validates is simply dropped.
func (p *TxPool) ReturnTransaction(tx *wire.MsgTx) {
	if err := p.AddTransaction(tx, true); err != nil {
		log.Debugf("displaced transaction %s not re-admitted: %s", tx.TxHash(), err)
	}
}

// RemoveTransaction drops the transaction with the given hash, if held.
func (p *TxPool) RemoveTransaction(txHash crypto.Hash) {
	if desc, ok := p.pool[txHash]; ok {
		p.removeDesc(desc)
	}
}

// RemoveExpiredTransactions drops transactions older than their lifetime:
// one limit for normal transactions, a larger one for kept-by-block ones.
// It returns the hashes removed.
func (p *TxPool) RemoveExpiredTransactions() []crypto.Hash {
	now := p.cfg.Clock.Now()

	var removed []crypto.Hash
	for _, desc := range append([]*TxDesc(nil), p.ordered...) {
		age := uint64(now.Sub(desc.ReceiveTime) / time.Second)
		lifetime := p.cfg.Currency.MempoolTxLiveTime
		if desc.KeptByBlock {
			lifetime = p.cfg.Currency.MempoolTxFromAltBlockLiveTime
		}
		if age > lifetime {
			log.Debugf("removing expired transaction %s (age %d seconds)", desc.Hash, age)
			p.removeDesc(desc)
			removed = append(removed, desc.Hash)
		}
	}
	return removed
}

// GetDifference splits the pool against a set of known hashes: transactions
// the caller has not seen yet, and known hashes no longer in the pool.
func (p *TxPool) GetDifference(knownHashes []crypto.Hash) (newDescs []*TxDesc, removed []crypto.Hash) {
	known := make(map[crypto.Hash]struct{}, len(knownHashes))
	for _, hash := range knownHashes {
		known[hash] = struct{}{}
	}

	for _, desc := range p.ordered {
		if _, ok := known[desc.Hash]; !ok {
			newDescs = append(newDescs, desc)
		}
	}
	for _, hash := range knownHashes {
		if !p.HaveTransaction(hash) {
			removed = append(removed, hash)
		}
	}
	return newDescs, removed
}

// TransactionHashes returns the hashes of all pool transactions in priority
// order.
func (p *TxPool) TransactionHashes() []crypto.Hash {
	hashes := make([]crypto.Hash, len(p.ordered))
	for i, desc := range p.ordered {
		hashes[i] = desc.Hash
	}
	return hashes
}

// MiningDescs returns descriptors of all pool transactions in priority
// order.
func (p *TxPool) MiningDescs() []*TxDesc {
	return append([]*TxDesc(nil), p.ordered...)
}

// insertDesc adds a descriptor to both indexes and the spent set.
func (p *TxPool) insertDesc(desc *TxDesc) {
	p.pool[desc.Hash] = desc

	position := sort.Search(len(p.ordered), func(i int) bool {
		return lessPriority(p.ordered[i], desc)
	})
	p.ordered = append(p.ordered, nil)
	copy(p.ordered[position+1:], p.ordered[position:])
	p.ordered[position] = desc

	for _, input := range desc.Tx.Inputs {
		if keyInput, ok := input.(*wire.KeyInput); ok {
			hashes := p.spentKeyImages[keyInput.KeyImage]
			if hashes == nil {
				hashes = make(map[crypto.Hash]struct{})
				p.spentKeyImages[keyInput.KeyImage] = hashes
			}
			hashes[desc.Hash] = struct{}{}
		}
	}

	p.lastUpdated = p.cfg.Clock.Now()
}

// removeDesc removes a descriptor from both indexes and the spent set.
func (p *TxPool) removeDesc(desc *TxDesc) {
	delete(p.pool, desc.Hash)

	for i, candidate := range p.ordered {
		if candidate == desc {
			p.ordered = append(p.ordered[:i], p.ordered[i+1:]...)
			break
		}
	}

	for _, input := range desc.Tx.Inputs {
		if keyInput, ok := input.(*wire.KeyInput); ok {
			if hashes := p.spentKeyImages[keyInput.KeyImage]; hashes != nil {
				delete(hashes, desc.Hash)
				if len(hashes) == 0 {
					delete(p.spentKeyImages, keyInput.KeyImage)
				}
			}
		}
	}

	p.lastUpdated = p.cfg.Clock.Now()
}

// haveSpentInputs returns whether any of the transaction's key images is
// already referenced by a pool transaction.
func (p *TxPool) haveSpentInputs(tx *wire.MsgTx) bool {
	for _, input := range tx.Inputs {
		if keyInput, ok := input.(*wire.KeyInput); ok {
			if len(p.spentKeyImages[keyInput.KeyImage]) > 0 {
				return true
			}
		}
	}
	return false
}

// lessPriority reports whether a sorts after b, i.e. b has strictly higher
// priority. Priority compares fee density by cross multiplication in 128
// bits, preferring more profitable, then smaller, then older transactions.
func lessPriority(a, b *TxDesc) bool {
	aHi, aLo := bits.Mul64(a.Fee, b.BlobSize)
	bHi, bLo := bits.Mul64(b.Fee, a.BlobSize)

	switch {
	case aHi != bHi:
		return aHi < bHi
	case aLo != bLo:
		return aLo < bLo
	case a.BlobSize != b.BlobSize:
		return a.BlobSize > b.BlobSize
	}
	return a.ReceiveTime.After(b.ReceiveTime)
}
