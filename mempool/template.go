package mempool

import (
	"github.com/amjuarez/bytecoin-sub001/crypto"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// BlockTemplate accumulates the transactions selected for a prospective
// block, guarding against key image collisions among them.
type BlockTemplate struct {
	descs          []*TxDesc
	totalSize      uint64
	totalFee       uint64
	spentKeyImages map[crypto.KeyImage]struct{}
}

// NewBlockTemplate returns an empty template helper.
func NewBlockTemplate() *BlockTemplate {
	return &BlockTemplate{
		spentKeyImages: make(map[crypto.KeyImage]struct{}),
	}
}

// TryAdd commits a transaction into the template unless one of its key
// images collides with an already-selected transaction.
func (t *BlockTemplate) TryAdd(desc *TxDesc) bool {
	for _, input := range desc.Tx.Inputs {
		if keyInput, ok := input.(*wire.KeyInput); ok {
			if _, spent := t.spentKeyImages[keyInput.KeyImage]; spent {
				return false
			}
		}
	}

	for _, input := range desc.Tx.Inputs {
		if keyInput, ok := input.(*wire.KeyInput); ok {
			t.spentKeyImages[keyInput.KeyImage] = struct{}{}
		}
	}
	t.descs = append(t.descs, desc)
	t.totalSize += desc.BlobSize
	t.totalFee += desc.Fee
	return true
}

// Transactions returns the selected descriptors in selection order.
func (t *BlockTemplate) Transactions() []*TxDesc {
	return t.descs
}

// TotalSize returns the cumulative blob size of the selected transactions.
func (t *BlockTemplate) TotalSize() uint64 {
	return t.totalSize
}

// TotalFee returns the cumulative fee of the selected transactions.
func (t *BlockTemplate) TotalFee() uint64 {
	return t.totalFee
}

// FillBlockTemplate walks the pool in priority order and selects the
// transactions of the next block: each candidate is re-checked against the
// current chain, skipped if it no longer fits the remaining size budget, and
// committed into the template unless it collides with an already-selected
// transaction. The result is deterministic given the pool contents and the
// chain tip.
func (p *TxPool) FillBlockTemplate(medianSize, maxCumulativeSize uint64) (*BlockTemplate, error) {
	template := NewBlockTemplate()

	if medianSize < p.cfg.Currency.FullRewardZone {
		medianSize = p.cfg.Currency.FullRewardZone
	}
	maxTotalSize := 2*medianSize - p.cfg.Currency.CoinbaseBlobReservedSize
	if maxTotalSize > maxCumulativeSize {
		maxTotalSize = maxCumulativeSize
	}

	topIndex, err := p.cfg.Chain.TopBlockIndex()
	if err != nil {
		return nil, err
	}
	topHash, err := p.cfg.Chain.TopBlockHash()
	if err != nil {
		return nil, err
	}

	for _, desc := range p.MiningDescs() {
		if template.TotalSize()+desc.BlobSize > maxTotalSize {
			continue
		}
		if !p.isTransactionReadyToGo(desc, topIndex, topHash) {
			continue
		}
		template.TryAdd(desc)
	}

	return template, nil
}

// isTransactionReadyToGo re-validates a pool transaction against the current
// chain tip; its validity may have changed since admission. Verdicts are
// memoized per tip on the descriptor.
func (p *TxPool) isTransactionReadyToGo(desc *TxDesc, topIndex uint32, topHash crypto.Hash) bool {
	if desc.lastFailedHash == topHash && desc.lastFailedIndex == topIndex {
		return false
	}

	if _, err := p.cfg.Chain.CheckTransactionInputs(desc.Tx, topIndex); err != nil {
		desc.lastFailedIndex = topIndex
		desc.lastFailedHash = topHash
		return false
	}

	desc.MaxUsedBlock = topIndex
	desc.checkFailed = false
	return true
}
