package blockchain

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/amjuarez/bytecoin-sub001/currency"
	"github.com/amjuarez/bytecoin-sub001/wire"
)

// undefinedHeight marks "no height" for upgrade bookkeeping.
const undefinedHeight = ^uint32(0)

// maxUpgradeDistanceFactor bounds how far below the chain tip the voting
// completion is searched for at startup, in upgrade windows.
const maxUpgradeDistanceFactor = 7

type versionPair struct {
	major uint8
	minor uint8
}

// UpgradeDetector tracks the active block major version as a function of
// height. A network either hard-codes the upgrade height or votes: when
// enough of the last voting-window blocks carry the target-minus-one major
// version with the vote bit set, the upgrade activates one upgrade window
// later. The chain manager drives it with BlockPushed/BlockPopped callbacks.
type UpgradeDetector struct {
	currency      *currency.Currency
	cache         *Cache
	targetVersion uint8

	votingCompleteHeight uint32

	// recentVersions mirrors the header versions of the newest blocks,
	// newest last, deep enough to tally one voting window.
	recentVersions []versionPair
}

// NewUpgradeDetector initializes the detector from the stored chain.
func NewUpgradeDetector(cur *currency.Currency, cache *Cache, targetVersion uint8) (*UpgradeDetector, error) {
	d := &UpgradeDetector{
		currency:             cur,
		cache:                cache,
		targetVersion:        targetVersion,
		votingCompleteHeight: undefinedHeight,
	}

	if cur.UpgradeHeight != currency.UndefinedUpgradeHeight {
		// A hard-coded upgrade height needs no vote bookkeeping.
		return d, nil
	}

	topIndex, err := cache.TopBlockIndex()
	if err != nil {
		return nil, err
	}

	if err := d.reloadVersions(topIndex); err != nil {
		return nil, err
	}

	if len(d.recentVersions) > 0 {
		top := d.recentVersions[len(d.recentVersions)-1]
		if top.major == d.targetVersion-1 || top.major >= d.targetVersion {
			d.votingCompleteHeight = d.findVotingCompleteHeight(topIndex)
		}
	}

	return d, nil
}

// reloadVersions refills the version window from stored raw block headers.
func (d *UpgradeDetector) reloadVersions(topIndex uint32) error {
	depth := d.windowDepth()
	first := uint32(0)
	if uint64(depth) <= uint64(topIndex) {
		first = topIndex + 1 - uint32(depth)
	}

	d.recentVersions = d.recentVersions[:0]
	for blockIndex := first; blockIndex <= topIndex; blockIndex++ {
		pair, err := d.headerVersionAt(blockIndex)
		if err != nil {
			return err
		}
		d.recentVersions = append(d.recentVersions, pair)
		if blockIndex == topIndex {
			break
		}
	}
	return nil
}

func (d *UpgradeDetector) headerVersionAt(blockIndex uint32) (versionPair, error) {
	rawBlock, err := d.cache.RawBlock(blockIndex)
	if err != nil {
		return versionPair{}, err
	}

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(rawBlock.Block)); err != nil {
		return versionPair{}, errors.WithStack(err)
	}
	return versionPair{major: header.MajorVersion, minor: header.MinorVersion}, nil
}

func (d *UpgradeDetector) windowDepth() int {
	depth := int(d.currency.UpgradeVotingWindow) +
		maxUpgradeDistanceFactor*int(d.currency.UpgradeWindow)
	return depth
}

// TargetVersion returns the version this detector upgrades to.
func (d *UpgradeDetector) TargetVersion() uint8 {
	return d.targetVersion
}

// VotingCompleteHeight returns the height voting finished at, or
// undefinedHeight.
func (d *UpgradeDetector) VotingCompleteHeight() uint32 {
	return d.votingCompleteHeight
}

// UpgradeHeight returns the last height of the old version: the hard-coded
// height if configured, the derived height once voting completes, and
// undefinedHeight otherwise.
func (d *UpgradeDetector) UpgradeHeight() uint32 {
	if d.currency.UpgradeHeight != currency.UndefinedUpgradeHeight {
		return d.currency.UpgradeHeight
	}
	if d.votingCompleteHeight == undefinedHeight {
		return undefinedHeight
	}
	return d.currency.CalculateUpgradeHeight(d.votingCompleteHeight)
}

// BlockMajorVersionForHeight returns the major version a block at the given
// height must carry.
func (d *UpgradeDetector) BlockMajorVersionForHeight(height uint32) uint8 {
	upgradeHeight := d.UpgradeHeight()
	if upgradeHeight == undefinedHeight || height <= upgradeHeight {
		return d.targetVersion - 1
	}
	return d.targetVersion
}

// BlockPushed informs the detector of a newly appended block's versions.
func (d *UpgradeDetector) BlockPushed(majorVersion, minorVersion uint8) {
	d.recentVersions = append(d.recentVersions, versionPair{major: majorVersion, minor: minorVersion})
	if len(d.recentVersions) > d.windowDepth() {
		d.recentVersions = d.recentVersions[1:]
	}

	if d.currency.UpgradeHeight != currency.UndefinedUpgradeHeight {
		return
	}
	if d.votingCompleteHeight != undefinedHeight {
		return
	}

	topIndex, err := d.cache.TopBlockIndex()
	if err != nil {
		log.Errorf("upgrade detector could not read top index: %s", err)
		return
	}
	if d.isVotingComplete(topIndex) {
		d.votingCompleteHeight = topIndex
		log.Infof("upgrade voting complete at height %d, upgrade happens after height %d",
			d.votingCompleteHeight, d.UpgradeHeight())
	}
}

// BlockPopped informs the detector that the top block was removed. A pop
// below the voting completion height cancels the pending upgrade.
func (d *UpgradeDetector) BlockPopped() {
	if len(d.recentVersions) > 0 {
		d.recentVersions = d.recentVersions[:len(d.recentVersions)-1]
	}

	if d.votingCompleteHeight == undefinedHeight {
		return
	}

	topIndex, err := d.cache.TopBlockIndex()
	if err != nil {
		log.Errorf("upgrade detector could not read top index: %s", err)
		return
	}
	if topIndex < d.votingCompleteHeight {
		log.Warnf("upgrade after height %d has been cancelled", d.UpgradeHeight())
		d.votingCompleteHeight = undefinedHeight
	}
}

// findVotingCompleteHeight scans backwards from the tip for the height the
// vote threshold was first met at, bounded by the maximum upgrade distance.
func (d *UpgradeDetector) findVotingCompleteHeight(topIndex uint32) uint32 {
	distance := uint32(maxUpgradeDistanceFactor) * d.currency.UpgradeWindow
	first := uint32(0)
	if topIndex > distance {
		first = topIndex - distance
	}

	for height := first; height <= topIndex; height++ {
		if d.isVotingComplete(height) {
			return height
		}
	}
	return undefinedHeight
}

// isVotingComplete tallies the vote bit over the voting window ending at
// height.
func (d *UpgradeDetector) isVotingComplete(height uint32) bool {
	window := d.currency.UpgradeVotingWindow
	if height+1 < window {
		return false
	}

	topIndex, err := d.cache.TopBlockIndex()
	if err != nil {
		return false
	}

	var votes uint32
	for i := height + 1 - window; i <= height; i++ {
		pair, ok := d.versionAt(i, topIndex)
		if !ok {
			return false
		}
		if pair.major == d.targetVersion-1 && pair.minor == currency.BlockMinorVersion1 {
			votes++
		}
	}

	return d.currency.UpgradeVotingThreshold*window <= 100*votes
}

// versionAt serves a height's header versions from the in-memory window,
// falling back to the stored raw header.
func (d *UpgradeDetector) versionAt(height, topIndex uint32) (versionPair, bool) {
	windowStart := topIndex + 1 - uint32(len(d.recentVersions))
	if height >= windowStart && height <= topIndex {
		return d.recentVersions[height-windowStart], true
	}

	pair, err := d.headerVersionAt(height)
	if err != nil {
		return versionPair{}, false
	}
	return pair, true
}
