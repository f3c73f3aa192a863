package settlement

import (
	"CoverLedger/internal/ledger"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/state"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UpdateFailure records one isolated failure during SettleEpoch.
type UpdateFailure struct {
	Kind  string `json:"kind"`
	Key   string `json:"key"`
	Error string `json:"error"`
}

// EpochReport summarises one SettleEpoch run.
type EpochReport struct {
	Epoch           int64 `json:"epoch"`
	SnapshotCreated bool  `json:"snapshot_created"`

	// Set only when this run created the epoch's snapshot.
	Snapshot *EpochExposureSnapshot `json:"snapshot,omitempty"`

	Bonuses  []*BonusResult         `json:"bonuses"`
	Premiums []*PremiumDistribution `json:"premiums"`
	Buyers   []*BuyerUpdateResult   `json:"buyers"`
	Sellers  []*SellerUpdateResult  `json:"sellers"`
	Failures []UpdateFailure        `json:"failures,omitempty"`

	PremiumCharged       int64 `json:"premium_charged"`
	PremiumHeld          int64 `json:"premium_held"`
	PremiumReleased      int64 `json:"premium_released"`
	SellerDistributed    int64 `json:"seller_distributed"`
	GuarantorDistributed int64 `json:"guarantor_distributed"`
	SellerSettled        int64 `json:"seller_settled"`
	BonusAccrued         int64 `json:"bonus_accrued"`
	BonusShortfall       int64 `json:"bonus_shortfall"`
	Lapses               int   `json:"lapses"`
}

func (r *EpochReport) fail(kind, key string, err error) {
	r.Failures = append(r.Failures, UpdateFailure{Kind: kind, Key: key, Error: err.Error()})
}

// EpochCoordinator holds every settlement component and drives them in the
// per-epoch order: snapshot, bonuses, premium pools, buyers, sellers.
type EpochCoordinator struct {
	book    *ledger.Book
	assets  Assets
	catalog *state.AssetCatalog
	oracle  *state.RateOracle
	index   *state.CategoryIndex
	epochs  *EpochState

	buyers    *BuyerLedger
	sellers   *SellerLedger
	guarantor *GuarantorLedger
	bonus     *BonusDistributor

	logger zerolog.Logger
}

func NewEpochCoordinator(book *ledger.Book, assets Assets, clock state.EpochClock, logger zerolog.Logger) *EpochCoordinator {
	catalog := state.NewAssetCatalog()
	index := state.NewCategoryIndex()
	epochs := NewEpochState(clock)

	return &EpochCoordinator{
		book:      book,
		assets:    assets,
		catalog:   catalog,
		oracle:    state.NewRateOracle(),
		index:     index,
		epochs:    epochs,
		buyers:    NewBuyerLedger(book, assets, catalog, index, epochs),
		sellers:   NewSellerLedger(book, assets, catalog, index, epochs),
		guarantor: NewGuarantorLedger(book, assets, epochs),
		bonus:     NewBonusDistributor(book, assets, catalog, epochs),
		logger:    logger,
	}
}

func (ec *EpochCoordinator) Book() *ledger.Book { return ec.book }
func (ec *EpochCoordinator) Assets() Assets { return ec.assets }
func (ec *EpochCoordinator) Catalog() *state.AssetCatalog { return ec.catalog }
func (ec *EpochCoordinator) Oracle() *state.RateOracle { return ec.oracle }
func (ec *EpochCoordinator) Index() *state.CategoryIndex { return ec.index }
func (ec *EpochCoordinator) Epochs() *EpochState { return ec.epochs }
func (ec *EpochCoordinator) Buyers() *BuyerLedger { return ec.buyers }
func (ec *EpochCoordinator) Sellers() *SellerLedger { return ec.sellers }
func (ec *EpochCoordinator) Guarantor() *GuarantorLedger { return ec.guarantor }
func (ec *EpochCoordinator) Bonus() *BonusDistributor { return ec.bonus }

// SetAsset registers or replaces a category.
func (ec *EpochCoordinator) SetAsset(category state.AssetCategory) {
	ec.catalog.SetAsset(category)
}

// SetPremiumRate sets the weekly rate for a registered category.
func (ec *EpochCoordinator) SetPremiumRate(cat state.CategoryID, rate int64) error {
	if !ec.catalog.Has(cat) {
		return fmt.Errorf("%w: %d", ErrUnknownCategory, cat)
	}
	return ec.oracle.SetPremiumRate(cat, rate)
}

// ResetIndexesByCategory rebuilds the seller and buyer index of cat from
// the accounts.
func (ec *EpochCoordinator) ResetIndexesByCategory(cat state.CategoryID) error {
	if !ec.catalog.Has(cat) {
		return fmt.Errorf("%w: %d", ErrUnknownCategory, cat)
	}
	var sellers, buyers []uuid.UUID
	for _, id := range ec.sellers.IDs() {
		if acct, _ := ec.sellers.Account(id); acct.Covers(cat) {
			sellers = append(sellers, id)
		}
	}
	for _, id := range ec.buyers.IDs() {
		if acct, _ := ec.buyers.Account(id); acct.Subscriptions[cat] > 0 {
			buyers = append(buyers, id)
		}
	}
	ec.index.Reset(cat, sellers, buyers)
	return nil
}

// BeforeUpdate freezes catalog, rates, subscriptions, baskets and balances
// into the snapshot for the epoch containing now. Within an epoch that
// already has a snapshot it returns the existing one unchanged.
func (ec *EpochCoordinator) BeforeUpdate(now int64) (*EpochExposureSnapshot, bool, error) {
	epoch := ec.epochs.Clock().EpochAt(now)
	prev := ec.epochs.Snapshot()
	if prev != nil {
		if prev.Epoch == epoch {
			return prev, false, nil
		}
		if prev.Epoch > epoch {
			return nil, false, fmt.Errorf("%w: snapshot is for epoch %d, now is epoch %d", ErrStaleSnapshot, prev.Epoch, epoch)
		}
	}

	snap := &EpochExposureSnapshot{
		Epoch:      epoch,
		StartedAt:  ec.epochs.Clock().EpochStart(epoch),
		CreatedAt:  now,
		Categories: make(map[state.CategoryID]*CategoryExposure),
	}

	// Categories claim the guarantor pool in ascending id order.
	poolLeft := ec.guarantor.PoolBalance()
	for _, asset := range ec.catalog.All() {
		exp, err := ec.buildExposure(asset, prev, poolLeft)
		if err != nil {
			snap.Skipped = append(snap.Skipped, SkippedCategory{CategoryID: asset.ID, Reason: err.Error()})
			ec.logger.Warn().
				Int64("epoch", epoch).
				Uint32("category", uint32(asset.ID)).
				Err(err).
				Msg("category left out of epoch snapshot")
			continue
		}
		poolLeft -= exp.GuarantorAllocatedCollateral
		snap.Categories[asset.ID] = exp
	}

	ec.epochs.install(snap)
	ec.logger.Info().
		Int64("epoch", epoch).
		Int("categories", len(snap.Categories)).
		Int("skipped", len(snap.Skipped)).
		Msg("epoch snapshot created")
	return snap, true, nil
}

func (ec *EpochCoordinator) buildExposure(asset state.AssetCategory, prev *EpochExposureSnapshot, poolLeft int64) (*CategoryExposure, error) {
	exp := &CategoryExposure{
		CategoryID:         asset.ID,
		HasGuarantor:       asset.HasGuarantor,
		RiskCategoryID:     asset.RiskCategoryID,
		PremiumRate:        ec.oracle.PremiumRate(asset.ID),
		SellerBonusRate:    ec.bonus.SellerRate(asset.ID),
		GuarantorBonusRate: ec.bonus.GuarantorRate(asset.ID),
		BuyerRequests:      make(map[uuid.UUID]int64),
		SellerAllocations:  make(map[uuid.UUID]int64),
	}

	for _, id := range ec.index.Buyers(asset.ID) {
		acct, ok := ec.buyers.Account(id)
		if !ok {
			continue
		}
		if requested := acct.Subscriptions[asset.ID]; requested > 0 {
			total, ok := fpmath.CheckedAdd(exp.TotalRequestedCoverage, requested)
			if !ok {
				return nil, fmt.Errorf("category %d: requested coverage: %w", asset.ID, ErrAmountOverflow)
			}
			exp.BuyerRequests[id] = requested
			exp.TotalRequestedCoverage = total
		}
	}

	var deposits []fpmath.Weight
	for _, id := range ec.index.Sellers(asset.ID) {
		if acct, ok := ec.sellers.Account(id); !ok || !acct.Covers(asset.ID) {
			continue
		}
		deposits = append(deposits, fpmath.Weight{ID: id, Weight: ec.sellers.Collateral(id)})
	}
	allocated, perSeller := fpmath.AllocateCollateral(deposits, exp.TotalRequestedCoverage)
	exp.SellerAllocatedCollateral = allocated
	for _, share := range perSeller {
		exp.SellerAllocations[uuid.UUID(share.ID)] = share.Amount
	}

	exp.GuarantorAllocatedCollateral = ec.guarantor.Allocate(asset.HasGuarantor, poolLeft, exp.TotalRequestedCoverage, allocated)
	exp.EffectiveCoveredAmount = fpmath.Min64(exp.TotalRequestedCoverage, exp.SellerAllocatedCollateral+exp.GuarantorAllocatedCollateral)

	if prev != nil {
		if last, ok := prev.Categories[asset.ID]; ok {
			exp.PriorSellerAllocations = copyAllocations(last.SellerAllocations)
		}
	}

	if err := exp.Validate(); err != nil {
		return nil, err
	}
	return exp, nil
}

// SettleEpoch runs the whole per-epoch sequence. A failure for one account
// or category is recorded in the report and does not stop the rest.
func (ec *EpochCoordinator) SettleEpoch(now int64) (*EpochReport, error) {
	snap, created, err := ec.BeforeUpdate(now)
	if err != nil {
		return nil, err
	}
	report := &EpochReport{Epoch: snap.Epoch, SnapshotCreated: created}
	if created {
		report.Snapshot = snap
		for _, sk := range snap.Skipped {
			report.Failures = append(report.Failures, UpdateFailure{Kind: kindCategory, Key: categoryKey(sk.CategoryID), Error: sk.Reason})
		}
	}

	for _, cat := range snap.CategoryIDs() {
		key := categoryKey(cat)

		if res, err := ec.bonus.UpdateGuarantorBonus(cat, now); err != nil {
			report.fail(kindGuarantorBonus, key, err)
		} else {
			report.Bonuses = append(report.Bonuses, res)
			report.BonusAccrued += res.Total()
			report.BonusShortfall += res.Shortfall
		}

		if res, err := ec.bonus.UpdateSellerBonus(cat, now); err != nil {
			report.fail(kindSellerBonus, key, err)
		} else {
			report.Bonuses = append(report.Bonuses, res)
			report.BonusAccrued += res.Total()
			report.BonusShortfall += res.Shortfall
		}

		if res, err := ec.guarantor.UpdatePremium(cat, now); err != nil {
			report.fail(kindGuarantorPremium, key, err)
		} else {
			report.Premiums = append(report.Premiums, res)
			if !res.Skipped {
				report.GuarantorDistributed += res.Pool
			}
		}

		if res, err := ec.sellers.UpdatePremium(cat, now); err != nil {
			report.fail(kindSellerPremium, key, err)
		} else {
			report.Premiums = append(report.Premiums, res)
			if !res.Skipped {
				report.SellerDistributed += res.Pool - res.Carried
			}
		}
	}

	for _, id := range ec.buyers.IDs() {
		res, err := ec.buyers.Update(id, now)
		if err != nil {
			report.fail(kindBuyer, id.String(), err)
			continue
		}
		report.Buyers = append(report.Buyers, res)
		report.PremiumReleased += res.Released
		for _, line := range res.Lines {
			report.PremiumCharged += line.Charged
			report.PremiumHeld += line.Refundable
			if line.Charged < line.Due {
				report.Lapses++
			}
		}
	}

	for _, id := range ec.sellers.IDs() {
		res, err := ec.sellers.Update(id, now)
		if err != nil {
			report.fail(kindSeller, id.String(), err)
			continue
		}
		report.Sellers = append(report.Sellers, res)
		report.SellerSettled += res.Settled
	}

	for _, f := range report.Failures {
		ec.logger.Warn().
			Int64("epoch", report.Epoch).
			Str("kind", f.Kind).
			Str("key", f.Key).
			Str("error", f.Error).
			Msg("settlement update failed")
	}
	ec.logger.Info().
		Int64("epoch", report.Epoch).
		Bool("snapshot_created", created).
		Int64("premium_charged", report.PremiumCharged).
		Int64("premium_held", report.PremiumHeld).
		Int64("seller_distributed", report.SellerDistributed).
		Int64("bonus_accrued", report.BonusAccrued).
		Int("lapses", report.Lapses).
		Int("failures", len(report.Failures)).
		Msg("epoch settled")

	return report, nil
}
