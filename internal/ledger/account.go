package ledger

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeBuyer AccountScope = iota
	AccountScopeSeller
	AccountScopeGuarantor
	AccountScopeCategory
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Buyer sub-types
	SubTypeBalance AccountSubType = iota
	SubTypePendingRefund

	// Seller / guarantor sub-types
	SubTypeCollateral
	SubTypePremiumAccrued
	SubTypeBonus

	// Category sub-types (earned premium awaiting distribution)
	SubTypeSellerPremium
	SubTypeGuarantorPremium

	// System sub-types
	SubTypeBonusReserve

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

var subTypeNames = map[AccountSubType]string{
	SubTypeBalance:             "balance",
	SubTypePendingRefund:       "pending_refund",
	SubTypeCollateral:          "collateral",
	SubTypePremiumAccrued:      "premium_accrued",
	SubTypeBonus:               "bonus",
	SubTypeSellerPremium:       "seller_premium",
	SubTypeGuarantorPremium:    "guarantor_premium",
	SubTypeBonusReserve:        "bonus_reserve",
	SubTypeExternalDeposits:    "deposits",
	SubTypeExternalWithdrawals: "withdrawals",
}

var scopeNames = map[AccountScope]string{
	AccountScopeBuyer:     "buyer",
	AccountScopeSeller:    "seller",
	AccountScopeGuarantor: "guarantor",
	AccountScopeCategory:  "category",
	AccountScopeSystem:    "system",
	AccountScopeExternal:  "external",
}

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDC":  1,
		"USDT":  2,
		"TIDAL": 3,
	}
	idToAsset = map[AssetID]string{
		1: "USDC",
		2: "USDT",
		3: "TIDAL",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// GuarantorPoolID is the entity id of the single pooled guarantor account.
var GuarantorPoolID = uuid.Nil

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // party UUID, category id (big endian) or system name
	SubType  AccountSubType
	AssetID  AssetID
}

// NewBuyerAccountKey creates a key for a buyer-owned account
func NewBuyerAccountKey(buyerID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeBuyer, EntityID: buyerID, SubType: subType, AssetID: assetID}
}

// NewSellerAccountKey creates a key for a seller-owned account
func NewSellerAccountKey(sellerID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeSeller, EntityID: sellerID, SubType: subType, AssetID: assetID}
}

// NewGuarantorAccountKey creates a key for the pooled guarantor
func NewGuarantorAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeGuarantor, EntityID: GuarantorPoolID, SubType: subType, AssetID: assetID}
}

// NewCategoryAccountKey creates a per-category pool key
func NewCategoryAccountKey(categoryID uint32, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	binary.BigEndian.PutUint32(entityID[12:], categoryID)
	return AccountKey{Scope: AccountScopeCategory, EntityID: entityID, SubType: subType, AssetID: assetID}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return AccountKey{Scope: AccountScopeSystem, EntityID: entityID, SubType: subType, AssetID: assetID}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, SubType: subType, AssetID: assetID}
}

// CategoryID decodes the category id of a category-scoped key.
func (k AccountKey) CategoryID() uint32 {
	return binary.BigEndian.Uint32(k.EntityID[12:])
}

// IsParty reports whether the key belongs to a buyer, seller or the guarantor.
func (k AccountKey) IsParty() bool {
	return k.Scope == AccountScopeBuyer || k.Scope == AccountScopeSeller || k.Scope == AccountScopeGuarantor
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)
	subType := subTypeNames[k.SubType]

	switch k.Scope {
	case AccountScopeBuyer, AccountScopeSeller:
		return fmt.Sprintf("%s:%s:%s:%s", scopeNames[k.Scope], uuid.UUID(k.EntityID).String(), subType, assetName)
	case AccountScopeGuarantor:
		return fmt.Sprintf("guarantor:pool:%s:%s", subType, assetName)
	case AccountScopeCategory:
		return fmt.Sprintf("category:%d:%s:%s", k.CategoryID(), subType, assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", subType, assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", subType, assetName)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath. System keys are restored
// with their sub-type name as entity name.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) < 3 {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	assetID, ok := GetAssetID(parts[len(parts)-1])
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown asset in account path %q", path)
	}
	subType, ok := lookupSubType(parts[len(parts)-2])
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown sub-type in account path %q", path)
	}

	switch parts[0] {
	case "buyer", "seller":
		if len(parts) != 4 {
			return AccountKey{}, fmt.Errorf("malformed account path %q", path)
		}
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		if parts[0] == "buyer" {
			return NewBuyerAccountKey(id, subType, assetID), nil
		}
		return NewSellerAccountKey(id, subType, assetID), nil
	case "guarantor":
		return NewGuarantorAccountKey(subType, assetID), nil
	case "category":
		var cat uint32
		if _, err := fmt.Sscanf(parts[1], "%d", &cat); err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		return NewCategoryAccountKey(cat, subType, assetID), nil
	case "system":
		return NewSystemAccountKey(parts[1], subType, assetID), nil
	case "external":
		return NewExternalAccountKey(subType, assetID), nil
	}
	return AccountKey{}, fmt.Errorf("unknown scope in account path %q", path)
}

func lookupSubType(name string) (AccountSubType, bool) {
	for st, n := range subTypeNames {
		if n == name {
			return st, true
		}
	}
	return 0, false
}
