package ingestion

import (
	"CoverLedger/internal/event"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ParseRawEvent converts a RawEvent (JSON bytes + command name) into a typed
// event.Event. The shell validates and converts raw commands before sending
// them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	return ParseCommand(eventType, raw.Data)
}

// ParseCommand decodes the JSON wire form of the named command.
func ParseCommand(name string, data []byte) (event.Event, error) {
	switch name {
	case "SetAsset":
		return parseSetAsset(data)
	case "ResetIndexes":
		return parseCategoryCommand(data, name, func(m event.Meta, cat uint32) event.Event {
			return &event.ResetIndexes{Meta: m, Category: cat}
		})
	case "SetPremiumRate":
		return parseSetPremiumRate(data)
	case "SetBonusRate":
		return parseSetBonusRate(data)
	case "FundBonus":
		return parseFundBonus(data)
	case "BuyerDeposit", "BuyerWithdraw":
		return parseBuyerFunds(data, name)
	case "SellerDeposit", "SellerWithdraw":
		return parseSellerFunds(data, name)
	case "GuarantorDeposit", "GuarantorWithdraw":
		return parseGuarantorFunds(data, name)
	case "Subscribe":
		return parseSubscribe(data)
	case "ChangeBasket":
		return parseChangeBasket(data)
	case "BeforeUpdate":
		return parseGlobalCommand(data, name, func(m event.Meta) event.Event {
			return &event.BeforeUpdate{Meta: m}
		})
	case "EpochSettle":
		return parseGlobalCommand(data, name, func(m event.Meta) event.Event {
			return &event.EpochSettle{Meta: m}
		})
	case "UpdateGuarantorBonus":
		return parseCategoryCommand(data, name, func(m event.Meta, cat uint32) event.Event {
			return &event.UpdateGuarantorBonus{Meta: m, Category: cat}
		})
	case "UpdateSellerBonus":
		return parseCategoryCommand(data, name, func(m event.Meta, cat uint32) event.Event {
			return &event.UpdateSellerBonus{Meta: m, Category: cat}
		})
	case "GuarantorUpdatePremium":
		return parseCategoryCommand(data, name, func(m event.Meta, cat uint32) event.Event {
			return &event.GuarantorUpdatePremium{Meta: m, Category: cat}
		})
	case "SellerUpdatePremium":
		return parseCategoryCommand(data, name, func(m event.Meta, cat uint32) event.Event {
			return &event.SellerUpdatePremium{Meta: m, Category: cat}
		})
	case "BuyerUpdate":
		return parseBuyerUpdate(data)
	case "SellerUpdate":
		return parseSellerUpdate(data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", name)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type metaJSON struct {
	CommandID   string `json:"command_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (j metaJSON) meta() (event.Meta, error) {
	if j.CommandID == "" {
		return event.Meta{}, fmt.Errorf("missing command_id")
	}
	if j.Sequence < 0 {
		return event.Meta{}, fmt.Errorf("negative sequence %d", j.Sequence)
	}
	return event.Meta{
		CommandID: j.CommandID,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

func decode(data []byte, name string, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func parseID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

type setAssetJSON struct {
	metaJSON
	Category     uint32 `json:"category"`
	HasGuarantor bool   `json:"has_guarantor"`
	RiskCategory uint32 `json:"risk_category"`
}

func parseSetAsset(data []byte) (*event.SetAsset, error) {
	var j setAssetJSON
	if err := decode(data, "SetAsset", &j); err != nil {
		return nil, err
	}
	m, err := j.meta()
	if err != nil {
		return nil, err
	}
	return &event.SetAsset{
		Meta:           m,
		Category:       j.Category,
		HasGuarantor:   j.HasGuarantor,
		RiskCategoryID: j.RiskCategory,
	}, nil
}

type rateJSON struct {
	metaJSON
	Category uint32 `json:"category"`
	Party    string `json:"party"`
	Rate     int64  `json:"rate"`
}

func parseSetPremiumRate(data []byte) (*event.SetPremiumRate, error) {
	var j rateJSON
	if err := decode(data, "SetPremiumRate", &j); err != nil {
		return nil, err
	}
	m, err := j.meta()
	if err != nil {
		return nil, err
	}
	return &event.SetPremiumRate{Meta: m, Category: j.Category, Rate: j.Rate}, nil
}

func parseSetBonusRate(data []byte) (*event.SetBonusRate, error) {
	var j rateJSON
	if err := decode(data, "SetBonusRate", &j); err != nil {
		return nil, err
	}
	m, err := j.meta()
	if err != nil {
		return nil, err
	}
	switch j.Party {
	case "", "seller", "guarantor":
	default:
		return nil, fmt.Errorf("parse party: unknown %q", j.Party)
	}
	return &event.SetBonusRate{Meta: m, Category: j.Category, Party: j.Party, Rate: j.Rate}, nil
}

type amountJSON struct {
	metaJSON
	BuyerID  string `json:"buyer_id"`
	SellerID string `json:"seller_id"`
	Amount   int64  `json:"amount"`
}

func parseFundBonus(data []byte) (*event.FundBonus, error) {
	var j amountJSON
	if err := decode(data, "FundBonus", &j); err != nil {
		return nil, err
	}
	m, err := j.meta()
	if err != nil {
		return nil, err
	}
	return &event.FundBonus{Meta: m, Amount: j.Amount}, nil
}

func parseBuyerFunds(data []byte, name string) (event.Event, error) {
	var j amountJSON
	if err := decode(data, name, &j); err != nil {
		return nil, err
	}
	m, err := j.meta()
	if err != nil {
		return nil, err
	}
	buyerID, err := parseID("buyer_id", j.BuyerID)
	if err != nil {
		return nil, err
	}
	if name == "BuyerWithdraw" {
		return &event.BuyerWithdraw{Meta: m, BuyerID: buyerID, Amount: j.Amount}, nil
	}
	return &event.BuyerDeposit{Meta: m, BuyerID: buyerID, Amount: j.Amount}, nil
}

func parseSellerFunds(data []byte, name string) (event.Event, error) {
	var j amountJSON
	if err := decode(data, name, &j); err != nil {
		return nil, err
	}
	m, err := j.meta()
	if err != nil {
		return nil, err
	}
	sellerID, err := parseID("seller_id", j.SellerID)
	if err != nil {
		return nil, err
	}
	if name == "SellerWithdraw" {
		return &event.SellerWithdraw{Meta: m, SellerID: sellerID, Amount: j.Amount}, nil
	}
	return &event.SellerDeposit{Meta: m, SellerID: sellerID, Amount: j.Amount}, nil
}

func parseGuarantorFunds(data []byte, name string) (event.Event, error) {
	var j amountJSON
	if err := decode(data, name, &j); err != nil {
		return nil, err
	}
	m, err := j.meta()
	if err != nil {
		return nil, err
	}
	if name == "GuarantorWithdraw" {
		return &event.GuarantorWithdraw{Meta: m, Amount: j.Amount}, nil
	}
	return &event.GuarantorDeposit{Meta: m, Amount: j.Amount}, nil
}

type subscribeJSON struct {
	metaJSON
	BuyerID  string `json:"buyer_id"`
	Category uint32 `json:"category"`
	Coverage int64  `json:"coverage"`
}

func parseSubscribe(data []byte) (*event.Subscribe, error) {
	var j subscribeJSON
	if err := decode(data, "Subscribe", &j); err != nil {
		return nil, err
	}
	m, err := j.meta()
	if err != nil {
		return nil, err
	}
	buyerID, err := parseID("buyer_id", j.BuyerID)
	if err != nil {
		return nil, err
	}
	return &event.Subscribe{Meta: m, BuyerID: buyerID, Category: j.Category, Coverage: j.Coverage}, nil
}

type changeBasketJSON struct {
	metaJSON
	SellerID   string   `json:"seller_id"`
	Categories []uint32 `json:"categories"`
}

func parseChangeBasket(data []byte) (*event.ChangeBasket, error) {
	var j changeBasketJSON
	if err := decode(data, "ChangeBasket", &j); err != nil {
		return nil, err
	}
	m, err := j.meta()
	if err != nil {
		return nil, err
	}
	sellerID, err := parseID("seller_id", j.SellerID)
	if err != nil {
		return nil, err
	}
	return &event.ChangeBasket{Meta: m, SellerID: sellerID, Categories: j.Categories}, nil
}

type categoryJSON struct {
	metaJSON
	Category *uint32 `json:"category"`
}

func parseCategoryCommand(data []byte, name string, build func(event.Meta, uint32) event.Event) (event.Event, error) {
	var j categoryJSON
	if err := decode(data, name, &j); err != nil {
		return nil, err
	}
	m, err := j.meta()
	if err != nil {
		return nil, err
	}
	if j.Category == nil {
		return nil, fmt.Errorf("parse %s: missing category", name)
	}
	return build(m, *j.Category), nil
}

func parseGlobalCommand(data []byte, name string, build func(event.Meta) event.Event) (event.Event, error) {
	var j metaJSON
	if err := decode(data, name, &j); err != nil {
		return nil, err
	}
	m, err := j.meta()
	if err != nil {
		return nil, err
	}
	return build(m), nil
}

type partyJSON struct {
	metaJSON
	BuyerID  string `json:"buyer_id"`
	SellerID string `json:"seller_id"`
}

func parseBuyerUpdate(data []byte) (*event.BuyerUpdate, error) {
	var j partyJSON
	if err := decode(data, "BuyerUpdate", &j); err != nil {
		return nil, err
	}
	m, err := j.meta()
	if err != nil {
		return nil, err
	}
	buyerID, err := parseID("buyer_id", j.BuyerID)
	if err != nil {
		return nil, err
	}
	return &event.BuyerUpdate{Meta: m, BuyerID: buyerID}, nil
}

func parseSellerUpdate(data []byte) (*event.SellerUpdate, error) {
	var j partyJSON
	if err := decode(data, "SellerUpdate", &j); err != nil {
		return nil, err
	}
	m, err := j.meta()
	if err != nil {
		return nil, err
	}
	sellerID, err := parseID("seller_id", j.SellerID)
	if err != nil {
		return nil, err
	}
	return &event.SellerUpdate{Meta: m, SellerID: sellerID}, nil
}
