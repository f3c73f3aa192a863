package event

import (
	"encoding/json"
	"fmt"
)

// New returns a zero command of the given type.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeSetAsset:
		return &SetAsset{}, nil
	case EventTypeResetIndexes:
		return &ResetIndexes{}, nil
	case EventTypeSetPremiumRate:
		return &SetPremiumRate{}, nil
	case EventTypeSetBonusRate:
		return &SetBonusRate{}, nil
	case EventTypeFundBonus:
		return &FundBonus{}, nil
	case EventTypeBuyerDeposit:
		return &BuyerDeposit{}, nil
	case EventTypeBuyerWithdraw:
		return &BuyerWithdraw{}, nil
	case EventTypeSellerDeposit:
		return &SellerDeposit{}, nil
	case EventTypeSellerWithdraw:
		return &SellerWithdraw{}, nil
	case EventTypeGuarantorDeposit:
		return &GuarantorDeposit{}, nil
	case EventTypeGuarantorWithdraw:
		return &GuarantorWithdraw{}, nil
	case EventTypeSubscribe:
		return &Subscribe{}, nil
	case EventTypeChangeBasket:
		return &ChangeBasket{}, nil
	case EventTypeBeforeUpdate:
		return &BeforeUpdate{}, nil
	case EventTypeUpdateGuarantorBonus:
		return &UpdateGuarantorBonus{}, nil
	case EventTypeUpdateSellerBonus:
		return &UpdateSellerBonus{}, nil
	case EventTypeGuarantorUpdatePremium:
		return &GuarantorUpdatePremium{}, nil
	case EventTypeSellerUpdatePremium:
		return &SellerUpdatePremium{}, nil
	case EventTypeBuyerUpdate:
		return &BuyerUpdate{}, nil
	case EventTypeSellerUpdate:
		return &SellerUpdate{}, nil
	case EventTypeEpochSettle:
		return &EpochSettle{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %d", et)
	}
}

// DecodePayload rebuilds a command from an envelope payload written by the
// core. Used on replay.
func DecodePayload(et EventType, payload []byte) (Event, error) {
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", et, err)
	}
	return evt, nil
}
