package activities

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/loyaltyhub-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyaltyhub-backend/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	minGroupMembers      = 2
	maxGroupMembers      = 50
	defaultGroupExpireIn = 24 * 60
)

// Pricing is the typed pricing configuration of one activity type.
type Pricing interface {
	// ListPrice is the undiscounted per-unit value recorded as order amount.
	ListPrice() decimal.Decimal
	// ChargePrice is the per-unit amount actually collected.
	ChargePrice() decimal.Decimal
	// Validity is how long an issued voucher stays redeemable.
	Validity() time.Duration
	validate() error
}

type VoucherPricing struct {
	SellingPrice decimal.Decimal `json:"selling_price"`
	FaceValue    decimal.Decimal `json:"face_value"`
	ValidDays    int             `json:"valid_days"`
}

func (p VoucherPricing) ListPrice() decimal.Decimal   { return p.FaceValue }
func (p VoucherPricing) ChargePrice() decimal.Decimal { return p.SellingPrice }
func (p VoucherPricing) Validity() time.Duration      { return days(p.ValidDays) }

func (p VoucherPricing) validate() error {
	if err := requirePositive("selling_price", p.SellingPrice); err != nil {
		return err
	}
	if err := requirePositive("face_value", p.FaceValue); err != nil {
		return err
	}
	return requireValidDays(p.ValidDays)
}

type TopUpPricing struct {
	SellingPrice decimal.Decimal `json:"selling_price"`
	CreditValue  decimal.Decimal `json:"credit_value"`
	ValidDays    int             `json:"valid_days"`
}

func (p TopUpPricing) ListPrice() decimal.Decimal   { return p.CreditValue }
func (p TopUpPricing) ChargePrice() decimal.Decimal { return p.SellingPrice }
func (p TopUpPricing) Validity() time.Duration      { return days(p.ValidDays) }

func (p TopUpPricing) validate() error {
	if err := requirePositive("selling_price", p.SellingPrice); err != nil {
		return err
	}
	if err := requirePositive("credit_value", p.CreditValue); err != nil {
		return err
	}
	if p.CreditValue.LessThan(p.SellingPrice) {
		return validationError("credit_value must not be below selling_price")
	}
	return requireValidDays(p.ValidDays)
}

// PointsPricing exchanges loyalty points plus an optional cash top-up.
// A zero CashPrice makes the order free at the gateway.
type PointsPricing struct {
	PointsCost int64           `json:"points_cost"`
	CashPrice  decimal.Decimal `json:"cash_price"`
	FaceValue  decimal.Decimal `json:"face_value"`
	ValidDays  int             `json:"valid_days"`
}

func (p PointsPricing) ListPrice() decimal.Decimal   { return p.FaceValue }
func (p PointsPricing) ChargePrice() decimal.Decimal { return p.CashPrice }
func (p PointsPricing) Validity() time.Duration      { return days(p.ValidDays) }

func (p PointsPricing) validate() error {
	if p.PointsCost <= 0 {
		return validationError("points_cost must be positive")
	}
	if p.CashPrice.IsNegative() {
		return validationError("cash_price must not be negative")
	}
	if err := requirePositive("face_value", p.FaceValue); err != nil {
		return err
	}
	return requireValidDays(p.ValidDays)
}

type GroupBuyPricing struct {
	GroupPrice      decimal.Decimal `json:"group_price"`
	OriginalPrice   decimal.Decimal `json:"original_price"`
	RequiredMembers int             `json:"required_members"`
	ExpireMinutes   int             `json:"expire_minutes"`
	ValidDays       int             `json:"valid_days"`
}

func (p GroupBuyPricing) ListPrice() decimal.Decimal   { return p.OriginalPrice }
func (p GroupBuyPricing) ChargePrice() decimal.Decimal { return p.GroupPrice }
func (p GroupBuyPricing) Validity() time.Duration      { return days(p.ValidDays) }

// FormationWindow is how long a forming group waits for members.
func (p GroupBuyPricing) FormationWindow() time.Duration {
	minutes := p.ExpireMinutes
	if minutes <= 0 {
		minutes = defaultGroupExpireIn
	}
	return time.Duration(minutes) * time.Minute
}

func (p GroupBuyPricing) validate() error {
	if err := requirePositive("group_price", p.GroupPrice); err != nil {
		return err
	}
	if err := requirePositive("original_price", p.OriginalPrice); err != nil {
		return err
	}
	if p.RequiredMembers < minGroupMembers || p.RequiredMembers > maxGroupMembers {
		return validationError(fmt.Sprintf("required_members must be between %d and %d", minGroupMembers, maxGroupMembers))
	}
	if p.ExpireMinutes < 0 {
		return validationError("expire_minutes must not be negative")
	}
	return requireValidDays(p.ValidDays)
}

// ParsePricing decodes raw config into the struct for the activity type and
// validates it. Unknown fields are rejected.
func ParsePricing(activityType enums.ActivityType, raw []byte) (Pricing, error) {
	var target Pricing
	switch activityType {
	case enums.ActivityTypeVoucher:
		target = &VoucherPricing{}
	case enums.ActivityTypeTopUp:
		target = &TopUpPricing{}
	case enums.ActivityTypePoints:
		target = &PointsPricing{}
	case enums.ActivityTypeGroupBuy:
		target = &GroupBuyPricing{}
	default:
		return nil, validationError(fmt.Sprintf("unsupported activity type %q", activityType))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, validationError("pricing config is required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid pricing config")
	}
	if err := target.validate(); err != nil {
		return nil, err
	}
	return target, nil
}

// Quote returns the order amount and pay amount for qty units.
func Quote(p Pricing, qty int) (orderAmount, payAmount decimal.Decimal) {
	units := decimal.NewFromInt(int64(qty))
	return p.ListPrice().Mul(units).Round(2), p.ChargePrice().Mul(units).Round(2)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func requirePositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return validationError(field + " must be positive")
	}
	return nil
}

func requireValidDays(n int) error {
	if n <= 0 {
		return validationError("valid_days must be positive")
	}
	return nil
}

func validationError(msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg)
}
