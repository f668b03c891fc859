package statemachine

import "github.com/angelmondragon/loyaltyhub-backend/pkg/enums"

// Reasons attached to CodeStateConflict errors.
const (
	ReasonOrderNotPending     = "ORDER_NOT_PENDING"
	ReasonOrderNotPaid        = "ORDER_NOT_PAID"
	ReasonVoucherAlreadyUsed  = "VOUCHER_ALREADY_USED"
	ReasonVoucherExpired      = "VOUCHER_EXPIRED"
	ReasonVoucherNotUsable    = "VOUCHER_NOT_USABLE"
	ReasonGroupNotForming     = "GROUP_NOT_FORMING"
	ReasonGroupFull           = "GROUP_FULL"
	ReasonGroupExpired        = "GROUP_EXPIRED"
	ReasonGroupHasMembers     = "GROUP_HAS_MEMBERS"
	ReasonActivityNotActive   = "ACTIVITY_NOT_ACTIVE"
	ReasonSettlementNotFailed = "SETTLEMENT_NOT_RETRYABLE"
)

// Order: pending -> {paid | closed}, paid -> refunded.
var Order = New("order",
	Edge[enums.OrderStatus]{From: enums.OrderStatusPending, To: enums.OrderStatusPaid},
	Edge[enums.OrderStatus]{From: enums.OrderStatusPending, To: enums.OrderStatusClosed},
	Edge[enums.OrderStatus]{From: enums.OrderStatusPaid, To: enums.OrderStatusRefunded},
)

// Voucher: exactly one terminal move out of unused.
var Voucher = New("voucher",
	Edge[enums.VoucherStatus]{From: enums.VoucherStatusUnused, To: enums.VoucherStatusUsed},
	Edge[enums.VoucherStatus]{From: enums.VoucherStatusUnused, To: enums.VoucherStatusExpired},
	Edge[enums.VoucherStatus]{From: enums.VoucherStatusUnused, To: enums.VoucherStatusRefunded},
)

// GroupOrder: forming -> {succeeded | failed | cancelled}.
var GroupOrder = New("group order",
	Edge[enums.GroupOrderStatus]{From: enums.GroupOrderStatusForming, To: enums.GroupOrderStatusSucceeded},
	Edge[enums.GroupOrderStatus]{From: enums.GroupOrderStatusForming, To: enums.GroupOrderStatusFailed},
	Edge[enums.GroupOrderStatus]{From: enums.GroupOrderStatusForming, To: enums.GroupOrderStatusCancelled},
)

// Settlement: failed records stay failed until a retry settles them; there is
// no abandonment state.
var Settlement = New("settlement",
	Edge[enums.SettlementStatus]{From: enums.SettlementStatusPending, To: enums.SettlementStatusSettled},
	Edge[enums.SettlementStatus]{From: enums.SettlementStatusPending, To: enums.SettlementStatusFailed},
	Edge[enums.SettlementStatus]{From: enums.SettlementStatusFailed, To: enums.SettlementStatusSettled},
	Edge[enums.SettlementStatus]{From: enums.SettlementStatusFailed, To: enums.SettlementStatusFailed},
)
