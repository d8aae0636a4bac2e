package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"panaderia/backend/internal/apperror"
)

var ErrInvalidDateRange = apperror.Validation("date_range", "start_date must not be after end_date")

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentMixed    PaymentMethod = "mixed"
)

var PaymentMethods = []PaymentMethod{PaymentCash, PaymentCard, PaymentTransfer, PaymentMixed}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentMixed:
		return true
	default:
		return false
	}
}

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Category  *string         `json:"category,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name     string          `json:"name"`
	Category *string         `json:"category,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Active   *bool           `json:"active,omitempty"`
}

type ProductUpdateRequest struct {
	Name     *string          `json:"name,omitempty"`
	Category *string          `json:"category,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Active   *bool            `json:"active,omitempty"`
}

type ProductFilter struct {
	Search   string  `json:"search,omitempty"`
	Category *string `json:"category,omitempty"`
	Active   *bool   `json:"active,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Offset   int     `json:"offset,omitempty"`
}

type SaleItemInput struct {
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type SaleCreateRequest struct {
	Date          Date            `json:"date"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Items         []SaleItemInput `json:"items"`
	Notes         *string         `json:"notes,omitempty"`
}

// SaleUpdateRequest patches a sale. A nil Items leaves the items untouched;
// a non-nil Items replaces them entirely.
type SaleUpdateRequest struct {
	Date          *Date           `json:"date,omitempty"`
	PaymentMethod *PaymentMethod  `json:"payment_method,omitempty"`
	Items         []SaleItemInput `json:"items,omitempty"`
	Notes         *string         `json:"notes,omitempty"`
}

type SaleFilter struct {
	Range         *DateRange     `json:"range,omitempty"`
	PaymentMethod *PaymentMethod `json:"payment_method,omitempty"`
	Limit         int            `json:"limit,omitempty"`
	Offset        int            `json:"offset,omitempty"`
}

type ClosingCreateRequest struct {
	Date         Date            `json:"date"`
	InitialCash  decimal.Decimal `json:"initial_cash"`
	CountedCash  decimal.Decimal `json:"counted_cash"`
	Expenses     decimal.Decimal `json:"expenses"`
	ExpenseNotes *string         `json:"expense_notes,omitempty"`
	Withdrawals  decimal.Decimal `json:"withdrawals"`
	Notes        *string         `json:"notes,omitempty"`
}

// ClosingUpdateRequest corrects a closing. The date is the closing's identity
// and cannot be patched. An empty notes string clears the note.
type ClosingUpdateRequest struct {
	InitialCash  *decimal.Decimal `json:"initial_cash,omitempty"`
	CountedCash  *decimal.Decimal `json:"counted_cash,omitempty"`
	Expenses     *decimal.Decimal `json:"expenses,omitempty"`
	ExpenseNotes *string          `json:"expense_notes,omitempty"`
	Withdrawals  *decimal.Decimal `json:"withdrawals,omitempty"`
	Notes        *string          `json:"notes,omitempty"`
}

type ClosingFilter struct {
	Range  *DateRange `json:"range,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

type Actor struct {
	Username string `json:"username"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
