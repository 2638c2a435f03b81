package dialog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/payentry-bot/internal/models"
	"github.com/markjakearzadon/payentry-bot/internal/validate"
)

// ProofUploadFailed is stored as the proof reference when the blob store
// could not keep the attachment.
const ProofUploadFailed = "UPLOAD_FAILED"

// SavedAtLayout formats the save timestamp in the first sheet column.
const SavedAtLayout = "02.01.2006, 15:04:05"

// Draft is the payment being collected by one dialog run. It is owned by a
// single conversation and dropped when the dialog ends.
type Draft struct {
	ID        uuid.UUID
	Operator  models.Operator
	CreatedAt time.Time

	Product        string
	CustomerLink   string
	CustomerHandle string
	ProofRef       string
	TransactionAt  string
	Country        string
	Currency       string
	AmountLocal    decimal.Decimal
	AmountEUR      decimal.Decimal
	PriceHint      string
	PaymentMethod  string

	// RowAppended is set once the sheet row is written so a retried send
	// only repeats the record insert.
	RowAppended bool
}

func newDraft(op models.Operator, now time.Time) *Draft {
	return &Draft{
		ID:        uuid.New(),
		Operator:  op,
		CreatedAt: now,
	}
}

// Row returns the sheet columns in their fixed order.
func (d *Draft) Row(savedAt time.Time) []any {
	return []any{
		savedAt.Format(SavedAtLayout),
		d.Operator.Name,
		d.CustomerHandle,
		d.TransactionAt,
		d.AmountLocal.InexactFloat64(),
		d.AmountEUR.InexactFloat64(),
		d.Country,
		d.ProofRef,
		d.PaymentMethod,
		d.Product,
	}
}

// Payment converts the draft into the record store shape. The transaction
// time is interpreted in loc.
func (d *Draft) Payment(loc *time.Location, now time.Time) (models.Payment, error) {
	txAt, err := time.ParseInLocation(validate.DateTimeLayout, d.TransactionAt, loc)
	if err != nil {
		return models.Payment{}, fmt.Errorf("parse transaction time %q: %w", d.TransactionAt, err)
	}
	return models.Payment{
		ID:              d.ID,
		TransactionDate: txAt,
		AmountEUR:       d.AmountEUR,
		AmountLocal:     d.AmountLocal,
		Currency:        d.Currency,
		ManagerID:       d.Operator.ID,
		TelegramID:      d.Operator.TelegramID,
		Product:         d.Product,
		Country:         d.Country,
		PaymentType:     d.PaymentMethod,
		CRMLink:         d.CustomerLink,
		CustomerHandle:  d.CustomerHandle,
		ScreenshotURL:   d.ProofRef,
		PriceHint:       d.PriceHint,
		Status:          models.PaymentStatusCompleted,
		CreatedAt:       now,
	}, nil
}
