package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatusCompleted is the status every entered payment is saved with.
const PaymentStatusCompleted = "completed"

// Payment is a confirmed payment entry as written to the record store.
type Payment struct {
	ID              uuid.UUID       `json:"id" gorm:"column:id;type:uuid;primaryKey"`
	TransactionDate time.Time       `json:"transaction_date" gorm:"column:transaction_date"`
	AmountEUR       decimal.Decimal `json:"amount_eur" gorm:"column:amount_eur;type:numeric(12,2)"`
	AmountLocal     decimal.Decimal `json:"amount_local" gorm:"column:amount_local;type:numeric(12,2)"`
	Currency        string          `json:"currency" gorm:"column:currency"`
	ManagerID       string          `json:"manager_id" gorm:"column:manager_id;index"`
	TelegramID      string          `json:"telegram_id" gorm:"column:telegram_id"`
	Product         string          `json:"product" gorm:"column:product"`
	Country         string          `json:"country" gorm:"column:country"`
	PaymentType     string          `json:"payment_type" gorm:"column:payment_type"`
	CRMLink         string          `json:"crm_link" gorm:"column:crm_link"`
	CustomerHandle  string          `json:"customer_handle" gorm:"column:customer_handle"`
	ScreenshotURL   string          `json:"screenshot_url" gorm:"column:screenshot_url"`
	PriceHint       string          `json:"price_hint" gorm:"column:price_hint"`
	Status          string          `json:"status" gorm:"column:status"`
	CreatedAt       time.Time       `json:"created_at" gorm:"column:created_at"`
}

func (Payment) TableName() string { return "payments" }
