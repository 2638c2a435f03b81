package models

import "errors"

// Operator is a vetted staff member allowed to enter payments.
type Operator struct {
	ID         string `bson:"_id" json:"id" gorm:"column:id;primaryKey"`
	Name       string `bson:"name" json:"name" gorm:"column:name"`
	TelegramID string `bson:"telegram_id" json:"telegram_id" gorm:"column:telegram_id;index"`
	Status     string `bson:"status" json:"status" gorm:"column:status"`
	// Geo is the comma separated list of countries the operator works.
	Geo string `bson:"-" json:"geo" gorm:"column:geo"`
}

// OperatorStatusActive marks operators who may start a dialog.
const OperatorStatusActive = "active"

func (Operator) TableName() string { return "managers" }

// ErrOperatorNotFound is returned by directories when no active operator
// matches the caller.
var ErrOperatorNotFound = errors.New("operator not found")
