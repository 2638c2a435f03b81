package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/markjakearzadon/payentry-bot/internal/models"
)

// PaymentService writes payment records to Postgres.
type PaymentService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewPaymentService(db *gorm.DB, logger *zap.Logger) *PaymentService {
	return &PaymentService{db: db, logger: logger}
}

// Migrate creates or updates the managers and payments tables.
func (s *PaymentService) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.Operator{}, &models.Payment{}); err != nil {
		s.logger.Error("failed to migrate tables", zap.Error(err))
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	return nil
}

func (s *PaymentService) InsertPayment(ctx context.Context, p models.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		s.logger.Error("failed to save payment", zap.String("payment_id", p.ID.String()), zap.Error(err))
		return fmt.Errorf("failed to save payment: %w", err)
	}

	s.logger.Info("payment record saved",
		zap.String("payment_id", p.ID.String()),
		zap.String("manager_id", p.ManagerID),
		zap.String("amount_eur", p.AmountEUR.StringFixed(2)))
	return nil
}

// MongoPaymentService writes payment records to the payments collection.
type MongoPaymentService struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

func NewMongoPaymentService(db *mongo.Database, logger *zap.Logger) *MongoPaymentService {
	return &MongoPaymentService{collection: db.Collection("payments"), logger: logger}
}

// EnsureIndexes creates the indexes used to look payments up by operator,
// customer and date.
func (s *MongoPaymentService) EnsureIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "manager_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "customer_handle", Value: 1}}},
		{Keys: bson.D{{Key: "transaction_date", Value: -1}}},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		s.logger.Error("failed to create indexes", zap.Error(err))
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

type paymentDocument struct {
	ID              string               `bson:"_id"`
	TransactionDate time.Time            `bson:"transaction_date"`
	AmountEUR       primitive.Decimal128 `bson:"amount_eur"`
	AmountLocal     primitive.Decimal128 `bson:"amount_local"`
	Currency        string               `bson:"currency"`
	ManagerID       string               `bson:"manager_id"`
	TelegramID      string               `bson:"telegram_id"`
	Product         string               `bson:"product"`
	Country         string               `bson:"country"`
	PaymentType     string               `bson:"payment_type"`
	CRMLink         string               `bson:"crm_link"`
	CustomerHandle  string               `bson:"customer_handle"`
	ScreenshotURL   string               `bson:"screenshot_url"`
	PriceHint       string               `bson:"price_hint,omitempty"`
	Status          string               `bson:"status"`
	CreatedAt       time.Time            `bson:"created_at"`
}

func newPaymentDocument(p models.Payment) (paymentDocument, error) {
	eur, err := primitive.ParseDecimal128(p.AmountEUR.StringFixed(2))
	if err != nil {
		return paymentDocument{}, fmt.Errorf("invalid amount_eur: %w", err)
	}
	local, err := primitive.ParseDecimal128(p.AmountLocal.StringFixed(2))
	if err != nil {
		return paymentDocument{}, fmt.Errorf("invalid amount_local: %w", err)
	}
	return paymentDocument{
		ID:              p.ID.String(),
		TransactionDate: p.TransactionDate,
		AmountEUR:       eur,
		AmountLocal:     local,
		Currency:        p.Currency,
		ManagerID:       p.ManagerID,
		TelegramID:      p.TelegramID,
		Product:         p.Product,
		Country:         p.Country,
		PaymentType:     p.PaymentType,
		CRMLink:         p.CRMLink,
		CustomerHandle:  p.CustomerHandle,
		ScreenshotURL:   p.ScreenshotURL,
		PriceHint:       p.PriceHint,
		Status:          p.Status,
		CreatedAt:       p.CreatedAt,
	}, nil
}

func (s *MongoPaymentService) InsertPayment(ctx context.Context, p models.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	doc, err := newPaymentDocument(p)
	if err != nil {
		return err
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		s.logger.Error("failed to save payment", zap.String("payment_id", doc.ID), zap.Error(err))
		return fmt.Errorf("failed to save payment: %w", err)
	}

	s.logger.Info("payment record saved",
		zap.String("payment_id", doc.ID),
		zap.String("manager_id", p.ManagerID),
		zap.String("amount_eur", p.AmountEUR.StringFixed(2)))
	return nil
}
