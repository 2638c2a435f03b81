package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/markjakearzadon/payentry-bot/internal/models"
)

// OperatorService looks operators up in the Postgres managers table.
type OperatorService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewOperatorService(db *gorm.DB, logger *zap.Logger) *OperatorService {
	return &OperatorService{db: db, logger: logger}
}

// LookupOperator returns the active operator whose Telegram id is callerID.
func (s *OperatorService) LookupOperator(ctx context.Context, callerID int64) (models.Operator, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var op models.Operator
	err := s.lookup(s.db.WithContext(ctx), callerID, &op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Operator{}, models.ErrOperatorNotFound
	}
	if err != nil {
		s.logger.Error("failed to fetch operator", zap.Int64("caller_id", callerID), zap.Error(err))
		return models.Operator{}, fmt.Errorf("failed to fetch operator: %w", err)
	}

	op.Geo = normalizeGeo(op.Geo)
	return op, nil
}

func (s *OperatorService) lookup(tx *gorm.DB, callerID int64, op *models.Operator) *gorm.DB {
	return tx.Where("telegram_id = ? AND status = ?", strconv.FormatInt(callerID, 10), models.OperatorStatusActive).
		First(op)
}

// MongoOperatorService looks operators up in the managers collection.
type MongoOperatorService struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

func NewMongoOperatorService(db *mongo.Database, logger *zap.Logger) *MongoOperatorService {
	return &MongoOperatorService{collection: db.Collection("managers"), logger: logger}
}

// managerDocument tolerates the shapes found in the managers collection: ids
// as ObjectID or string, Telegram ids as string or number, geo as array or
// string.
type managerDocument struct {
	ID     any           `bson:"_id"`
	Name   string        `bson:"name"`
	Status string        `bson:"status"`
	Geo    bson.RawValue `bson:"geo"`
}

func (s *MongoOperatorService) LookupOperator(ctx context.Context, callerID int64) (models.Operator, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	idText := strconv.FormatInt(callerID, 10)
	filter := bson.M{
		"telegram_id": bson.M{"$in": bson.A{idText, callerID}},
		"status":      models.OperatorStatusActive,
	}

	var doc managerDocument
	if err := s.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Operator{}, models.ErrOperatorNotFound
		}
		s.logger.Error("failed to fetch operator", zap.Int64("caller_id", callerID), zap.Error(err))
		return models.Operator{}, fmt.Errorf("failed to fetch operator: %w", err)
	}

	return models.Operator{
		ID:         documentID(doc.ID),
		Name:       doc.Name,
		TelegramID: idText,
		Status:     doc.Status,
		Geo:        geoFromRaw(doc.Geo),
	}, nil
}

func documentID(id any) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func geoFromRaw(raw bson.RawValue) string {
	switch raw.Type {
	case bsontype.String:
		return normalizeGeo(raw.StringValue())
	case bsontype.Array:
		values, err := raw.Array().Values()
		if err != nil {
			return ""
		}
		codes := make([]string, 0, len(values))
		for _, v := range values {
			if s, ok := v.StringValueOK(); ok {
				codes = append(codes, s)
			}
		}
		return normalizeGeo(strings.Join(codes, ","))
	default:
		return ""
	}
}

// normalizeGeo strips JSON and Postgres array punctuation from a stored geo list.
func normalizeGeo(geo string) string {
	return strings.TrimSpace(strings.NewReplacer(`[`, "", `]`, "", `{`, "", `}`, "", `"`, "").Replace(geo))
}
