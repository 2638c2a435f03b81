package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/markjakearzadon/payentry-bot/internal/dialog"
)

// ErrProofNotFound is returned when a stored proof id is unknown.
var ErrProofNotFound = errors.New("proof not found")

// MaxProofSize caps the attachments copied into the blob store.
const MaxProofSize = 20 << 20

// FileFetcher downloads an attachment from the messaging platform.
type FileFetcher interface {
	Fetch(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// ProofService keeps payment screenshots in a GridFS bucket.
type ProofService struct {
	bucket        *gridfs.Bucket
	fetcher       FileFetcher
	publicBaseURL string
	logger        *zap.Logger
}

func NewProofService(db *mongo.Database, fetcher FileFetcher, publicBaseURL string, logger *zap.Logger) (*ProofService, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName("proofs"))
	if err != nil {
		return nil, fmt.Errorf("failed to open proofs bucket: %w", err)
	}
	return &ProofService{
		bucket:        bucket,
		fetcher:       fetcher,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// Store copies the attachment into the bucket and returns its reference.
func (s *ProofService) Store(ctx context.Context, media dialog.Media) (string, error) {
	if media.Size > MaxProofSize {
		return "", fmt.Errorf("attachment of %d bytes exceeds %d", media.Size, MaxProofSize)
	}

	body, err := s.fetcher.Fetch(ctx, media.FileID)
	if err != nil {
		return "", fmt.Errorf("failed to download attachment: %w", err)
	}
	defer body.Close()

	meta := bson.M{
		"telegram_file_id": media.FileID,
		"content_type":     contentType(media),
	}
	id, err := s.bucket.UploadFromStream(proofFileName(media), io.LimitReader(body, MaxProofSize),
		options.GridFSUpload().SetMetadata(meta))
	if err != nil {
		return "", fmt.Errorf("failed to upload proof: %w", err)
	}

	s.logger.Info("proof stored", zap.String("proof_id", id.Hex()), zap.String("file_id", media.FileID))
	return ProofRef(s.publicBaseURL, id.Hex()), nil
}

// Open returns the stored proof and its content type.
func (s *ProofService) Open(id string) (io.ReadCloser, string, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, "", ErrProofNotFound
	}

	stream, err := s.bucket.OpenDownloadStream(oid)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, "", ErrProofNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to open proof: %w", err)
	}

	ct := "application/octet-stream"
	if meta := stream.GetFile().Metadata; meta != nil {
		if v, ok := meta.Lookup("content_type").StringValueOK(); ok && v != "" {
			ct = v
		}
	}
	return stream, ct, nil
}

// ProofRef is the public link to a stored proof, or a gridfs: reference
// when no public base URL is configured.
func ProofRef(publicBaseURL, id string) string {
	if publicBaseURL == "" {
		return "gridfs:" + id
	}
	return publicBaseURL + "/proofs/" + id
}

func proofFileName(media dialog.Media) string {
	if media.FileName != "" {
		return path.Base(media.FileName)
	}
	if media.Photo {
		return media.FileID + ".jpg"
	}
	return media.FileID
}

func contentType(media dialog.Media) string {
	switch {
	case media.MIMEType != "":
		return media.MIMEType
	case media.Photo:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// TelegramProofService keeps proofs on the messaging platform and records
// only their file id.
type TelegramProofService struct{}

func (TelegramProofService) Store(_ context.Context, media dialog.Media) (string, error) {
	if media.FileID == "" {
		return "", fmt.Errorf("attachment has no file id")
	}
	return "tg:" + media.FileID, nil
}
