package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetService appends payment rows to a Google spreadsheet, one write at a
// time.
type SheetService struct {
	values        *sheets.SpreadsheetsValuesService
	spreadsheetID string
	writeRange    string
	writes        *semaphore.Weighted
	logger        *zap.Logger
}

// NewSheetService authenticates with service account credentials. Extra
// client options are applied after the credentials.
func NewSheetService(ctx context.Context, spreadsheetID, writeRange string, credentialsJSON []byte, logger *zap.Logger, opts ...option.ClientOption) (*SheetService, error) {
	clientOpts := append([]option.ClientOption{
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(sheets.SpreadsheetsScope),
	}, opts...)
	return newSheetService(ctx, spreadsheetID, writeRange, logger, clientOpts...)
}

func newSheetService(ctx context.Context, spreadsheetID, writeRange string, logger *zap.Logger, opts ...option.ClientOption) (*SheetService, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return &SheetService{
		values:        srv.Spreadsheets.Values,
		spreadsheetID: spreadsheetID,
		writeRange:    writeRange,
		writes:        semaphore.NewWeighted(1),
		logger:        logger,
	}, nil
}

// AppendRow appends row below the last row of the configured range.
func (s *SheetService) AppendRow(ctx context.Context, row []any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.writes.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for sheet write: %w", err)
	}
	defer s.writes.Release(1)

	body := &sheets.ValueRange{Values: [][]interface{}{escapeRow(row)}}
	resp, err := s.values.Append(s.spreadsheetID, s.writeRange, body).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		s.logger.Error("failed to append sheet row", zap.String("range", s.writeRange), zap.Error(err))
		return fmt.Errorf("failed to append sheet row: %w", err)
	}

	if resp.Updates != nil {
		s.logger.Debug("sheet row appended", zap.String("range", resp.Updates.UpdatedRange))
	}
	return nil
}

// escapeRow quotes text cells that USER_ENTERED would otherwise evaluate as
// a formula.
func escapeRow(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if s, ok := v.(string); ok && s != "" && strings.ContainsRune("=+-@", rune(s[0])) {
			v = "'" + s
		}
		out[i] = v
	}
	return out
}
