package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/domain"
	"github.com/Heurr/pps-sub000/internal/dto"
	"github.com/Heurr/pps-sub000/internal/repository"
)

var (
	// ErrInvalidRequest marks queries rejected before reaching storage
	ErrInvalidRequest = errors.New("invalid request")
	// ErrHistoryDisabled is returned when no price history archive is configured
	ErrHistoryDisabled = errors.New("price history is disabled")
)

// PriceService answers price queries
type PriceService struct {
	prices    repository.ProductPriceRepository
	history   repository.PriceHistoryRepository
	retention time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// NewPriceService creates a new price service. history may be nil.
func NewPriceService(prices repository.ProductPriceRepository, history repository.PriceHistoryRepository, retentionDays int, log *zap.Logger) *PriceService {
	return &PriceService{
		prices:    prices,
		history:   history,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		log:       log,
	}
}

// GetProductPrices returns today's aggregates of a product in publishing order
func (s *PriceService) GetProductPrices(ctx context.Context, productID string) (*dto.ProductPricesResponse, error) {
	day := domain.Day(s.now())

	rows, err := s.prices.GetProductPricesByProducts(ctx, day, []string{productID})
	if err != nil {
		return nil, fmt.Errorf("failed to get product prices from repository: %w", err)
	}

	doc := domain.NewPriceDocument(productID, rows, 0)
	response := &dto.ProductPricesResponse{
		ProductID:    productID,
		Day:          day.Format(time.DateOnly),
		CurrencyCode: doc.CurrencyCode,
		CountryCode:  doc.CountryCode,
		Prices:       make([]dto.PriceData, 0, len(doc.Prices)),
	}
	for _, p := range doc.Prices {
		response.Prices = append(response.Prices, dto.PriceData{
			Type: string(p.Type),
			Min:  p.Min.String(),
			Max:  p.Max.String(),
		})
	}
	return response, nil
}

// GetPriceHistory returns archived prices of a product within the retention window
func (s *PriceService) GetPriceHistory(ctx context.Context, req *dto.GetPriceHistoryRequest) (*dto.PriceHistoryResponse, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}

	if req.From > req.To {
		s.log.Warn("Invalid time range for price history",
			zap.Int64("from", req.From),
			zap.Int64("to", req.To),
			zap.String("product_id", req.ProductID))
		return nil, fmt.Errorf("%w: from must be less than or equal to to", ErrInvalidRequest)
	}

	from, to := time.Unix(req.From, 0).UTC(), time.Unix(req.To, 0).UTC()
	if s.retention > 0 && to.Sub(from) > s.retention {
		return nil, fmt.Errorf("%w: time range exceeds the retention of %d days", ErrInvalidRequest, int(s.retention.Hours()/24))
	}

	entries, err := s.history.GetPriceHistory(ctx, req.ProductID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get price history from repository: %w", err)
	}

	response := &dto.PriceHistoryResponse{
		ProductID: req.ProductID,
		From:      req.From,
		To:        req.To,
		History:   make([]dto.PriceHistoryData, 0, len(entries)),
	}
	for _, e := range entries {
		response.History = append(response.History, dto.PriceHistoryData{
			Type:         string(e.PriceType),
			Min:          e.MinPrice.String(),
			Max:          e.MaxPrice.String(),
			CurrencyCode: e.CurrencyCode,
			Action:       e.Action,
			PublishedAt:  e.PublishedAt.Unix(),
		})
	}
	return response, nil
}
