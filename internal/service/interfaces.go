package service

import (
	"context"

	"github.com/Heurr/pps-sub000/internal/dto"
)

// PriceServicer defines the read side served by the API
type PriceServicer interface {
	GetProductPrices(ctx context.Context, productID string) (*dto.ProductPricesResponse, error)
	GetPriceHistory(ctx context.Context, req *dto.GetPriceHistoryRequest) (*dto.PriceHistoryResponse, error)
}
