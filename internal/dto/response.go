package dto

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"validation_error"`
	Message string `json:"message,omitempty" example:"from is required"`
}

// PriceData is the aggregate of one price type
type PriceData struct {
	Type string `json:"type" example:"in-stock"`
	Min  string `json:"min" example:"10.50"`
	Max  string `json:"max" example:"129.99"`
}

// ProductPricesResponse represents today's aggregates of a product
type ProductPricesResponse struct {
	ProductID    string      `json:"productId" example:"prod-789"`
	Day          string      `json:"day" example:"2026-10-17"`
	CurrencyCode string      `json:"currencyCode,omitempty" example:"CZK"`
	CountryCode  string      `json:"countryCode,omitempty" example:"CZ"`
	Prices       []PriceData `json:"prices"`
}

// PriceHistoryData is one archived price
type PriceHistoryData struct {
	Type         string `json:"type" example:"all-offers"`
	Min          string `json:"min" example:"10.50"`
	Max          string `json:"max" example:"129.99"`
	CurrencyCode string `json:"currencyCode" example:"CZK"`
	Action       string `json:"action" example:"update"`
	PublishedAt  int64  `json:"publishedAt" example:"1723475612"`
}

// PriceHistoryResponse represents the archived prices of a product
type PriceHistoryResponse struct {
	ProductID string             `json:"productId" example:"prod-789"`
	From      int64              `json:"from" example:"1723475612"`
	To        int64              `json:"to" example:"1723562012"`
	History   []PriceHistoryData `json:"history"`
}
