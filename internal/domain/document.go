package domain

import (
	"github.com/shopspring/decimal"
)

const (
	DocumentActionUpdate = "update"
	DocumentActionDelete = "delete"
)

// DocumentPrice is one price type of a published document
type DocumentPrice struct {
	Min  decimal.Decimal `json:"min"`
	Max  decimal.Decimal `json:"max"`
	Type PriceType       `json:"type"`
}

// PriceDocument is the consolidated state of one product published downstream
type PriceDocument struct {
	ProductID    string          `json:"productId"`
	CurrencyCode string          `json:"currencyCode"`
	CountryCode  string          `json:"countryCode"`
	Prices       []DocumentPrice `json:"prices"`
	Version      int64           `json:"version"`
	Action       string          `json:"action"`
}

// NewPriceDocument builds the document of a product from today's rows. A
// product without rows is published as deleted.
func NewPriceDocument(productID string, rows []ProductPrice, version int64) PriceDocument {
	doc := PriceDocument{
		ProductID: productID,
		Prices:    []DocumentPrice{},
		Version:   version,
		Action:    DocumentActionDelete,
	}

	byType := make(map[PriceType]ProductPrice, len(rows))
	for _, row := range rows {
		byType[row.PriceType] = row
	}

	for _, pt := range PriceTypes {
		row, ok := byType[pt]
		if !ok {
			continue
		}
		if doc.CurrencyCode == "" {
			doc.CurrencyCode = row.CurrencyCode
			doc.CountryCode = row.CountryCode
		}
		doc.Prices = append(doc.Prices, DocumentPrice{Min: row.MinPrice, Max: row.MaxPrice, Type: pt})
	}

	if len(doc.Prices) > 0 {
		doc.Action = DocumentActionUpdate
	}

	return doc
}
