package dto

// GetPriceHistoryRequest represents a price history query
type GetPriceHistoryRequest struct {
	ProductID string `form:"-" binding:"required" example:"prod-789"`
	From      int64  `form:"from" binding:"required" example:"1723475612"`
	To        int64  `form:"to" binding:"required" example:"1723562012"`
}
