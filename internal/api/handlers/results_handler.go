package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/backstage/services/auctions/internal/search"
	"example.com/backstage/services/auctions/internal/tracing"
	"example.com/backstage/services/auctions/internal/utils"
)

// ResultSearcher queries the auction results index
type ResultSearcher interface {
	SearchResults(ctx context.Context, q search.ResultQuery) ([]map[string]interface{}, error)
}

// ResultsHandler serves the results search
type ResultsHandler struct {
	search ResultSearcher
}

// NewResultsHandler creates a new results handler
func NewResultsHandler(s ResultSearcher) *ResultsHandler {
	return &ResultsHandler{search: s}
}

// ResultsQuery is the query string of a results search
type ResultsQuery struct {
	Text     string `form:"q"`
	Category string `form:"category"`
	Status   string `form:"status"`
	SellerID string `form:"seller_id"`
	WinnerID string `form:"winner_id"`
	From     int    `form:"from" validate:"gte=0"`
	Size     int    `form:"size" validate:"gte=0,lte=100"`
}

// HandleSearch searches resolved auctions
func (h *ResultsHandler) HandleSearch(c *gin.Context) {
	var q ResultsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
		return
	}
	if err := utils.ValidateStruct(q); err != nil {
		respondInvalid(c, err)
		return
	}

	defer tracing.StartSegment(c.Request.Context(), "search/results")()
	hits, err := h.search.SearchResults(c.Request.Context(), search.ResultQuery{
		Text:     q.Text,
		Category: q.Category,
		Status:   q.Status,
		SellerID: q.SellerID,
		WinnerID: q.WinnerID,
		From:     q.From,
		Size:     q.Size,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": hits, "count": len(hits)})
}

// RegisterRoutes registers the handler's routes
func (h *ResultsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/auctions/results", h.HandleSearch)
}
