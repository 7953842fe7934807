package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/backstage/services/auctions/internal/api/middleware"
	"example.com/backstage/services/auctions/internal/auction"
	"example.com/backstage/services/auctions/internal/models"
	"example.com/backstage/services/auctions/internal/services"
)

// AuctionCommands is the auction service as seen by the HTTP layer
type AuctionCommands interface {
	Create(ctx context.Context, actor services.Actor, in auction.CreateInput) (*models.Auction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	UpdateListing(ctx context.Context, id uuid.UUID, actor services.Actor, u auction.ListingUpdate) (*models.Auction, error)
	Delete(ctx context.Context, id uuid.UUID, actor services.Actor) error
	PlaceBid(ctx context.Context, id uuid.UUID, actor services.Actor, amount int64) (*models.Auction, error)
	BuyNow(ctx context.Context, id uuid.UUID, actor services.Actor) (*models.Auction, error)
	MakeOffer(ctx context.Context, id uuid.UUID, actor services.Actor, amount int64, message string) (*models.Auction, *models.Offer, error)
	RespondToOffer(ctx context.Context, id, offerID uuid.UUID, actor services.Actor, resp auction.OfferResponse) (*models.Auction, error)
	RespondToCounter(ctx context.Context, id, offerID uuid.UUID, actor services.Actor, accept bool) (*models.Auction, error)
	WithdrawOffer(ctx context.Context, id, offerID uuid.UUID, actor services.Actor) (*models.Auction, error)
	ReactivateOffer(ctx context.Context, id, offerID uuid.UUID, actor services.Actor) (*models.Auction, error)
}

// AuctionHandler handles seller and buyer requests
type AuctionHandler struct {
	auctions AuctionCommands
}

// NewAuctionHandler creates a new auction handler
func NewAuctionHandler(auctions AuctionCommands) *AuctionHandler {
	return &AuctionHandler{auctions: auctions}
}

// CreateAuctionRequest is a new listing
type CreateAuctionRequest struct {
	Title          string                `json:"title" validate:"required,max=200"`
	Description    string                `json:"description" validate:"max=10000"`
	Category       string                `json:"category" validate:"required"`
	Specifications models.Specifications `json:"specifications" validate:"omitempty,dive,keys,spec_key,endkeys"`
	SaleMode       string                `json:"sale_mode" validate:"required,sale_mode"`
	AllowOffers    bool                  `json:"allow_offers"`
	StartPrice     int64                 `json:"start_price" validate:"gt=0"`
	BidIncrement   int64                 `json:"bid_increment" validate:"gte=0"`
	ReservePrice   *int64                `json:"reserve_price" validate:"omitempty,gt=0"`
	BuyNowPrice    *int64                `json:"buy_now_price" validate:"omitempty,gt=0"`
	StartDate      time.Time             `json:"start_date" validate:"required"`
	EndDate        time.Time             `json:"end_date" validate:"required,gtfield=StartDate"`
	AutoExtend     bool                  `json:"auto_extend"`
}

// UpdateListingRequest edits dates and prices
type UpdateListingRequest struct {
	StartDate    *time.Time `json:"start_date"`
	EndDate      *time.Time `json:"end_date"`
	ReservePrice *int64     `json:"reserve_price" validate:"omitempty,gt=0"`
	BuyNowPrice  *int64     `json:"buy_now_price" validate:"omitempty,gt=0"`
}

// PlaceBidRequest is a bid
type PlaceBidRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

// MakeOfferRequest is a buyer's offer
type MakeOfferRequest struct {
	Amount  int64  `json:"amount" validate:"gt=0"`
	Message string `json:"message" validate:"max=1000"`
}

// RespondToOfferRequest is the seller's reply
type RespondToOfferRequest struct {
	Action        string `json:"action" validate:"required,offer_action"`
	CounterAmount int64  `json:"counter_amount" validate:"gte=0"`
	Message       string `json:"message" validate:"max=1000"`
}

// CounterResponseRequest is the buyer's answer to a counter offer
type CounterResponseRequest struct {
	Accept *bool `json:"accept" validate:"required"`
}

// OfferResponse wraps a newly created offer
type OfferResponse struct {
	Auction *models.Auction `json:"auction"`
	Offer   *models.Offer   `json:"offer"`
}

// HandleCreate creates a draft listing for the caller
func (h *AuctionHandler) HandleCreate(c *gin.Context) {
	var req CreateAuctionRequest
	if !bind(c, &req) {
		return
	}
	a, err := h.auctions.Create(c.Request.Context(), middleware.ActorFrom(c), auction.CreateInput{
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Category,
		Specifications: req.Specifications,
		SaleMode:       models.SaleMode(req.SaleMode),
		AllowOffers:    req.AllowOffers,
		StartPrice:     req.StartPrice,
		BidIncrement:   req.BidIncrement,
		ReservePrice:   req.ReservePrice,
		BuyNowPrice:    req.BuyNowPrice,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		AutoExtend:     req.AutoExtend,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// HandleGet returns one auction
func (h *AuctionHandler) HandleGet(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := h.auctions.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// HandleUpdate edits a listing
func (h *AuctionHandler) HandleUpdate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req UpdateListingRequest
	if !bind(c, &req) {
		return
	}
	a, err := h.auctions.UpdateListing(c.Request.Context(), id, middleware.ActorFrom(c), auction.ListingUpdate{
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		ReservePrice: req.ReservePrice,
		BuyNowPrice:  req.BuyNowPrice,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// HandleDelete removes a listing without activity
func (h *AuctionHandler) HandleDelete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.auctions.Delete(c.Request.Context(), id, middleware.ActorFrom(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandlePlaceBid places a bid
func (h *AuctionHandler) HandlePlaceBid(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req PlaceBidRequest
	if !bind(c, &req) {
		return
	}
	a, err := h.auctions.PlaceBid(c.Request.Context(), id, middleware.ActorFrom(c), req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// HandleBuyNow buys the auction outright
func (h *AuctionHandler) HandleBuyNow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := h.auctions.BuyNow(c.Request.Context(), id, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// HandleMakeOffer opens an offer
func (h *AuctionHandler) HandleMakeOffer(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req MakeOfferRequest
	if !bind(c, &req) {
		return
	}
	a, offer, err := h.auctions.MakeOffer(c.Request.Context(), id, middleware.ActorFrom(c), req.Amount, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, OfferResponse{Auction: a, Offer: offer})
}

func (h *AuctionHandler) offerIDs(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	offerID, ok := pathID(c, "offerId")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return id, offerID, true
}

// HandleRespondToOffer applies the seller's reply
func (h *AuctionHandler) HandleRespondToOffer(c *gin.Context) {
	id, offerID, ok := h.offerIDs(c)
	if !ok {
		return
	}
	var req RespondToOfferRequest
	if !bind(c, &req) {
		return
	}
	a, err := h.auctions.RespondToOffer(c.Request.Context(), id, offerID, middleware.ActorFrom(c), auction.OfferResponse{
		Action:        auction.OfferAction(req.Action),
		CounterAmount: req.CounterAmount,
		Message:       req.Message,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// HandleCounterResponse applies the buyer's answer to a counter
func (h *AuctionHandler) HandleCounterResponse(c *gin.Context) {
	id, offerID, ok := h.offerIDs(c)
	if !ok {
		return
	}
	var req CounterResponseRequest
	if !bind(c, &req) {
		return
	}
	a, err := h.auctions.RespondToCounter(c.Request.Context(), id, offerID, middleware.ActorFrom(c), *req.Accept)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// HandleWithdrawOffer withdraws the caller's offer
func (h *AuctionHandler) HandleWithdrawOffer(c *gin.Context) {
	id, offerID, ok := h.offerIDs(c)
	if !ok {
		return
	}
	a, err := h.auctions.WithdrawOffer(c.Request.Context(), id, offerID, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// HandleReactivateOffer accepts a previously rejected offer
func (h *AuctionHandler) HandleReactivateOffer(c *gin.Context) {
	id, offerID, ok := h.offerIDs(c)
	if !ok {
		return
	}
	a, err := h.auctions.ReactivateOffer(c.Request.Context(), id, offerID, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// RegisterRoutes registers the handler's routes
func (h *AuctionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	auctions := rg.Group("/auctions")
	auctions.POST("", h.HandleCreate)
	auctions.GET("/:id", h.HandleGet)
	auctions.PATCH("/:id", h.HandleUpdate)
	auctions.DELETE("/:id", h.HandleDelete)
	auctions.POST("/:id/bids", h.HandlePlaceBid)
	auctions.POST("/:id/buy-now", h.HandleBuyNow)
	auctions.POST("/:id/offers", h.HandleMakeOffer)
	auctions.POST("/:id/offers/:offerId/respond", h.HandleRespondToOffer)
	auctions.POST("/:id/offers/:offerId/counter-response", h.HandleCounterResponse)
	auctions.POST("/:id/offers/:offerId/withdraw", h.HandleWithdrawOffer)
	auctions.POST("/:id/offers/:offerId/reactivate", h.HandleReactivateOffer)
}
