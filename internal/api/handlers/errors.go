package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auctions/internal/auction"
	"example.com/backstage/services/auctions/internal/search"
	"example.com/backstage/services/auctions/internal/utils"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Minimum int64  `json:"minimum,omitempty"`
}

func statusFor(kind auction.Kind) int {
	switch kind {
	case auction.KindValidation:
		return http.StatusUnprocessableEntity
	case auction.KindConflict:
		return http.StatusConflict
	case auction.KindNotFound:
		return http.StatusNotFound
	case auction.KindForbidden:
		return http.StatusForbidden
	case auction.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError maps domain errors to HTTP statuses; anything else is a 500
func respondError(c *gin.Context, err error) {
	var domainErr *auction.Error
	if errors.As(err, &domainErr) {
		c.JSON(statusFor(domainErr.Kind), ErrorResponse{
			Error:   domainErr.Code,
			Message: domainErr.Message,
			Minimum: domainErr.Minimum,
		})
		return
	}
	if errors.Is(err, search.ErrDisabled) {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "search_disabled", Message: err.Error()})
		return
	}

	log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "internal server error"})
}

func respondInvalid(c *gin.Context, err error) {
	c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "validation_failed", Message: utils.ValidationMessage(err)})
}

// bind decodes the JSON body into req and runs its validate tags
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: err.Error()})
		return false
	}
	if err := utils.ValidateStruct(req); err != nil {
		respondInvalid(c, err)
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "bad_request", Message: name + " must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}
