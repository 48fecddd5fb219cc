package helpers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sync"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators adds the custom binding tags to gin's validator
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			utils.Warn("helpers: gin validator engine is not go-playground/validator", nil)
			return
		}
		if err := v.RegisterValidation("money", validateMoney); err != nil {
			utils.Error("helpers: failed to register money validator", map[string]any{"error": err.Error()})
		}
	})
}

// validateMoney accepts strictly positive amounts up to model.MaxAmount
func validateMoney(fl validator.FieldLevel) bool {
	f := fl.Field()
	switch f.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return f.Int() > 0 && f.Int() <= int64(model.MaxAmount)
	}
	return false
}

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusBadRequest, "invalid auction details"
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrAuctionNotLive):
		return http.StatusConflict, "auction is not live"
	case errors.Is(err, biddingerrors.ErrAlreadyHighestBidder):
		return http.StatusConflict, "bidder already holds the highest bid"
	case errors.Is(err, biddingerrors.ErrInvalidTransition):
		return http.StatusConflict, "transition not allowed in current status"
	case errors.Is(err, biddingerrors.ErrNoBids):
		return http.StatusOK, "no bids found for auction"
	case errors.Is(err, biddingerrors.ErrUserNoBids):
		return http.StatusOK, "no auctions found for user"
	case errors.Is(err, biddingerrors.ErrEngineClosed):
		return http.StatusServiceUnavailable, "bidding engine is shutting down"
	case errors.Is(err, biddingerrors.ErrAuctionFaulted):
		return http.StatusInternalServerError, "auction is unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// MapRejection maps a rejected bid to an HTTP status, message and error
func MapRejection(reason model.RejectReason) (int, string, error) {
	err := reason.Err()
	if err == nil {
		return http.StatusConflict, "bid rejected", fmt.Errorf("bid rejected: %s", reason)
	}
	status, message := MapErrorToHTTP(err)
	return status, message, err
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
