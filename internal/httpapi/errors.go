package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidPayload   = "invalid_payload"
	codeInvalidRequest   = "invalid_request"
	codeNotFound         = "not_found"
	codeAlreadyExists    = "already_exists"
	codeSlotFull         = "slot_full"
	codeSlotUnavailable  = "slot_unavailable"
	codeSlotInUse        = "slot_in_use"
	codeLimitExceeded    = "limit_exceeded"
	codeProductInactive  = "product_inactive"
	codeImmutable        = "immutable"
	codeTooLate          = "too_late"
	codeAlreadyCancelled = "already_cancelled"
	codeAlreadyCompleted = "already_completed"
	codeConflict         = "conflict"
	codeStoreUnavailable = "store_unavailable"
	codeUnauthorized     = "unauthorized"
	codeForbidden        = "forbidden"
	codeRateLimited      = "too_many_requests"
	codeInternal         = "internal_error"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{booking.ErrStoreUnavailable, http.StatusServiceUnavailable, codeStoreUnavailable},
	{booking.ErrUnknownSlot, http.StatusNotFound, codeNotFound},
	{booking.ErrUnknownProduct, http.StatusNotFound, codeNotFound},
	{booking.ErrUnknownReservation, http.StatusNotFound, codeNotFound},
	{booking.ErrSlotExists, http.StatusConflict, codeAlreadyExists},
	{booking.ErrProductExists, http.StatusConflict, codeAlreadyExists},
	{booking.ErrReservationExists, http.StatusConflict, codeAlreadyExists},
	{booking.ErrReservationNumberTaken, http.StatusConflict, codeAlreadyExists},
	{booking.ErrSlotFull, http.StatusConflict, codeSlotFull},
	{booking.ErrSlotUnavailable, http.StatusConflict, codeSlotUnavailable},
	{booking.ErrSlotInUse, http.StatusConflict, codeSlotInUse},
	{booking.ErrLimitExceeded, http.StatusUnprocessableEntity, codeLimitExceeded},
	{booking.ErrProductInactive, http.StatusUnprocessableEntity, codeProductInactive},
	{booking.ErrImmutable, http.StatusConflict, codeImmutable},
	{booking.ErrTooLate, http.StatusUnprocessableEntity, codeTooLate},
	{booking.ErrAlreadyCancelled, http.StatusConflict, codeAlreadyCancelled},
	{booking.ErrAlreadyCompleted, http.StatusConflict, codeAlreadyCompleted},
	{booking.ErrConflict, http.StatusConflict, codeConflict},
}

var validationErrors = []error{
	booking.ErrInvalidDate,
	booking.ErrInvalidTimeOfDay,
	booking.ErrInvalidSlotKey,
	booking.ErrInvalidCapacity,
	booking.ErrInvalidProductID,
	booking.ErrInvalidProduct,
	booking.ErrInvalidReservationID,
	booking.ErrInvalidReservationNumber,
	booking.ErrInvalidReservationStatus,
	booking.ErrInvalidEmail,
	booking.ErrInvalidCustomer,
	booking.ErrInvalidQuantity,
	booking.ErrInvalidMonth,
	booking.ErrInvalidRange,
}

// classifyError maps an engine error onto an HTTP status and a stable code.
func classifyError(err error) (int, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code
		}
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest, codeInvalidRequest
		}
	}
	return http.StatusInternalServerError, codeInternal
}

func (handler *httpHandler) writeError(ctx *gin.Context, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	response := errorResponse(code, message)
	if reasons := booking.LimitReasons(err); len(reasons) > 0 {
		response["error"].(gin.H)["reasons"] = reasons
	}
	ctx.AbortWithStatusJSON(status, response)
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
