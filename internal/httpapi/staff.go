package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func (handler *httpHandler) handleCreateSlot(ctx *gin.Context) {
	var request createSlotRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	date, err := booking.ParseDate(request.Date)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	timeOfDay, err := booking.ParseTimeOfDay(request.Time)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	slot, err := handler.service.Slots().Create(ctx.Request.Context(), date, timeOfDay, request.Capacity)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, newSlotPayload(slot))
}

func (handler *httpHandler) handleUpdateSlot(ctx *gin.Context) {
	key, err := booking.ParseSlotKey(ctx.Param("key"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	var request updateSlotRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	slot, err := handler.service.Slots().Update(ctx.Request.Context(), key, booking.SlotUpdate{
		Capacity:  request.Capacity,
		Available: request.Available,
	})
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newSlotPayload(slot))
}

func (handler *httpHandler) handleDeleteSlot(ctx *gin.Context) {
	key, err := booking.ParseSlotKey(ctx.Param("key"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	deleted, err := handler.service.Slots().Delete(ctx.Request.Context(), key)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (handler *httpHandler) handleSlotStats(ctx *gin.Context) {
	days := 0
	if raw := ctx.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(codeInvalidRequest, "days must be a non-negative integer"))
			return
		}
		days = parsed
	}
	stats, err := handler.service.Slots().Stats(ctx.Request.Context(), days)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newStatsPayload(stats))
}

func (handler *httpHandler) handleListAllProducts(ctx *gin.Context) {
	products, err := handler.service.Products().ListAll(ctx.Request.Context())
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"products": newProductPayloads(products)})
}

func (handler *httpHandler) handleCreateProduct(ctx *gin.Context) {
	var request productRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	update, err := request.toUpdate()
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	input := booking.NewProductInput{Active: update.Active}
	if update.Name != nil {
		input.Name = *update.Name
	}
	if update.Description != nil {
		input.Description = *update.Description
	}
	if update.ImageURL != nil {
		input.ImageURL = *update.ImageURL
	}
	if update.Price != nil {
		input.Price = *update.Price
	}
	if update.OrderStart != nil {
		input.OrderStart = *update.OrderStart
	}
	if update.OrderEnd != nil {
		input.OrderEnd = *update.OrderEnd
	}
	if update.MaxPerReservation != nil {
		input.MaxPerReservation = *update.MaxPerReservation
	}
	if update.MaxPerUser != nil {
		input.MaxPerUser = *update.MaxPerUser
	}
	if update.TotalOrderLimit != nil {
		input.TotalOrderLimit = *update.TotalOrderLimit
	}
	product, err := handler.service.Products().Create(ctx.Request.Context(), input)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, newProductPayload(product))
}

func (handler *httpHandler) handleUpdateProduct(ctx *gin.Context) {
	productID, err := booking.NewProductID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	var request productRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	update, err := request.toUpdate()
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	product, err := handler.service.Products().Update(ctx.Request.Context(), productID, update)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newProductPayload(product))
}

func (handler *httpHandler) handleDeactivateProduct(ctx *gin.Context) {
	productID, err := booking.NewProductID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	if err := handler.service.Products().Deactivate(ctx.Request.Context(), productID); err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) handleSearchReservations(ctx *gin.Context) {
	var query booking.ReservationQuery
	if raw := strings.TrimSpace(ctx.Query("number")); raw != "" {
		number, err := booking.NewReservationNumber(raw)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		query.Number = number
	}
	if raw := strings.TrimSpace(ctx.Query("email")); raw != "" {
		email, err := booking.NewEmail(raw)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		query.Email = email
	}
	if raw := ctx.Query("date"); raw != "" {
		date, err := booking.ParseDate(raw)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		query.VisitDate = date
	}
	if raw := ctx.Query("status"); raw != "" {
		status, err := booking.ParseReservationStatus(raw)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		query.Status = status
	}
	if raw := ctx.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(codeInvalidRequest, "limit must be an integer"))
			return
		}
		query.Limit = limit
	}
	query.Name = ctx.Query("name")
	reservations, err := handler.service.Search(ctx.Request.Context(), query)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reservations": newReservationPayloads(reservations)})
}

func (handler *httpHandler) handleCompleteReservation(ctx *gin.Context) {
	reservationID, err := booking.NewReservationID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	reservation, err := handler.service.Complete(ctx.Request.Context(), reservationID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newReservationPayload(reservation))
}

func (request productRequest) toUpdate() (booking.ProductUpdate, error) {
	update := booking.ProductUpdate{
		Name:              request.Name,
		Description:       request.Description,
		ImageURL:          request.ImageURL,
		OrderStart:        request.OrderStart,
		OrderEnd:          request.OrderEnd,
		MaxPerReservation: request.MaxPerReservation,
		MaxPerUser:        request.MaxPerUser,
		TotalOrderLimit:   request.TotalOrderLimit,
		Active:            request.Active,
	}
	if request.Price != nil {
		price, err := decimal.NewFromString(strings.TrimSpace(*request.Price))
		if err != nil {
			return booking.ProductUpdate{}, fmt.Errorf("%w: price %q is not a decimal", booking.ErrInvalidProduct, *request.Price)
		}
		update.Price = &price
	}
	return update, nil
}
