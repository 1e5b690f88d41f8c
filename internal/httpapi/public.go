package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	"github.com/gin-gonic/gin"
)

func (handler *httpHandler) handleMonthView(ctx *gin.Context) {
	year, yearErr := strconv.Atoi(ctx.Query("year"))
	month, monthErr := strconv.Atoi(ctx.Query("month"))
	if yearErr != nil || monthErr != nil {
		handler.writeError(ctx, fmt.Errorf("%w: year and month are required", booking.ErrInvalidMonth))
		return
	}
	view, err := handler.service.Calendar().MonthView(ctx.Request.Context(), year, time.Month(month))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newMonthPayload(view))
}

func (handler *httpHandler) handleListSlots(ctx *gin.Context) {
	requestCtx := ctx.Request.Context()
	if rawDate := ctx.Query("date"); rawDate != "" {
		date, err := booking.ParseDate(rawDate)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		slots, err := handler.service.Slots().ListByDate(requestCtx, date)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"timeslots": newSlotPayloads(slots)})
		return
	}
	rawStart, rawEnd := ctx.Query("start_date"), ctx.Query("end_date")
	if rawStart == "" || rawEnd == "" {
		handler.writeError(ctx, fmt.Errorf("%w: date or start_date and end_date are required", booking.ErrInvalidRange))
		return
	}
	start, err := booking.ParseDate(rawStart)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	end, err := booking.ParseDate(rawEnd)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	slots, err := handler.service.Slots().ListByRange(requestCtx, start, end)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"timeslots": newSlotPayloads(slots)})
}

func (handler *httpHandler) handleGetSlot(ctx *gin.Context) {
	key, err := booking.ParseSlotKey(ctx.Param("key"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	slot, err := handler.service.Slots().Get(ctx.Request.Context(), key)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newSlotPayload(slot))
}

func (handler *httpHandler) handleListActiveProducts(ctx *gin.Context) {
	products, err := handler.service.Products().ListActive(ctx.Request.Context())
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"products": newProductPayloads(products)})
}

func (handler *httpHandler) handleGetProduct(ctx *gin.Context) {
	productID, err := booking.NewProductID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	product, err := handler.service.Products().Get(ctx.Request.Context(), productID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newProductPayload(product))
}

func (handler *httpHandler) handleProductAvailability(ctx *gin.Context) {
	productID, err := booking.NewProductID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	availability, err := handler.service.Products().Availability(ctx.Request.Context(), productID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, availabilityPayload(availability))
}

func (handler *httpHandler) handleCreateReservation(ctx *gin.Context) {
	var request createReservationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	customer, err := booking.NewCustomer(request.Email, request.Name, request.Phone)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	visitDate, err := booking.ParseDate(request.VisitDate)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	visitTime, err := booking.ParseTimeOfDay(request.VisitTime)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	items, err := parseLineItems(request.Items)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	reservation, err := handler.service.Create(ctx.Request.Context(), booking.CreateReservationRequest{
		Customer:  customer,
		VisitDate: visitDate,
		VisitTime: visitTime,
		Items:     items,
	})
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, newReservationPayload(reservation))
}

func (handler *httpHandler) handleGetReservation(ctx *gin.Context) {
	reservationID, err := booking.NewReservationID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	reservation, err := handler.service.Get(ctx.Request.Context(), reservationID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	handler.respondWithDetails(ctx, reservation)
}

func (handler *httpHandler) handleGetReservationByNumber(ctx *gin.Context) {
	number, err := booking.NewReservationNumber(ctx.Param("number"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	reservation, err := handler.service.GetByNumber(ctx.Request.Context(), number)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	handler.respondWithDetails(ctx, reservation)
}

func (handler *httpHandler) handleRescheduleReservation(ctx *gin.Context) {
	reservationID, err := booking.NewReservationID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	var request rescheduleRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	var change booking.RescheduleRequest
	if request.VisitDate != nil {
		visitDate, err := booking.ParseDate(*request.VisitDate)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		change.VisitDate = &visitDate
	}
	if request.VisitTime != nil {
		visitTime, err := booking.ParseTimeOfDay(*request.VisitTime)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		change.VisitTime = &visitTime
	}
	if request.Items != nil {
		items, err := parseLineItems(*request.Items)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		change.Items = items
		change.ReplaceItems = true
	}
	reservation, err := handler.service.Reschedule(ctx.Request.Context(), reservationID, change)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newReservationPayload(reservation))
}

func (handler *httpHandler) handleCancelReservation(ctx *gin.Context) {
	reservationID, err := booking.NewReservationID(ctx.Param("id"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	reservation, err := handler.service.Cancel(ctx.Request.Context(), reservationID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newReservationPayload(reservation))
}

func (handler *httpHandler) handleMyReservations(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "missing session"))
		return
	}
	email, err := booking.NewEmail(claims.GetUserEmail())
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	reservations, err := handler.service.ListByEmail(ctx.Request.Context(), email)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reservations": newReservationPayloads(reservations)})
}

func (handler *httpHandler) respondWithDetails(ctx *gin.Context, reservation booking.Reservation) {
	details, err := handler.service.Details(ctx.Request.Context(), reservation)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newDetailsPayload(details))
}
