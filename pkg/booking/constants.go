package booking

// Operation names reported through OperationLog.
const (
	OperationCreateSlot            = "slot.create"
	OperationUpdateSlot            = "slot.update"
	OperationDeleteSlot            = "slot.delete"
	OperationReserveSlot           = "slot.try_reserve"
	OperationReleaseSlot           = "slot.release"
	OperationCreateProduct         = "product.create"
	OperationUpdateProduct         = "product.update"
	OperationDeactivateProduct     = "product.deactivate"
	OperationAllocateProducts      = "product.try_allocate"
	OperationReleaseProducts       = "product.release"
	OperationCreateReservation     = "reservation.create"
	OperationRescheduleReservation = "reservation.reschedule"
	OperationCancelReservation     = "reservation.cancel"
	OperationCompleteReservation   = "reservation.complete"
	OperationCompensate            = "reservation.compensate"

	OperationStatusOK    = "ok"
	OperationStatusError = "error"
)

const (
	defaultMaxPerReservation  = 10
	defaultMaxPerUser         = 5
	defaultSearchLimit        = 100
	maxSearchLimit            = 1000
	defaultStatsHorizonDays   = 30
	maxRangeDays              = 366
	reservationNumberAttempts = 5
	rescheduleLeadDays        = 1
	limitedSlotThreshold      = 2
	unknownProductName        = "unknown product"
	errorOperationService     = "service"
	errorSubjectReservation   = "reservation"
	errorCodeCompensation     = "compensation"
)
