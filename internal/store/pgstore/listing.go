package pgstore

import (
	"strings"

	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	"github.com/Masterminds/squirrel"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// likeEscaper makes wildcard characters in a search term match literally.
// Backslash is the default ILIKE escape character in PostgreSQL.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func slotListQuery(filter booking.SlotFilter) (string, []any, error) {
	builder := psql.Select(slotColumns).From("time_slots")
	switch {
	case !filter.Date.IsZero():
		builder = builder.Where(squirrel.Eq{"visit_date": filter.Date.String()})
	default:
		if !filter.From.IsZero() {
			builder = builder.Where(squirrel.GtOrEq{"visit_date": filter.From.String()})
		}
		if !filter.To.IsZero() {
			builder = builder.Where(squirrel.LtOrEq{"visit_date": filter.To.String()})
		}
	}
	return builder.OrderBy("visit_date ASC", "visit_time ASC").ToSql()
}

func productListQuery(filter booking.ProductFilter) (string, []any, error) {
	builder := psql.Select(productColumns).From("products")
	if filter.ActiveOnly {
		builder = builder.Where(squirrel.Eq{"active": true})
	}
	return builder.OrderBy("created_at DESC").ToSql()
}

func reservationListQuery(filter booking.ReservationFilter) (string, []any, error) {
	builder := psql.Select(reservationColumns).From("reservations")
	if !filter.Email.IsZero() {
		builder = builder.Where(squirrel.Eq{"email": filter.Email.String()})
	}
	if filter.Number.String() != "" {
		builder = builder.Where(squirrel.Eq{"reservation_number": filter.Number.String()})
	}
	if filter.Name != "" {
		builder = builder.Where(squirrel.ILike{"customer_name": "%" + likeEscaper.Replace(filter.Name) + "%"})
	}
	if !filter.VisitDate.IsZero() {
		builder = builder.Where(squirrel.Eq{"visit_date": filter.VisitDate.String()})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, status.String())
		}
		builder = builder.Where(squirrel.Eq{"status": statuses})
	}
	builder = builder.OrderBy("created_at DESC")
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	return builder.ToSql()
}
