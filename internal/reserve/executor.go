// Package reserve fires the actual booking call and manages existing
// bookings. The executor makes exactly one attempt: the remote endpoint
// is not idempotent, and a blind retry can double-book or burn the seat.
package reserve

import (
	"context"
	"errors"
	"time"

	"busbot/internal/discovery"
	"busbot/internal/fault"
	"busbot/internal/remote"
	"busbot/pkg/logx"
)

// Ticket is a successful booking plus how long the remote took to grant
// it. The duration matters: it is the number tuned against the operator's
// opening-second contention.
type Ticket struct {
	Confirmation remote.Confirmation
	SeatNo       int
	Took         time.Duration
}

// Execute books the given seat on the discovered trip. One attempt, no
// retry. A remote refusal is classified ReservationRejected with the
// operator's message kept verbatim.
func Execute(ctx context.Context, sess *remote.Session, d discovery.Result, seatNo int, log logx.Logger) (Ticket, error) {
	req := remote.ReserveRequest{
		BusSeq:  d.Trip.Seq,
		LineSeq: d.Route.Seq,
		StopSeq: d.Stop.Seq,
		SeatNo:  seatNo,
	}

	start := time.Now()
	conf, err := sess.Reserve(ctx, req)
	took := time.Since(start)
	if err != nil {
		var se *remote.ServerError
		if errors.As(err, &se) {
			return Ticket{}, fault.New(fault.ReservationRejected, se.Message)
		}
		return Ticket{}, err
	}

	log.Info("seat reserved",
		logx.String("confirmation", conf.ID),
		logx.String("route", d.Route.Name),
		logx.String("departure", d.Trip.OperateTime),
		logx.Int("seat", seatNo),
		logx.Duration("took", took),
	)
	return Ticket{Confirmation: conf, SeatNo: seatNo, Took: took}, nil
}

// List returns the account's current bookings.
func List(ctx context.Context, sess *remote.Session) ([]remote.Reservation, error) {
	rsvs, err := sess.Reservations(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return rsvs, nil
}

// Cancel revokes one booking.
func Cancel(ctx context.Context, sess *remote.Session, rsv remote.Reservation) error {
	return classify(sess.Cancel(ctx, rsv))
}

// CancelAll revokes every current booking, stopping at the first failure.
func CancelAll(ctx context.Context, sess *remote.Session, log logx.Logger) (int, error) {
	rsvs, err := List(ctx, sess)
	if err != nil {
		return 0, err
	}
	for i, rsv := range rsvs {
		if err := Cancel(ctx, sess, rsv); err != nil {
			return i, err
		}
		log.Info("reservation cancelled",
			logx.Int64("seq", rsv.Seq),
			logx.String("route", rsv.RouteName),
			logx.Int("seat", rsv.SeatNo),
		)
	}
	return len(rsvs), nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *remote.ServerError
	if errors.As(err, &se) {
		return fault.New(fault.ReservationRejected, se.Message)
	}
	return err
}
