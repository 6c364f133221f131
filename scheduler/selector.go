package scheduler

import "visa-rebooker/client"

// Consider returns the better of best and the probed slot. A slot qualifies
// only when its date is strictly before booked, and replaces best only when
// it is also strictly earlier than best. Equal dates keep the first one seen.
// best is returned unchanged when the slot does not win.
func Consider(best *client.Candidate, loc client.Location, date client.Date, tm string, booked client.Date) *client.Candidate {
	if date.IsZero() || !date.Before(booked) {
		return best
	}
	if best != nil && !date.Before(best.Slot.Date) {
		return best
	}
	return &client.Candidate{
		Location: loc,
		Slot:     client.Slot{Date: date, Time: tm},
	}
}
