package model

import "time"

// -----------------------------------------------------------------------------
// Entity bodies
// -----------------------------------------------------------------------------

// Vehicle is a lot on auction or in the customer's purchase pipeline.
type Vehicle struct {
	ID           ID        `json:"id"`
	VIN          string    `json:"vin"`
	Make         string    `json:"make"`
	Model        string    `json:"model"`
	Year         int       `json:"year"`
	LotNumber    string    `json:"lotNumber,omitempty"`
	AuctionHouse string    `json:"auctionHouse,omitempty"`
	Status       string    `json:"status"`
	Price        float64   `json:"price"`
	Currency     string    `json:"currency,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// Bid is a customer bid on a vehicle.
type Bid struct {
	ID        ID        `json:"id"`
	VehicleID ID        `json:"vehicleId"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency,omitempty"`
	Status    string    `json:"status"`
	PlacedAt  time.Time `json:"placedAt"`
}

// Inspection is a third-party inspection report attached to a vehicle.
type Inspection struct {
	ID        ID     `json:"id"`
	VehicleID ID     `json:"vehicleId"`
	Grade     string `json:"grade"`
	Status    string `json:"status"`
	ReportURL string `json:"reportUrl,omitempty"`
}

// Translation is a translated auction sheet.
type Translation struct {
	ID        ID     `json:"id"`
	VehicleID ID     `json:"vehicleId"`
	Language  string `json:"language"`
	Status    string `json:"status"`
	Text      string `json:"text,omitempty"`
}

// Timeline is the shipment timeline of a vehicle. It has no push
// coverage and is kept current by polling.
type Timeline struct {
	VehicleID ID              `json:"vehicleId"`
	Events    []TimelineEvent `json:"events"`
}

// TimelineEvent is one step of a shipment.
type TimelineEvent struct {
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	Location   string    `json:"location,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Latest returns the most recent timeline event, if any.
func (t Timeline) Latest() (TimelineEvent, bool) {
	if len(t.Events) == 0 {
		return TimelineEvent{}, false
	}
	latest := t.Events[0]
	for _, ev := range t.Events[1:] {
		if ev.OccurredAt.After(latest.OccurredAt) {
			latest = ev
		}
	}
	return latest, true
}

// -----------------------------------------------------------------------------
// Event payloads
// -----------------------------------------------------------------------------

// PriceUpdate is the payload of price:update.
type PriceUpdate struct {
	VehicleID ID      `json:"vehicleId"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency,omitempty"`
}

// Notification is the payload of notification events.
type Notification struct {
	ID      ID     `json:"id"`
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}
