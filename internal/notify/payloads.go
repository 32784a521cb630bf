// ABOUTME: Domain payloads carried by chat and reservation notifications
// ABOUTME: Struct tags drive JSON encoding and request validation

package notify

import "time"

// Reservation statuses
const (
	ReservationPending   = "PENDING"
	ReservationConfirmed = "CONFIRMED"
	ReservationRejected  = "REJECTED"
	ReservationCancelled = "CANCELLED"
	ReservationCompleted = "COMPLETED"
)

// ChatMessage is the payload of a NEW_MESSAGE event.
type ChatMessage struct {
	ID          string    `json:"id" validate:"required"`
	VehicleID   string    `json:"vehicleId" validate:"required"`
	SenderID    string    `json:"senderId" validate:"required"`
	SenderRole  string    `json:"senderRole" validate:"required,oneof=admin user"`
	RecipientID string    `json:"recipientId,omitempty"`
	Content     string    `json:"content" validate:"required,max=4000"`
	CreatedAt   time.Time `json:"createdAt"`
}

// VehicleRef identifies the vehicle a reservation is for.
type VehicleRef struct {
	ID    string `json:"id" validate:"required"`
	Brand string `json:"brand"`
	Model string `json:"model"`
}

// CustomerRef identifies who made a reservation.
type CustomerRef struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
}

// Reservation is the payload of a NEW_RESERVATION event.
type Reservation struct {
	ID         string      `json:"id" validate:"required"`
	Vehicle    VehicleRef  `json:"vehicle"`
	Customer   CustomerRef `json:"customer"`
	StartDate  time.Time   `json:"startDate"`
	EndDate    time.Time   `json:"endDate" validate:"gtefield=StartDate"`
	TotalPrice float64     `json:"totalPrice" validate:"gte=0"`
	Status     string      `json:"status" validate:"omitempty,oneof=PENDING CONFIRMED REJECTED CANCELLED COMPLETED"`
}

// ReservationStatusChange is the payload of a RESERVATION_STATUS_CHANGED event.
type ReservationStatusChange struct {
	ID             string `json:"id" validate:"required"`
	VehicleID      string `json:"vehicleId" validate:"required"`
	CustomerID     string `json:"customerId" validate:"required"`
	PreviousStatus string `json:"previousStatus,omitempty" validate:"omitempty,oneof=PENDING CONFIRMED REJECTED CANCELLED COMPLETED"`
	Status         string `json:"status" validate:"required,oneof=PENDING CONFIRMED REJECTED CANCELLED COMPLETED"`
}
