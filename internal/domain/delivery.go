package domain

// DeliveryInfo carries recipient and address data from delivery capture to order creation.
type DeliveryInfo struct {
	CustomerName         string  `json:"customer_name" validate:"required"`
	PhoneNumber          string  `json:"phone_number" validate:"required,phone"`
	Email                string  `json:"email,omitempty" validate:"omitempty,email"`
	Address              string  `json:"address" validate:"required"`
	City                 string  `json:"city" validate:"required"`
	State                string  `json:"state" validate:"required"`
	ZipCode              string  `json:"zip_code" validate:"required"`
	Latitude             float64 `json:"latitude" validate:"required,finite"`
	Longitude            float64 `json:"longitude" validate:"required,finite"`
	DeliveryInstructions string  `json:"delivery_instructions,omitempty"`
}
