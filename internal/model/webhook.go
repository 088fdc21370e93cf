package model

import "time"

// WebhookEndpoint is a client-registered callback URL plus the shared secret
// used to sign payloads delivered to it.
type WebhookEndpoint struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryInFlight  DeliveryStatus = "inflight"
	DeliveryRetrying  DeliveryStatus = "retrying"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// WebhookDelivery is one attempt series against one endpoint for one event.
// Terminal once delivered or attempts are exhausted.
type WebhookDelivery struct {
	ID             string         `json:"id"`
	ClientID       string         `json:"client_id"`
	EndpointID     string         `json:"endpoint_id"`
	URL            string         `json:"url"`
	EventType      string         `json:"event_type"`
	TransactionID  string         `json:"transaction_id,omitempty"`
	Payload        []byte         `json:"payload"`
	Signature      string         `json:"signature"`
	Status         DeliveryStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	LastStatusCode int            `json:"last_status_code,omitempty"`
	LastResponse   string         `json:"last_response,omitempty"`
	NextRetryAt    time.Time      `json:"next_retry_at"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
