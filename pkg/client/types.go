package client

import (
	"fmt"
	"time"
)

// Status is the reconciled worker status returned by GET {base}/status.
type Status struct {
	Status      string     `json:"status"`
	QRCode      []byte     `json:"qr_code"`
	PhoneNumber *string    `json:"phone_number"`
	BotType     *string    `json:"bot_type"`
	IsRunning   bool       `json:"is_running"`
	PID         int        `json:"pid,omitempty"`
	LastUpdate  *time.Time `json:"last_update,omitempty"`
}

// Result is the outcome of start, stop, restart and clear-qr.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	PID     int    `json:"pid,omitempty"`
}

// DisconnectResult lists what a disconnect removed.
type DisconnectResult struct {
	Success bool     `json:"success"`
	Removed []string `json:"removed"`
	Message string   `json:"message"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string   `json:"error"`
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	PID     int      `json:"pid,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// APIError is returned for any non-200 response.
type APIError struct {
	StatusCode int
	Message    string
	// Result is the partial outcome of a failed start, stop, restart or clear-qr;
	// Success is true when e.g. the worker was stopped but cleanup failed.
	Result Result
	// Removed is set by a failed disconnect and lists what was deleted before the failure.
	Removed []string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}
