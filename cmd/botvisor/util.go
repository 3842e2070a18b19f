package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/botvisor/pkg/client"
)

// statusView is what `botvisor status` prints: the QR image is reported by
// size instead of dumping base64 into the terminal.
type statusView struct {
	Status      string     `json:"status"`
	IsRunning   bool       `json:"is_running"`
	PID         int        `json:"pid,omitempty"`
	PhoneNumber *string    `json:"phone_number,omitempty"`
	BotType     *string    `json:"bot_type,omitempty"`
	LastUpdate  *time.Time `json:"last_update,omitempty"`
	QRBytes     int        `json:"qr_bytes,omitempty"`
	QRFile      string     `json:"qr_file,omitempty"`
}

func newStatusView(st client.Status) statusView {
	return statusView{
		Status:      st.Status,
		IsRunning:   st.IsRunning,
		PID:         st.PID,
		PhoneNumber: st.PhoneNumber,
		BotType:     st.BotType,
		LastUpdate:  st.LastUpdate,
		QRBytes:     len(st.QRCode),
	}
}

// writeQR saves the PNG and returns the absolute path written.
func writeQR(path string, png []byte) (string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(clean, png, 0o600); err != nil {
		return "", fmt.Errorf("write QR code: %w", err)
	}
	return clean, nil
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}
