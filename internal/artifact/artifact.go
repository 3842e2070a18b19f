// Package artifact reads the files the worker publishes about itself: a small
// JSON status document and the QR image awaiting a scan. It is a one-way
// channel from worker to supervisor; the supervisor only ever deletes them.
package artifact

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/tidwall/gjson"
)

// State is the connection state reported by the worker.
type State string

const (
	StateConnecting   State = "connecting"
	StateQRPending    State = "qr_pending"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

func (s State) Known() bool {
	switch s {
	case StateConnecting, StateQRPending, StateConnected, StateDisconnected:
		return true
	}
	return false
}

// Document is the worker's status file.
type Document struct {
	Status      State     `json:"status"`
	PhoneNumber *string   `json:"phone_number"`
	BotType     *string   `json:"bot_type"`
	LastUpdate  time.Time `json:"last_update,omitempty"`
}

// Store gives access to the status document and QR image paths.
type Store struct {
	statusPath string
	qrPath     string
	logger     *slog.Logger
}

func New(statusPath, qrPath string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{statusPath: statusPath, qrPath: qrPath, logger: logger}
}

func (s *Store) StatusPath() string { return s.statusPath }
func (s *Store) QRPath() string     { return s.qrPath }

// ReadStatus returns the status document. A missing, unreadable or malformed
// document is reported as absent; the worker may be in the middle of a write.
func (s *Store) ReadStatus() (Document, bool) {
	b, err := os.ReadFile(s.statusPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("read worker status", slog.String("path", s.statusPath), slog.Any("error", err))
		}
		return Document{}, false
	}
	if !gjson.ValidBytes(b) {
		s.logger.Debug("worker status is not valid JSON", slog.String("path", s.statusPath), slog.Int("bytes", len(b)))
		return Document{}, false
	}
	res := gjson.ParseBytes(b)
	if !res.IsObject() {
		return Document{}, false
	}
	doc := Document{Status: State(res.Get("status").String())}
	if !doc.Status.Known() {
		s.logger.Debug("worker status has unknown state", slog.String("status", string(doc.Status)))
		return Document{}, false
	}
	doc.PhoneNumber = optString(res.Get("phone_number"))
	doc.BotType = optString(res.Get("bot_type"))
	if ts := res.Get("last_update"); ts.Type == gjson.String {
		if t, err := time.Parse(time.RFC3339Nano, ts.Str); err == nil {
			doc.LastUpdate = t
		}
	}
	return doc, true
}

func optString(r gjson.Result) *string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	v := r.String()
	if v == "" {
		return nil
	}
	return &v
}

// ReadQR returns the QR image bytes, or false when there is none.
func (s *Store) ReadQR() ([]byte, bool) {
	b, err := os.ReadFile(s.qrPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("read qr image", slog.String("path", s.qrPath), slog.Any("error", err))
		}
		return nil, false
	}
	if len(b) == 0 {
		return nil, false
	}
	return b, true
}

// RemoveQR deletes the QR image if present and reports whether it existed.
func (s *Store) RemoveQR() (bool, error) { return removeIfExists(s.qrPath) }

// RemoveStatus deletes the status document if present.
func (s *Store) RemoveStatus() (bool, error) { return removeIfExists(s.statusPath) }

// Purged tells which artifacts a Purge actually removed.
type Purged struct {
	QR     bool
	Status bool
}

// Purge removes both artifacts. Both removals are attempted even if the
// first fails; the returned error joins any failures.
func (s *Store) Purge() (Purged, error) {
	var p Purged
	var errQR, errStatus error
	p.QR, errQR = s.RemoveQR()
	p.Status, errStatus = s.RemoveStatus()
	return p, errors.Join(errQR, errStatus)
}

func removeIfExists(path string) (bool, error) {
	err := os.Remove(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
