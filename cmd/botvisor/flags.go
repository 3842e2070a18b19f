package main

import "time"

// ClientFlags Flag structs to decouple cobra from logic for testing.
type ClientFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	// QROut writes the decoded QR image to this file when one is pending.
	QROut string
}

type ServeFlags struct {
	ConfigPath string
	Listen     string // overrides server.listen
}
