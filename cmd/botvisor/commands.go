package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/loykin/botvisor/pkg/client"
)

// lifecycleOp is one of the client's result-returning calls, e.g. (*client.Client).Start.
type lifecycleOp func(*client.Client, context.Context) (client.Result, error)

type command struct {
	out io.Writer
}

func (c command) client(f ClientFlags) *client.Client {
	return client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
}

// Status prints the reconciled status and optionally saves a pending QR code.
func (c command) Status(ctx context.Context, cf ClientFlags, f StatusFlags) error {
	st, err := c.client(cf).Status(ctx)
	if err != nil {
		return apiError(cf, err)
	}
	view := newStatusView(st)
	if f.QROut != "" && len(st.QRCode) > 0 {
		path, err := writeQR(f.QROut, st.QRCode)
		if err != nil {
			return err
		}
		view.QRFile = path
	}
	printJSON(c.out, view)
	return nil
}

// Run executes a start, stop, restart or clear-qr call and prints its result.
// A success=false result is not an error. A failed call that still did part
// of its work (a stop whose cleanup failed) prints that result too.
func (c command) Run(ctx context.Context, cf ClientFlags, op lifecycleOp) error {
	res, err := op(c.client(cf), ctx)
	if err != nil {
		if res.Success {
			printJSON(c.out, res)
		}
		return apiError(cf, err)
	}
	printJSON(c.out, res)
	return nil
}

// Disconnect prints what was removed, also when the purge failed.
func (c command) Disconnect(ctx context.Context, cf ClientFlags) error {
	res, err := c.client(cf).Disconnect(ctx)
	if err != nil {
		if len(res.Removed) > 0 {
			printJSON(c.out, res)
		}
		return apiError(cf, err)
	}
	printJSON(c.out, res)
	return nil
}

// apiError adds a hint when the server could not be reached at all.
func apiError(cf ClientFlags, err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("botvisor server not reachable at %s - start it with 'botvisor serve': %w", cf.APIUrl, err)
}
