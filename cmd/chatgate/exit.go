package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/hehbot/chatgate/internal/gateway"
)

// Process exit codes for terminal gateway errors.
const (
	exitFatal     = 2
	exitExhausted = 3
)

// exitError maps a run error to a cli.ExitCoder so the process exits with
// a status that tells operators what happened.
func exitError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateway.ErrFatal):
		return cli.Exit(fatalMessage(err), exitFatal)
	case errors.Is(err, gateway.ErrRetriesExhausted):
		return cli.Exit("gateway unreachable: "+err.Error(), exitExhausted)
	default:
		return err
	}
}

// fatalMessage names the close code when the server sent one. Most fatal
// codes point at session settings rather than the token.
func fatalMessage(err error) string {
	var closeErr *gateway.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Sprintf("gateway rejected session (close code %d), operator action required: %v", closeErr.Code, err)
	}
	return "gateway rejected session, operator action required: " + err.Error()
}
