// Command otpauth authenticates test identities against an OTP-protected
// backend, inspects the OTP store and load-tests the authentication flow.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

const (
	exitError      = 1
	exitAuthFailed = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, errAuthFailed) {
		return exitAuthFailed
	}
	return exitError
}

var errAuthFailed = errors.New("authentication failed")
