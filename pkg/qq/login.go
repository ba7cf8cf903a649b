// Copyright 2025-2026 spore.ink

package qq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ErrLoginCanceled is returned when the user cancels the QR login on
// their device. It terminates the whole authentication attempt; the state
// machine does not restart itself.
var ErrLoginCanceled = errors.New("qq login canceled by user")

// qrPollInterval is how long the login loop sleeps between status
// queries.
const qrPollInterval = 3 * time.Second

// QRLogin runs the challenge/confirmation login flow: fetch a QR
// challenge, write its image to qrPath for a human to scan, then poll the
// held signature until the challenge is confirmed. A timed-out challenge
// is discarded and a brand-new one fetched; its stale signature is never
// queried again. A confirmed challenge is exchanged for a session,
// completing the device-lock step if the network demands one.
func QRLogin(ctx context.Context, api LoginAPI, qrPath string, log zerolog.Logger) error {
	return qrLogin(ctx, api, qrPath, qrPollInterval, log)
}

func qrLogin(ctx context.Context, api LoginAPI, qrPath string, pollInterval time.Duration, log zerolog.Logger) error {
	status, err := api.FetchQRCode(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch login challenge: %w", err)
	}
	var signature []byte
	for {
		switch status.State {
		case QRStateImageFetch:
			signature = status.Signature
			if err := os.WriteFile(qrPath, status.ImageData, 0o644); err != nil {
				return fmt.Errorf("failed to write login QR code: %w", err)
			}
			log.Info().Str("path", qrPath).Msg("Wrote login QR code, scan it to continue")

		case QRStateTimeout:
			log.Warn().Msg("Login QR expired, fetching a new one")
			status, err = api.FetchQRCode(ctx)
			if err != nil {
				return fmt.Errorf("failed to fetch login challenge: %w", err)
			}
			// Skip the poll: the expired signature must not be queried.
			continue

		case QRStateConfirmed:
			result, err := api.QRCodeLogin(ctx, status.TmpPassword, status.TmpNoPicSig, status.TGTQR)
			if err != nil {
				return fmt.Errorf("failed to exchange confirmed QR for session: %w", err)
			}
			if result.DeviceLockRequired {
				result, err = api.DeviceLockLogin(ctx)
				if err != nil {
					return fmt.Errorf("device lock login failed: %w", err)
				}
			}
			if !result.Success {
				return fmt.Errorf("login rejected: %s", result.Message)
			}
			log.Info().Msg("QQ login confirmed")
			return nil

		case QRStateCanceled:
			return ErrLoginCanceled

		default:
			// Waiting for scan or confirmation, keep polling.
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
		status, err = api.QueryQRCodeStatus(ctx, signature)
		if err != nil {
			return fmt.Errorf("failed to query login challenge status: %w", err)
		}
	}
}
