package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/eboxsecure/ebox/core/device"
	"github.com/eboxsecure/ebox/core/pickup"
	"github.com/spf13/cobra"
)

// ---- Offline Key Commands ----

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh base64 pickup secret",
		Long:  `keygen prints a random 32 byte key, base64 encoded, for the PICKUP_SECRET setting.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := generateSecret(rand.Reader)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}

func generateSecret(r io.Reader) (string, error) {
	key := make([]byte, pickup.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func deviceTokenCmd() *cobra.Command {
	var (
		location string
		key      string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "device-token <device-id>",
		Short: "Mint a credential for a handoff device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv("DEVICE_SIGNING_KEY")
			}
			token, err := mintDeviceToken([]byte(key), ttl, args[0], location)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&location, "location", "", "location the device is installed at")
	fs.StringVar(&key, "key", "", "device signing key (default: $DEVICE_SIGNING_KEY)")
	fs.DurationVar(&ttl, "ttl", 30*24*time.Hour, "credential lifetime")
	cmd.MarkFlagRequired("location")
	return cmd
}

func mintDeviceToken(key []byte, ttl time.Duration, deviceID, locationID string) (string, error) {
	auth, err := device.NewAuthenticator(key, ttl)
	if err != nil {
		return "", err
	}
	return auth.Issue(deviceID, locationID)
}

func inspectCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "inspect <token>",
		Short: "Decrypt a pickup token and print its claims",
		Long: `inspect opens a pickup token with the shared secret and prints the session,
order and validity window it carries. It does not check the session or the
order ownership.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv(pickup.SecretSetting)
			}
			cl, err := inspectToken(args[0], secret, time.Now())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "session:  %s\n", cl.SessionID)
			fmt.Fprintf(w, "order:    %d\n", cl.OrderID)
			fmt.Fprintf(w, "token id: %s\n", cl.TokenID)
			fmt.Fprintf(w, "issued:   %s\n", cl.IssuedAt.UTC().Format(time.RFC3339))
			fmt.Fprintf(w, "expires:  %s\n", cl.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "base64 pickup secret (default: $PICKUP_SECRET)")
	return cmd
}

func inspectToken(raw, secret string, now time.Time) (*pickup.Claims, error) {
	key, err := pickup.DecodeSecret(secret)
	if err != nil {
		return nil, err
	}
	codec, err := pickup.NewCodec(key, pickup.DefaultEnvelope)
	if err != nil {
		return nil, err
	}
	return codec.Open(raw, now)
}
