package main

import (
	"fmt"

	otpauth "github.com/MrEthical07/otpauth"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type loginOptions struct {
	clientID  string
	deviceID  string
	parallel  int
	cleanup   bool
	showToken bool
}

type loginRow struct {
	Identity    string `json:"identity"`
	Success     bool   `json:"success"`
	OTPSource   string `json:"otp_source,omitempty"`
	Message     string `json:"message"`
	AccessToken string `json:"access_token,omitempty"`
	Cookie      string `json:"cookie,omitempty"`
	Shared      bool   `json:"shared,omitempty"`
}

func newLoginCmd(root *rootOptions) *cobra.Command {
	opts := &loginOptions{}
	cmd := &cobra.Command{
		Use:   "login IDENTITY...",
		Short: "Authenticate identities and print their sessions",
		Long: `login runs one OTP authentication per identity. Identities containing "@"
use the email flow, everything else the phone flow.

The command exits with status 3 when any identity fails to authenticate.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := root.engine(cmd, func(c *otpauth.Config) {
				if opts.cleanup {
					c.RateLimit.CleanupBeforeAuth = true
				}
			})
			if err != nil {
				return err
			}
			defer engine.Close()

			results := make([]*otpauth.AuthResult, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(opts.parallel, 1))
			for i, id := range args {
				g.Go(func() error {
					res, err := engine.Authenticate(ctx, id, opts.clientID, opts.deviceID)
					if err != nil {
						return err
					}
					results[i] = res
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			rows := make([]loginRow, 0, len(results))
			failed := 0
			for _, res := range results {
				if !res.Success {
					failed++
				}
				tok := res.AccessToken
				if !opts.showToken {
					tok = maskToken(tok)
				}
				rows = append(rows, loginRow{
					Identity:    res.Identity,
					Success:     res.Success,
					OTPSource:   string(res.OTPSource),
					Message:     res.Message,
					AccessToken: tok,
					Cookie:      res.Cookie,
					Shared:      res.Shared,
				})
			}

			if err := renderLogin(cmd, root.output, rows); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d identities", errAuthFailed, failed, len(rows))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.clientID, "client-id", "", "client ID (defaults to auth.user.clientid)")
	f.StringVar(&opts.deviceID, "device-id", "", "device ID (random when empty)")
	f.IntVarP(&opts.parallel, "parallel", "p", 4, "identities authenticated concurrently")
	f.BoolVar(&opts.cleanup, "cleanup", false, "delete rate-limit keys before each attempt")
	f.BoolVar(&opts.showToken, "show-token", false, "print full access tokens")
	return cmd
}

func renderLogin(cmd *cobra.Command, format string, rows []loginRow) error {
	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), rows)
	}
	t := newTable(cmd.OutOrStdout())
	t.AppendHeader(header("IDENTITY", "STATUS", "OTP", "TOKEN", "MESSAGE"))
	for _, r := range rows {
		t.AppendRow([]any{r.Identity, statusText(r.Success), r.OTPSource, r.AccessToken, r.Message})
	}
	t.Render()
	return nil
}

func newOTPCmd(root *rootOptions) *cobra.Command {
	var clientID, deviceID string
	cmd := &cobra.Command{
		Use:   "otp IDENTITY",
		Short: "Trigger an OTP and print it without logging in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := root.engine(cmd, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			res, err := engine.ResolveOTP(cmd.Context(), args[0], clientID, deviceID)
			if err != nil {
				return err
			}
			if root.output == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"identity": args[0],
					"otp":      res.OTP,
					"source":   string(res.Source),
					"reason":   res.Reason,
				})
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(header("IDENTITY", "OTP", "SOURCE", "REASON"))
			t.AppendRow([]any{args[0], res.OTP, string(res.Source), res.Reason})
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "client ID (defaults to auth.user.clientid)")
	cmd.Flags().StringVar(&deviceID, "device-id", "", "device ID (random when empty)")
	return cmd
}
