package main

import (
	"errors"
	"fmt"

	otpauth "github.com/MrEthical07/otpauth"
	"github.com/spf13/cobra"
)

var errStoreUnhealthy = errors.New("otp store unhealthy")

type healthReport struct {
	Mode    string            `json:"mode"`
	Addr    string            `json:"addr,omitempty"`
	Healthy bool              `json:"healthy"`
	Pool    otpauth.PoolStats `json:"pool"`
}

func newHealthCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Ping the OTP store and print pool statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := root.engine(cmd, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			cfg := engine.Config()
			rep := healthReport{Mode: "mock"}
			if !cfg.OTP.MockEnabled {
				rep.Mode = "redis"
				rep.Addr = cfg.Redis.Addr
				rep.Healthy = engine.PoolHealthy(cmd.Context())
			}
			rep.Pool = engine.PoolStats()

			if root.output == "json" {
				if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			} else {
				t := newTable(cmd.OutOrStdout())
				t.AppendHeader(header("MODE", "ADDR", "HEALTHY", "AVAILABLE", "ACTIVE", "IDLE", "TOTAL", "BORROWED"))
				t.AppendRow([]any{
					rep.Mode, rep.Addr, statusText(rep.Healthy || rep.Mode == "mock"),
					rep.Pool.Available, rep.Pool.Active, rep.Pool.Idle, rep.Pool.Total, rep.Pool.Borrowed,
				})
				t.Render()
			}

			if rep.Mode == "redis" && !rep.Healthy {
				return fmt.Errorf("%w: %s", errStoreUnhealthy, rep.Addr)
			}
			return nil
		},
	}
}

func newCleanupCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup IDENTITY...",
		Short: "Delete the backend's rate-limit keys for identities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := root.engine(cmd, nil)
			if err != nil {
				return err
			}
			defer engine.Close()

			deleted := make(map[string]int64, len(args))
			for _, id := range args {
				n, err := engine.CleanupRateLimit(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("cleanup %s: %w", id, err)
				}
				deleted[id] = n
			}

			if root.output == "json" {
				return writeJSON(cmd.OutOrStdout(), deleted)
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(header("IDENTITY", "DELETED"))
			for _, id := range args {
				t.AppendRow([]any{id, deleted[id]})
			}
			t.Render()
			return nil
		},
	}
}
