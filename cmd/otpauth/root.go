package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	otpauth "github.com/MrEthical07/otpauth"
	"github.com/MrEthical07/otpauth/properties"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configFiles []string
	baseURL     string
	redisAddr   string
	mock        bool
	logLevel    string
	output      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "otpauth",
		Short: "Authenticate test identities against an OTP-protected backend",
		Long: `otpauth triggers an OTP for an email or phone identity, reads it back
from the backend's Redis store and exchanges it for an access token.

Configuration is read from .properties, .yaml or .json files (--config) and
OTPAUTH_* environment variables; flags override both.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version,
	}

	f := cmd.PersistentFlags()
	f.StringSliceVarP(&opts.configFiles, "config", "c", nil, "configuration files, later files override earlier ones")
	f.StringVar(&opts.baseURL, "base-url", "", "backend base URL (overrides base.url)")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "OTP store address host:port (overrides redis.host/redis.port)")
	f.BoolVar(&opts.mock, "mock", false, "use the mock OTP instead of the store")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	f.StringVarP(&opts.output, "output", "o", "table", "output format: table or json")

	cmd.AddCommand(
		newLoginCmd(opts),
		newOTPCmd(opts),
		newHealthCmd(opts),
		newCleanupCmd(opts),
		newLoadtestCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the otpauth version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "otpauth version %s\n", version)
		},
	}
}

func (o *rootOptions) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", o.logLevel, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func (o *rootOptions) validateOutput() error {
	switch o.output {
	case "table", "json":
		return nil
	default:
		return fmt.Errorf("invalid --output %q: want table or json", o.output)
	}
}

func (o *rootOptions) config() (otpauth.Config, *properties.Properties, error) {
	var (
		props *properties.Properties
		err   error
	)
	if len(o.configFiles) > 0 {
		props, err = properties.Load(o.configFiles...)
		if err != nil {
			return otpauth.Config{}, nil, err
		}
	} else {
		props = properties.FromMap(nil)
	}

	cfg := otpauth.ConfigFromProperties(props)
	if o.baseURL != "" {
		cfg.Backend.BaseURL = strings.TrimRight(o.baseURL, "/")
	}
	if o.redisAddr != "" {
		cfg.Redis.Addr = o.redisAddr
	}
	if o.mock {
		cfg.OTP.MockEnabled = true
	}
	return cfg, props, nil
}

// engine builds an engine from files, environment and flags. mutate runs
// after flags are applied.
func (o *rootOptions) engine(cmd *cobra.Command, mutate func(*otpauth.Config)) (*otpauth.Engine, error) {
	if err := o.validateOutput(); err != nil {
		return nil, err
	}
	cfg, props, err := o.config()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&cfg)
	}
	logger, err := o.logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return otpauth.New().
		WithConfig(cfg).
		WithProperties(props).
		WithLogger(logger).
		Build()
}
