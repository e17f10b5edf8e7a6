package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/faceme-bridge/internal/config"
	"github.com/example/faceme-bridge/internal/faceme"
	"github.com/example/faceme-bridge/internal/logging"
)

type app struct {
	out        io.Writer
	configPath string
	endpoint   string
	token      string
	user       string
	timeout    time.Duration

	// extra is appended after the options derived from flags and config.
	extra  []faceme.Option
	client *faceme.Client
	logger *zap.Logger
}

func newRootCmd(out io.Writer, extra ...faceme.Option) *cobra.Command {
	a := &app{out: out, extra: extra}

	root := &cobra.Command{
		Use:           "faceme",
		Short:         "Call the FaceMe server API",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (YAML, JSON or TOML)")
	flags.StringVar(&a.endpoint, "endpoint", "", "FaceMe API base URL")
	flags.StringVar(&a.token, "token", "", "base64 credential sent as Basic authorization")
	flags.StringVar(&a.user, "user", "", "identity string")
	flags.DurationVar(&a.timeout, "timeout", 0, "per-request timeout, 0 keeps the configured value")

	root.AddCommand(
		a.healthCmd(),
		a.statusCmd(),
		a.enrollCmd(),
		a.deleteCmd(),
		a.compareCmd(),
		a.compareTemplatesCmd(),
		a.searchCmd(),
		a.compareIDCmd(),
		a.spoofCmd("spoof", "First-stage anti-spoofing check", (*faceme.Client).CheckSpoofing),
		a.spoofCmd("spoof-second-stage", "Second-stage anti-spoofing check", (*faceme.Client).CheckSpoofingSecondStage),
		a.qualityCmd(),
		a.demoCmd(),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.logger = logger

	opts := append(cfg.BridgeOptions(),
		faceme.WithBaseURL(a.endpoint),
		faceme.WithCredential(a.token),
		faceme.WithIdentity(a.user),
		faceme.WithLogger(logger),
	)
	if a.timeout > 0 {
		opts = append(opts, faceme.WithTimeout(a.timeout))
	}
	a.client = faceme.New(append(opts, a.extra...)...)
	return nil
}

func (a *app) print(res *faceme.Result) error {
	if res.Empty() {
		_, err := fmt.Fprintln(a.out, "null")
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, res.Raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := a.out.Write(buf.Bytes())
	return err
}

// jsonFlag decodes a flag value holding a JSON object. Empty yields nil.
func jsonFlag(name, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return v, nil
}

func featuresFlag(raw string) (faceme.Features, error) {
	v, err := jsonFlag("features", raw)
	if v == nil {
		return nil, err
	}
	return faceme.Features(v), nil
}
