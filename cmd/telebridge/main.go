// Package main provides the CLI entry point for the telebridge datagram bridge.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/orbitalsys/telebridge/internal/bridge"
	"github.com/orbitalsys/telebridge/internal/certutil"
	"github.com/orbitalsys/telebridge/internal/channel"
	"github.com/orbitalsys/telebridge/internal/config"
	"github.com/orbitalsys/telebridge/internal/health"
	"github.com/orbitalsys/telebridge/internal/logging"
)

var (
	// Version is set at build time
	Version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "telebridge",
		Short: "telebridge - UDP datagram bridge over a secure channel",
		Long: `telebridge forwards UDP datagrams across a secure QUIC channel.

Each side listens on a local UDP socket and relays datagrams to its
peer, which delivers them to a fixed UDP target. Datagram boundaries
are preserved end to end, so it can carry any message-oriented
protocol between two networks.`,
		Version: Version,
	}

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(fingerprintCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// starterConfig is written by the init command as a working template.
const starterConfig = `bridge:
  role: responder
  listen_addr: "127.0.0.1:9100"
  forward_addr: "127.0.0.1:9200"

channel:
  mode: listen
  address: ":4433"
  tls:
    cert: %q
    key: %q

log:
  level: info
  format: text

health:
  enabled: false
  address: ":8080"
`

func initCmd() *cobra.Command {
	var (
		certPath   string
		keyPath    string
		configPath string
		commonName string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new bridge",
		Long:  "Generate a channel certificate and write a starter configuration file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(certPath); err == nil {
				return fmt.Errorf("certificate already exists at %s", certPath)
			}

			cert, err := certutil.Generate(commonName, certutil.DefaultValidity)
			if err != nil {
				return fmt.Errorf("failed to generate certificate: %w", err)
			}

			if err := cert.SaveToFiles(certPath, keyPath); err != nil {
				return fmt.Errorf("failed to save certificate: %w", err)
			}

			fmt.Printf("Certificate written to %s\n", certPath)
			fmt.Printf("Private key written to %s\n", keyPath)
			fmt.Printf("Fingerprint: %s\n", cert.Fingerprint())

			if _, err := os.Stat(configPath); err == nil {
				fmt.Printf("Config already exists at %s, leaving it alone\n", configPath)
			} else {
				content := fmt.Sprintf(starterConfig, certPath, keyPath)
				if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
					return fmt.Errorf("failed to write config: %w", err)
				}
				fmt.Printf("Starter config written to %s\n", configPath)
			}

			fmt.Println("\nPin this fingerprint in the dialing peer's channel.tls.fingerprint.")
			return nil
		},
	}

	cmd.Flags().StringVar(&certPath, "cert", "./channel.crt", "Certificate output path")
	cmd.Flags().StringVar(&keyPath, "key", "./channel.key", "Private key output path")
	cmd.Flags().StringVar(&configPath, "config", "./config.yaml", "Starter config output path")
	cmd.Flags().StringVar(&commonName, "cn", "telebridge", "Certificate common name")

	return cmd
}

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <cert-file>",
		Short: "Print a certificate's fingerprint",
		Long:  "Print the SHA256 fingerprint of a channel certificate for pinning.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			certPEM, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read certificate: %w", err)
			}

			cert, err := certutil.ParseCertificatePEM(certPEM)
			if err != nil {
				return err
			}

			fmt.Println(certutil.Fingerprint(cert))
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge",
		Long:  "Start forwarding datagrams using the specified configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger, err := buildLogger(cfg.Log)
			if err != nil {
				return fmt.Errorf("failed to set up logging: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			ch, err := establishChannel(ctx, cfg.Channel, logger)
			if err != nil {
				return fmt.Errorf("failed to establish channel: %w", err)
			}

			role, err := bridge.ParseRole(cfg.Bridge.Role)
			if err != nil {
				return err
			}

			b, err := bridge.New(bridge.Config{
				Role:        role,
				ListenAddr:  cfg.Bridge.ListenAddr,
				ForwardAddr: cfg.Bridge.ForwardAddr,
				Logger:      logger,
			}, ch)
			if err != nil {
				ch.Close()
				return fmt.Errorf("failed to create bridge: %w", err)
			}

			if cfg.Health.Enabled {
				hs := health.NewServer(health.ServerConfig{
					Address:      cfg.Health.Address,
					ReadTimeout:  cfg.Health.ReadTimeout,
					WriteTimeout: cfg.Health.WriteTimeout,
				}, b)
				if err := hs.Start(); err != nil {
					return fmt.Errorf("failed to start health server: %w", err)
				}
				defer hs.Stop()
				logger.Info("health server listening", logging.KeyListenAddr, hs.Address().String())
			}

			fmt.Printf("Starting telebridge (%s)...\n", cfg.Bridge.Role)
			fmt.Printf("UDP listen: %s\n", b.ListenAddr())
			fmt.Printf("UDP forward: %s\n", cfg.Bridge.ForwardAddr)

			err = b.Run(ctx)

			stats := b.Stats()
			fmt.Printf("Forwarded %s datagrams out (%s), %s datagrams in (%s)\n",
				humanize.Comma(int64(stats.DatagramsOut)), humanize.Bytes(stats.BytesOut),
				humanize.Comma(int64(stats.DatagramsIn)), humanize.Bytes(stats.BytesIn))

			if err != nil {
				return fmt.Errorf("bridge terminated: %w", err)
			}
			fmt.Println("Bridge stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")

	return cmd
}

// buildLogger constructs the process logger from the log config.
func buildLogger(cfg config.LogConfig) (*slog.Logger, error) {
	if cfg.File == "" {
		return logging.NewLogger(cfg.Level, cfg.Format), nil
	}

	opts := logging.DefaultFileOptions(cfg.File)
	if cfg.Rotation.MaxSizeMB > 0 {
		opts.MaxSizeMB = cfg.Rotation.MaxSizeMB
	}
	if cfg.Rotation.MaxBackups > 0 {
		opts.MaxBackups = cfg.Rotation.MaxBackups
	}
	if cfg.Rotation.MaxAgeDays > 0 {
		opts.MaxAgeDays = cfg.Rotation.MaxAgeDays
	}
	opts.Compress = cfg.Rotation.Compress

	return logging.NewLoggerWithFile(cfg.Level, cfg.Format, opts), nil
}

// establishChannel dials or accepts the secure channel per the config.
func establishChannel(ctx context.Context, cfg config.ChannelConfig, logger *slog.Logger) (bridge.Channel, error) {
	switch cfg.Mode {
	case "dial":
		return dialChannel(ctx, cfg, logger)
	case "listen":
		return listenChannel(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown channel mode: %s", cfg.Mode)
	}
}

func dialChannel(ctx context.Context, cfg config.ChannelConfig, logger *slog.Logger) (bridge.Channel, error) {
	opts := channel.DialOptions{
		Timeout:            cfg.Timeout,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
	}

	if !cfg.TLS.InsecureSkipVerify {
		var rootCAs *x509.CertPool
		if cfg.TLS.CA != "" {
			caPEM, err := os.ReadFile(cfg.TLS.CA)
			if err != nil {
				return nil, fmt.Errorf("read CA certificate: %w", err)
			}
			rootCAs = x509.NewCertPool()
			if !rootCAs.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no certificates found in %s", cfg.TLS.CA)
			}
		}
		opts.TLSConfig = certutil.ClientTLSConfig(rootCAs, cfg.TLS.Fingerprint)
	}

	logger.Info("dialing channel", logging.KeyChannelAddr, cfg.Address)

	ch, err := channel.Dial(ctx, cfg.Address, opts)
	if err != nil {
		return nil, err
	}

	logger.Info("channel established",
		logging.KeyLocalAddr, ch.LocalAddr().String(),
		logging.KeyRemoteAddr, ch.RemoteAddr().String())
	return ch, nil
}

func listenChannel(ctx context.Context, cfg config.ChannelConfig, logger *slog.Logger) (bridge.Channel, error) {
	cert, err := certutil.Load(cfg.TLS.Cert, cfg.TLS.Key)
	if err != nil {
		return nil, fmt.Errorf("load channel certificate: %w", err)
	}
	tlsCert, err := cert.TLSCertificate()
	if err != nil {
		return nil, fmt.Errorf("build TLS certificate: %w", err)
	}

	tlsConfig := certutil.ServerTLSConfig(tlsCert)
	if cfg.TLS.CA != "" {
		caPEM, err := os.ReadFile(cfg.TLS.CA)
		if err != nil {
			return nil, fmt.Errorf("read client CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TLS.CA)
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}

	listener, err := channel.Listen(cfg.Address, tlsConfig)
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	logger.Info("waiting for channel peer",
		logging.KeyChannelAddr, listener.Addr().String(),
		slog.String("fingerprint", cert.Fingerprint()))

	// The bridge serves exactly one peer; stop listening once it connects.
	ch, err := listener.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept channel connection: %w", err)
	}

	logger.Info("channel established", logging.KeyRemoteAddr, ch.RemoteAddr().String())
	return ch, nil
}
