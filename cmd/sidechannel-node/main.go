// Command sidechannel-node wires the sidechannel overlay, autopost
// scheduler and price oracle into one running peer. Flag/env parsing
// beyond the config file is intentionally thin; see pkg/config.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sidechannel-node/autopost"
	"sidechannel-node/identity"
	"sidechannel-node/oracle"
	"sidechannel-node/pkg/config"
	"sidechannel-node/pkg/metrics"
	"sidechannel-node/sidechannel"
	"sidechannel-node/swarmhost"
)

func main() {
	rootCmd := &cobra.Command{Use: "sidechannel-node"}
	rootCmd.AddCommand(startCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start a sidechannel overlay node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve /metrics on")
	return cmd
}

func run(metricsAddr string) error {
	log := logrus.StandardLogger()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Warnf("sidechannel-node: config load failed, using defaults: %v", err)
		defaults := config.Defaults()
		cfg = &defaults
	}

	wallet, err := identity.NewKeypair()
	if err != nil {
		return fmt.Errorf("sidechannel-node: generate identity: %w", err)
	}
	log.Infof("sidechannel-node: local identity %s", identity.ShortKey(wallet.PublicKeyHex()))

	host, err := swarmhost.New(swarmhost.Config{
		ListenAddr:     cfg.Network.ListenAddr,
		BootstrapPeers: cfg.Network.BootstrapPeers,
		DiscoveryTag:   cfg.Network.DiscoveryTag,
	}, log)
	if err != nil {
		return fmt.Errorf("sidechannel-node: start swarm: %w", err)
	}
	defer host.Close()

	collectors := metrics.New()

	engine := sidechannel.NewEngine(sidechannelConfigFrom(cfg), wallet, host, onSidechannelMessage, log, nil)
	engine.SetMetrics(collectors)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("sidechannel-node: start sidechannel engine: %w", err)
	}

	apManager := autopost.NewManager(nil, nil, log)
	apManager.SetMetrics(collectors)

	oracleEngine := oracle.NewEngine(oracleConfigFrom(cfg), oracleProvidersFrom(cfg), log, nil)
	oracleEngine.SetMetrics(collectors)
	go runOracleLoop(ctx, oracleEngine, cfg.Oracle.PollMs, log)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collectors.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Warnf("sidechannel-node: metrics server stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("sidechannel-node: shutting down")
	return nil
}

func onSidechannelMessage(channel string, p *sidechannel.Payload, conn sidechannel.Connection) {
	logrus.StandardLogger().Debugf("sidechannel-node: message on %q from %s", channel, identity.ShortKey(conn.RemotePublicKeyHex()))
}

func runOracleLoop(ctx context.Context, engine *oracle.Engine, pollMs int64, log *logrus.Logger) {
	if pollMs <= 0 {
		pollMs = 5000
	}
	ticker := time.NewTicker(time.Duration(pollMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := engine.Tick(ctx)
			if !snap.Ok {
				log.Warnf("sidechannel-node: oracle tick not fully ok")
			}
		}
	}
}

func sidechannelConfigFrom(cfg *config.Config) sidechannel.Config {
	sc := cfg.Sidechannel
	return sidechannel.Config{
		EntryChannel:           sc.EntryChannel,
		MaxMessageBytes:        sc.MaxMessageBytes,
		AllowRemoteOpen:        sc.AllowRemoteOpen,
		AutoJoinOnOpen:         sc.AutoJoinOnOpen,
		RelayEnabled:           sc.RelayEnabled,
		RelayTTL:               sc.RelayTTL,
		MaxSeen:                sc.MaxSeen,
		SeenTTLMs:              sc.SeenTTLMs,
		RateBytesPerSecond:     sc.RateBytesPerSecond,
		RateBurstBytes:         sc.RateBurstBytes,
		MaxStrikes:             sc.MaxStrikes,
		StrikeWindowMs:         sc.StrikeWindowMs,
		BlockMs:                sc.BlockMs,
		PowEnabled:             sc.PowEnabled,
		PowDifficulty:          sc.PowDifficulty,
		PowRequireEntry:        sc.PowRequireEntry,
		PowRequiredChannels:    toSet(sc.PowRequiredChannels),
		InviteRequired:         sc.InviteRequired,
		InviteRequiredChannels: toSet(sc.InviteRequiredChannels),
		InviteRequiredPrefixes: sc.InviteRequiredPrefixes,
		InviterKeys:            toSet(sc.InviterKeys),
		InviteTTLMs:            sc.InviteTTLMs,
		OwnerWriteOnly:         sc.OwnerWriteOnly,
		OwnerWriteChannels:     toSet(sc.OwnerWriteChannels),
		OwnerKeys:              sc.OwnerKeys,
		DefaultOwnerKey:        sc.DefaultOwnerKey,
		WelcomeRequired:        sc.WelcomeRequired,
		WelcomeByChannel:       sc.WelcomeByChannel,
	}
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func oracleConfigFrom(cfg *config.Config) oracle.Config {
	oc := cfg.Oracle
	pairs := make([]oracle.Pair, len(oc.Pairs))
	for i, p := range oc.Pairs {
		pairs[i] = oracle.Pair(p)
	}
	return oracle.Config{
		Pairs:             pairs,
		RequiredProviders: oc.RequiredProviders,
		MinOk:             oc.MinOk,
		MinAgree:          oc.MinAgree,
		MaxDeviationBps:   oc.MaxDeviationBps,
		TimeoutMs:         int(oc.TimeoutMs),
	}
}

func oracleProvidersFrom(cfg *config.Config) []oracle.Provider {
	prices := make(map[oracle.Pair]float64, len(cfg.Oracle.StaticPrices))
	for pair, price := range cfg.Oracle.StaticPrices {
		prices[oracle.Pair(pair)] = price
	}
	return oracle.NewStaticProviders(cfg.Oracle.StaticCount, prices, nil)
}
