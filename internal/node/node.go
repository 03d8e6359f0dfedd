// Package node holds the wiring shared by the binaries under cmd/.
package node

import (
	"context"
	"errors"
	"time"

	"OminisNode/internal/chain"
	"OminisNode/internal/commitreveal"
	"OminisNode/internal/config"
	"OminisNode/internal/llm"
	"OminisNode/internal/logger"
	"OminisNode/internal/metrics"
	"OminisNode/internal/retry"
)

func EVMConfig(cfg *config.Config) chain.EVMConfig {
	return chain.EVMConfig{
		ChainID:        cfg.Chain.ChainID,
		Core:           cfg.Chain.CoreAddress,
		OrderBook:      cfg.Chain.OrderBookAddress,
		Verifier:       cfg.Chain.VerifierAddress,
		ReceiptTimeout: config.Seconds(cfg.Chain.ReceiptTimeoutSeconds),
		GasLimit:       cfg.Chain.GasLimit,
	}
}

// DialSigner connects the signing adapter to the first RPC endpoint.
func DialSigner(ctx context.Context, cfg *config.Config) (*chain.EVM, error) {
	if len(cfg.Chain.RPCEndpoints) == 0 {
		return nil, errors.New("no rpc endpoint configured")
	}
	key, _, err := chain.LoadSigner(cfg.Signer.PrivateKey, cfg.Signer.XPrv, cfg.Signer.Index)
	if err != nil {
		return nil, err
	}
	c := EVMConfig(cfg)
	c.Endpoint = cfg.Chain.RPCEndpoints[0]
	c.Key = key
	return chain.DialEVM(ctx, c)
}

// Watcher builds the event-driven intake for kinds. It streams over the
// first websocket endpoint when one is configured and polls source
// otherwise. The returned func releases the stream connection.
func Watcher(ctx context.Context, cfg *config.Config, source chain.EventSource, kinds []chain.EventKind, log *logger.Logger) (*chain.Watcher, func()) {
	w := &chain.Watcher{
		Source:   source,
		Kinds:    kinds,
		Interval: config.Seconds(cfg.Indexer.IntervalSeconds),
		Log:      log.With("component", "watcher"),
	}
	endpoint := ""
	if len(cfg.Chain.WSEndpoints) > 0 {
		endpoint = cfg.Chain.WSEndpoints[0]
	}
	if endpoint == "" {
		return w, func() {}
	}
	c := EVMConfig(cfg)
	c.Endpoint = endpoint
	stream, err := chain.DialEVM(ctx, c)
	if err != nil {
		log.Warn("websocket endpoint unavailable, polling instead", "endpoint", endpoint, "err", err)
		return w, func() {}
	}
	w.Stream = stream
	return w, stream.Close
}

// Model is the chat model shared by the heuristic verifier, the challenge
// evaluator and the solver.
func Model(cfg *config.Config, log *logger.Logger) *llm.Model {
	client := llm.NewHTTPClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: config.Seconds(cfg.LLM.TimeoutSeconds),
	})
	guard := llm.NewGuard(cfg.LLM.MaxFailures, config.Seconds(cfg.LLM.CooldownSeconds))
	return llm.NewModel(client, guard, log.With("component", "llm"))
}

func Coordinator(cfg *config.Config, l chain.Ledger, log *logger.Logger) *commitreveal.Coordinator {
	c := commitreveal.New(l, log.With("component", "commitreveal"))
	c.Confirm = retry.Fixed(cfg.CommitReveal.ConfirmAttempts, config.Seconds(cfg.CommitReveal.ConfirmDelaySeconds))
	c.SettleDelay = config.Seconds(cfg.CommitReveal.SettleSeconds)
	c.MinRevealMargin = config.Seconds(cfg.CommitReveal.MinRevealMarginSeconds)
	return c
}

// StartMetrics serves /metrics when a port is configured and returns the
// shutdown func.
func StartMetrics(cfg *config.Config, log *logger.Logger) func() {
	srv := metrics.NewServer(cfg.Metrics.Port)
	if srv == nil {
		return func() {}
	}
	go func() {
		if err := srv.Start(); err != nil {
			log.Error("metrics server failed", "err", err)
		}
	}()
	log.Info("metrics listening", "port", cfg.Metrics.Port)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}
}
