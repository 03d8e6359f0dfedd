package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"OminisNode/internal/analytic"
	"OminisNode/internal/chain"
	"OminisNode/internal/config"
	"OminisNode/internal/logger"
	"OminisNode/internal/node"
	"OminisNode/internal/oracle"
	"OminisNode/internal/problems"
	"OminisNode/internal/verify"
)

func main() {
	log := logger.New("oracle")

	cfg, err := config.Load("")
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}
	if err := cfg.ValidateOracle(); err != nil {
		log.Error("invalid oracle config", "err", err)
		os.Exit(1)
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		log.Warn("unknown log level, keeping info", "level", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	evm, err := node.DialSigner(ctx, cfg)
	if err != nil {
		log.Error("rpc dial failed", "err", err)
		os.Exit(1)
	}
	defer evm.Close()

	ledger := chain.NewContracts(evm)
	ledger.BatchSize = cfg.Oracle.BatchSize
	ledger.SettleOnVerify = cfg.SettleOnVerify()

	timeout := config.Seconds(cfg.Oracle.TimeoutSeconds)
	inconclusive, _ := verify.ParseInconclusivePolicy(cfg.Oracle.InconclusivePolicy)
	doubt, _ := verify.ParseBenefitOfDoubt(cfg.Oracle.BenefitOfDoubt)

	engine := &verify.Engine{Inconclusive: inconclusive, Log: log.With("component", "verify")}
	challenges := &verify.ChallengeEngine{Doubt: doubt, Log: log.With("component", "challenge")}
	if cfg.Oracle.AnalyticURL != "" {
		a := analytic.New(cfg.Oracle.AnalyticURL, timeout)
		engine.Analytic = a
		challenges.Analytic = a
	}
	if cfg.LLM.BaseURL != "" {
		model := node.Model(cfg, log)
		engine.Heuristic = model
		challenges.Heuristic = model
		challenges.Evaluator = model
	}

	loop := oracle.New(ledger, engine, challenges, log.With("component", "loop"))
	loop.Interval = config.Seconds(cfg.Oracle.IntervalSeconds)
	loop.Timeout = timeout
	loop.ReasonLimit = cfg.Oracle.ReasonLimit
	if cfg.Problems.URL != "" {
		loop.Problems = problems.New(cfg.Problems.URL, timeout)
	}

	watcher, release := node.Watcher(ctx, cfg, evm, []chain.EventKind{
		chain.EventVerificationRequested,
		chain.EventChallengeCreated,
		chain.EventChallengeSubmitted,
	}, log)
	defer release()
	loop.Watcher = watcher

	stopMetrics := node.StartMetrics(cfg, log)
	defer stopMetrics()

	loop.Run(ctx)
}
