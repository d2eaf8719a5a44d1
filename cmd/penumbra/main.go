package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/penumbralabs/penumbra/config"
	"github.com/penumbralabs/penumbra/game"
	"github.com/penumbralabs/penumbra/games/ataxx"
	"github.com/penumbralabs/penumbra/games/gomoku"
	"github.com/penumbralabs/penumbra/inference"
	"github.com/penumbralabs/penumbra/selfplay"
	"github.com/penumbralabs/penumbra/ugi"
)

var ruleSets = map[string]func() game.State{
	"gomoku": func() game.State { return gomoku.New() },
	"ataxx":  func() game.State { return ataxx.New() },
}

func main() {
	configPath := flag.String("config", "", "config file path (default: penumbra.yaml in . or ~/.penumbra)")
	modelPath := flag.String("model", "", "ONNX model path; empty runs with a uniform evaluator")
	ruleSet := flag.String("game", "", "rule set: gomoku or ataxx")
	runSelfplay := flag.Bool("selfplay", false, "generate training data instead of speaking UGI")
	games := flag.Int("games", 100, "selfplay: number of games")
	workers := flag.Int("workers", 0, "selfplay: concurrent game workers (default engine workers)")
	nodes := flag.Uint64("nodes", 800, "selfplay: search nodes per move")
	outDir := flag.String("out", "data", "selfplay: output directory for parquet files")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	// Protocol output owns stdout, so logs go to stderr.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	if *ruleSet != "" {
		cfg.RuleSet = *ruleSet
	}

	newGame, ok := ruleSets[cfg.RuleSet]
	if !ok {
		log.Fatal().Str("rule_set", cfg.RuleSet).Msg("unknown rule set")
	}

	predictor, err := buildPredictor(cfg, newGame())
	if err != nil {
		log.Fatal().Err(err).Msg("build evaluator")
	}
	defer predictor.Close()

	if *runSelfplay {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		spCfg := selfplay.Config{
			Games:            *games,
			Workers:          *workers,
			NodesPerMove:     *nodes,
			OpeningPlies:     8,
			Temperature:      1,
			TemperaturePlies: 16,
			DirichletEpsilon: 0.25,
			RuleSet:          cfg.RuleSet,
			OutDir:           *outDir,
			ModelPath:        cfg.ModelPath,
		}
		if spCfg.Workers <= 0 {
			spCfg.Workers = cfg.Workers
		}
		if err := selfplay.Run(ctx, newGame, predictor, cfg.Engine(), spCfg); err != nil {
			log.Fatal().Err(err).Msg("selfplay run failed")
		}
		return
	}

	loop, err := ugi.NewLoop(predictor, cfg.Engine(), ruleSets, cfg.RuleSet, os.Stdout)
	if err != nil {
		log.Fatal().Err(err).Msg("start ugi")
	}
	if err := loop.Run(); err != nil {
		log.Fatal().Err(err).Msg("ugi loop failed")
	}
}

// buildPredictor wires the evaluation pipeline: an ONNX session pool behind
// batchers when a model is configured, a uniform evaluator otherwise.
func buildPredictor(cfg config.Config, st game.State) (*inference.Pool, error) {
	if cfg.ModelPath == "" {
		log.Warn().Msg("no model configured, searching with uniform priors")
		return inference.NewPool(func() (inference.Evaluator, error) {
			return inference.Uniform{PolicyDim: st.PolicyDim()}, nil
		}, 1, cfg.Batcher())
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model %s: %w", cfg.ModelPath, err)
	}
	onnxCfg := inference.OnnxConfig{
		ModelPath:  cfg.ModelPath,
		InputShape: []int64{int64(st.EncodedSize())},
		PolicyDim:  st.PolicyDim(),
	}
	log.Info().
		Str("model", cfg.ModelPath).
		Int("sessions", cfg.Sessions).
		Msg("loading model")
	return inference.NewPool(func() (inference.Evaluator, error) {
		return inference.NewOnnxEvaluator(onnxCfg)
	}, cfg.Sessions, cfg.Batcher())
}
