// Package selfplay generates training data by having the engine play itself.
package selfplay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/frand"

	"github.com/penumbralabs/penumbra/game"
	"github.com/penumbralabs/penumbra/mcts"
	"github.com/penumbralabs/penumbra/store"
)

// Config controls a self-play run.
type Config struct {
	// Games is the total number of games to generate across all workers.
	Games int
	// Workers is the number of concurrent game-playing goroutines. Each
	// worker writes its own parquet file.
	Workers int
	// NodesPerMove is the search budget per move.
	NodesPerMove uint64
	// OpeningPlies is the number of random opening moves (plus one more for
	// half the games, to vary who moves first out of the opening).
	OpeningPlies int
	// Temperature and TemperaturePlies: early moves are sampled at this
	// temperature for diversity; later moves play the most visited child.
	Temperature      float64
	TemperaturePlies int
	// DirichletEpsilon mixes exploration noise into every search root.
	DirichletEpsilon float64
	// RuleSet names the rule set in the output rows.
	RuleSet string
	// OutDir receives one training-<game>.parquet file per finished game.
	OutDir string
	// ModelPath is recorded in the rows for provenance.
	ModelPath string
}

func (c *Config) sanitize() {
	if c.Games <= 0 {
		c.Games = 1
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.NodesPerMove == 0 {
		c.NodesPerMove = 800
	}
	if c.OpeningPlies < 0 {
		c.OpeningPlies = 0
	}
	if c.Temperature <= 0 {
		c.Temperature = 1
	}
	if c.TemperaturePlies <= 0 {
		c.TemperaturePlies = 16
	}
	if c.OutDir == "" {
		c.OutDir = "data"
	}
}

// Run plays cfg.Games games and writes the resulting training rows. Every
// finished game is flushed to its own parquet file immediately, so an
// interrupted run keeps all completed games; a cancelled context stops
// gracefully at the next game boundary.
func Run(ctx context.Context, newGame func() game.State, predictor mcts.Predictor, engineCfg mcts.Config, cfg Config) error {
	cfg.sanitize()
	start := time.Now()

	var started, finished, positions atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				n := started.Add(1)
				if n > int64(cfg.Games) {
					break
				}
				rows, err := playGame(gctx, int(n), newGame, predictor, engineCfg, cfg)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						break
					}
					return err
				}
				if len(rows) == 0 {
					continue
				}
				out := filepath.Join(cfg.OutDir, fmt.Sprintf("training-%05d.parquet", n))
				if err := store.WriteTrainingParquet(out, rows); err != nil {
					return err
				}
				finished.Add(1)
				positions.Add(int64(len(rows)))
				log.Info().
					Int64("games", finished.Load()).
					Int64("positions", positions.Load()).
					Float64("pos_per_sec", float64(positions.Load())/time.Since(start).Seconds()).
					Msg("selfplay progress")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("selfplay: %w", err)
	}
	log.Info().
		Int64("games", finished.Load()).
		Int64("positions", positions.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("selfplay complete")
	return nil
}

type record struct {
	encoding []float32
	policy   []float32
	player   int
	ply      int
}

func playGame(ctx context.Context, gameIndex int, newGame func() game.State, predictor mcts.Predictor, engineCfg mcts.Config, cfg Config) ([]store.TrainingRow, error) {
	gameID := fmt.Sprintf("selfplay_%d_%d", time.Now().UnixNano(), gameIndex)

	st := newGame()
	for i := 0; i < cfg.OpeningPlies+frand.Intn(2); i++ {
		if _, over := st.TerminalOutcome(); over {
			// Degenerate opening; record nothing and move on.
			return nil, nil
		}
		legal := st.LegalActions(nil)
		st = st.Apply(legal[frand.Intn(len(legal))])
	}

	engineCfg.Temperature = cfg.Temperature
	engineCfg.DirichletEpsilon = cfg.DirichletEpsilon
	search := mcts.NewSearch(st, predictor, engineCfg)

	var outcome game.Outcome
	var recs []record
	for ply := 0; ; ply++ {
		if out, over := st.TerminalOutcome(); over {
			outcome = out
			break
		}

		res, err := search.Run(ctx, mcts.NodeLimit(cfg.NodesPerMove))
		if err != nil {
			return nil, err
		}

		encoding := make([]float32, st.EncodedSize())
		st.Encode(encoding)
		recs = append(recs, record{
			encoding: encoding,
			policy:   res.VisitDistribution(st.PolicyDim()),
			player:   st.Player(),
			ply:      ply,
		})

		action := res.Best
		if ply >= cfg.TemperaturePlies {
			action = mostVisited(res.Children)
		}
		if err := search.AdvanceRoot(action); err != nil {
			return nil, err
		}
		st = search.Tree().RootState()
	}

	return lo.Map(recs, func(r record, _ int) store.TrainingRow {
		return store.TrainingRow{
			GameID:    gameID,
			RuleSet:   cfg.RuleSet,
			Ply:       int32(r.ply),
			Player:    int32(r.player),
			Encoding:  r.encoding,
			Policy:    r.policy,
			Value:     outcome.ValueFor(r.player),
			Source:    "selfplay",
			ModelPath: cfg.ModelPath,
		}
	}), nil
}

func mostVisited(children []mcts.ChildStat) game.Action {
	best := children[0]
	for _, c := range children[1:] {
		if c.Visits > best.Visits {
			best = c
		}
	}
	return best.Action
}
