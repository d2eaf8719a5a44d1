// Package ugi speaks the Universal Game Interface text protocol: a line
// oriented stdin/stdout protocol in the UCI family, with rule-set-agnostic
// position and go commands.
package ugi

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog/log"

	"github.com/penumbralabs/penumbra/game"
	"github.com/penumbralabs/penumbra/mcts"
)

const (
	// Name identifies the engine on the protocol.
	Name = "penumbra"
	// Version is reported by the ugi handshake.
	Version = "0.1.0"
)

// Loop is one protocol session. It owns the current position, the search
// tree, and the goroutine running an active search.
type Loop struct {
	predictor mcts.Predictor
	cfg       mcts.Config
	ruleSets  map[string]func() game.State
	ruleSet   string

	out io.Writer

	mu        sync.Mutex
	state     game.State
	search    *mcts.Search
	cancel    context.CancelFunc
	searching sync.WaitGroup
}

// NewLoop creates a session. ruleSets maps names accepted by
// "setoption name ruleset" to start positions; defaultSet must be a key.
func NewLoop(predictor mcts.Predictor, cfg mcts.Config, ruleSets map[string]func() game.State, defaultSet string, out io.Writer) (*Loop, error) {
	newGame, ok := ruleSets[defaultSet]
	if !ok {
		return nil, fmt.Errorf("unknown rule set %q", defaultSet)
	}
	return &Loop{
		predictor: predictor,
		cfg:       cfg,
		ruleSets:  ruleSets,
		ruleSet:   defaultSet,
		state:     newGame(),
		out:       out,
	}, nil
}

// Run reads commands until quit or EOF.
func (l *Loop) Run() error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "",
		HistoryFile:     "/tmp/penumbra_ugi.tmp",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("ugi: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("ugi: %w", err)
		}
		if quit := l.handle(strings.TrimSpace(line)); quit {
			break
		}
	}
	l.stopSearch()
	return nil
}

// handle dispatches one command line; returns true on quit.
func (l *Loop) handle(line string) bool {
	if line == "" {
		return false
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "ugi":
		fmt.Fprintf(l.out, "id name %s %s\n", Name, Version)
		fmt.Fprintf(l.out, "ugiok\n")
	case "isready":
		fmt.Fprintf(l.out, "readyok\n")
	case "uginewgame":
		l.stopSearch()
		l.mu.Lock()
		l.state = l.ruleSets[l.ruleSet]()
		l.search = nil
		l.mu.Unlock()
	case "setoption":
		l.setOption(fields[1:])
	case "position":
		if err := l.setPosition(fields[1:]); err != nil {
			log.Error().Err(err).Str("line", line).Msg("bad position")
		}
	case "go":
		limits, err := mcts.ParseLimits(strings.TrimPrefix(line, "go"))
		if err != nil {
			log.Error().Err(err).Str("line", line).Msg("bad go command")
			return false
		}
		l.startSearch(limits)
	case "stop":
		l.stopSearch()
	case "d", "show":
		l.mu.Lock()
		fmt.Fprintln(l.out, l.state.String())
		l.mu.Unlock()
	case "quit":
		return true
	default:
		log.Warn().Str("command", fields[0]).Msg("unknown command")
	}
	return false
}

func (l *Loop) setOption(fields []string) {
	var name, value string
	for i := 0; i < len(fields)-1; i++ {
		switch fields[i] {
		case "name":
			name = strings.ToLower(fields[i+1])
		case "value":
			value = fields[i+1]
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var err error
	switch name {
	case "ruleset":
		if _, ok := l.ruleSets[value]; !ok {
			err = fmt.Errorf("unknown rule set %q", value)
			break
		}
		l.ruleSet = value
		l.state = l.ruleSets[value]()
	case "cpuct":
		err = parseFloatOption(&l.cfg.CPuct, value)
	case "workers":
		err = parseIntOption(&l.cfg.Workers, value)
	case "temperature":
		err = parseFloatOption(&l.cfg.Temperature, value)
	case "drawvalue":
		err = parseFloatOption(&l.cfg.DrawValue, value)
	case "fpu":
		err = parseFloatOption(&l.cfg.FPU, value)
	case "retainsubtrees":
		var b bool
		if b, err = strconv.ParseBool(value); err == nil {
			l.cfg.RetainSubtrees = b
		}
	default:
		err = fmt.Errorf("unknown option %q", name)
	}
	if err != nil {
		log.Error().Err(err).Str("option", name).Msg("setoption failed")
		return
	}
	// Options take effect on the next search session.
	l.search = nil
}

func parseFloatOption(dst *float64, value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func parseIntOption(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

// setPosition handles "position startpos [moves m1 m2 ...]". When the target
// position extends the current search root by played moves, the tree is
// advanced instead of rebuilt so accumulated statistics carry over.
func (l *Loop) setPosition(fields []string) error {
	if len(fields) == 0 || fields[0] != "startpos" {
		return fmt.Errorf("position requires startpos")
	}
	var moves []string
	if len(fields) > 1 {
		if fields[1] != "moves" {
			return fmt.Errorf("expected moves after startpos")
		}
		moves = fields[2:]
	}

	l.stopSearch()
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.ruleSets[l.ruleSet]()
	actions := make([]game.Action, 0, len(moves))
	for _, m := range moves {
		a, err := st.ParseAction(m)
		if err != nil {
			return err
		}
		actions = append(actions, a)
		st = st.Apply(a)
	}

	if l.search != nil && len(actions) > 0 {
		// Try to reach the target by advancing the live tree one committed
		// move; the common GUI pattern is the previous position plus one or
		// two new moves.
		if adv := l.tryAdvance(actions); adv {
			l.state = l.search.Tree().RootState()
			return nil
		}
	}

	l.state = st
	l.search = nil
	return nil
}

// tryAdvance advances the existing tree if the move list ends at its root
// position extended by trailing moves. Returns false when the histories
// diverge, in which case the caller rebuilds from scratch.
func (l *Loop) tryAdvance(actions []game.Action) bool {
	replay := l.ruleSets[l.ruleSet]()
	rootKey := l.search.Tree().RootState().String()
	for i, a := range actions {
		if replay.String() == rootKey {
			for _, rest := range actions[i:] {
				if err := l.search.AdvanceRoot(rest); err != nil {
					return false
				}
			}
			return true
		}
		replay = replay.Apply(a)
	}
	return replay.String() == rootKey
}

func (l *Loop) startSearch(limits mcts.Limits) {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		log.Warn().Msg("search already running")
		return
	}
	if l.search == nil {
		l.search = mcts.NewSearch(l.state, l.predictor, l.cfg)
	}
	search := l.search
	state := l.state
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.searching.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.searching.Done()
		defer func() {
			l.mu.Lock()
			l.cancel = nil
			l.mu.Unlock()
			cancel()
		}()

		done := make(chan struct{})
		go l.infoTicker(ctx, search, state, done)

		start := time.Now()
		res, err := search.Run(ctx, limits)
		close(done)
		if err != nil {
			log.Error().Err(err).Msg("search failed")
			return
		}
		l.printInfo(search, state, res.Nodes, time.Since(start))
		if res.Best == game.NoAction {
			// Searching a finished game; there is nothing to play.
			fmt.Fprintf(l.out, "bestmove none\n")
			return
		}
		fmt.Fprintf(l.out, "bestmove %s\n", state.ActionString(res.Best))
	}()
}

// infoTicker reports progress while a search runs. Root statistics are read
// atomically, so sampling them concurrently is safe.
func (l *Loop) infoTicker(ctx context.Context, search *mcts.Search, state game.State, done <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			var nodes uint64
			for _, c := range search.RootStats() {
				nodes += uint64(c.Visits)
			}
			l.printInfo(search, state, nodes, time.Since(start))
		}
	}
}

func (l *Loop) printInfo(search *mcts.Search, state game.State, nodes uint64, elapsed time.Duration) {
	children := mcts.SortedByVisits(search.RootStats())
	if len(children) == 0 {
		return
	}
	q := children[0].Q

	var pv strings.Builder
	for _, a := range search.PrincipalVariation(16) {
		pv.WriteByte(' ')
		pv.WriteString(state.ActionString(a))
	}

	nps := float64(nodes) / elapsed.Seconds()
	fmt.Fprintf(l.out, "info nodes %d time %d nps %.0f score q %.3f pv%s\n",
		nodes, elapsed.Milliseconds(), nps, q, pv.String())
}

func (l *Loop) stopSearch() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.searching.Wait()
}
