package mcts

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Limits bounds a search: a node budget, a fixed per-move time, or a game
// clock with increments. Zero fields are unconstrained; the zero Limits is an
// infinite search (stopped only by context cancellation).
type Limits struct {
	// Nodes is the maximum number of completed search iterations.
	Nodes uint64
	// MoveTime is a fixed wall-clock budget for the move.
	MoveTime time.Duration

	// Game clock, used when HasClock is set. The engine allocates
	// OurTime/20 + 3*OurInc/4 for the move.
	HasClock  bool
	OurTime   time.Duration
	OurInc    time.Duration
	TheirTime time.Duration
	TheirInc  time.Duration
}

// NodeLimit returns a pure node-count budget.
func NodeLimit(nodes uint64) Limits {
	return Limits{Nodes: nodes}
}

// MoveTimeLimit returns a fixed wall-clock budget.
func MoveTimeLimit(d time.Duration) Limits {
	return Limits{MoveTime: d}
}

// timeBudget returns the wall-clock allocation for the move, or 0 if the
// search is not time-bounded.
func (l Limits) timeBudget() time.Duration {
	if l.MoveTime > 0 {
		return l.MoveTime
	}
	if l.HasClock {
		return l.OurTime/20 + 3*l.OurInc/4
	}
	return 0
}

// merge overlays non-zero fields of other onto l.
func (l Limits) merge(other Limits) Limits {
	if other.Nodes > 0 {
		l.Nodes = other.Nodes
	}
	if other.MoveTime > 0 {
		l.MoveTime = other.MoveTime
	}
	if other.HasClock {
		l.HasClock = true
		l.OurTime = other.OurTime
		l.OurInc = other.OurInc
		l.TheirTime = other.TheirTime
		l.TheirInc = other.TheirInc
	}
	return l
}

// ParseLimits parses the protocol form of a search budget:
//
//	nodes N
//	movetime MS
//	p1time MS p2time MS p1inc MS p2inc MS
//	infinite
//
// Components may be combined ("nodes 800 movetime 1000"). Player 1 is the
// engine's side.
func ParseLimits(s string) (Limits, error) {
	var out Limits
	words := strings.Fields(s)
	for i := 0; i < len(words); i++ {
		switch words[i] {
		case "nodes":
			n, rest, err := parseUint(words, i)
			if err != nil {
				return Limits{}, err
			}
			out = out.merge(Limits{Nodes: n})
			i = rest
		case "movetime":
			d, rest, err := parseMillis(words, i)
			if err != nil {
				return Limits{}, err
			}
			out = out.merge(Limits{MoveTime: d})
			i = rest
		case "p1time":
			clock := Limits{HasClock: true}
			var err error
			clock.OurTime, i, err = parseMillis(words, i)
			if err != nil {
				return Limits{}, err
			}
			if err = expect(words, i+1, "p2time"); err != nil {
				return Limits{}, err
			}
			clock.TheirTime, i, err = parseMillis(words, i+1)
			if err != nil {
				return Limits{}, err
			}
			if err = expect(words, i+1, "p1inc"); err != nil {
				return Limits{}, err
			}
			clock.OurInc, i, err = parseMillis(words, i+1)
			if err != nil {
				return Limits{}, err
			}
			if err = expect(words, i+1, "p2inc"); err != nil {
				return Limits{}, err
			}
			clock.TheirInc, i, err = parseMillis(words, i+1)
			if err != nil {
				return Limits{}, err
			}
			out = out.merge(clock)
		case "infinite":
			// explicit no-op component
		default:
			return Limits{}, fmt.Errorf("unknown limit token %q", words[i])
		}
	}
	return out, nil
}

// parseUint reads the integer following words[i] and returns it along with
// the index of the consumed value.
func parseUint(words []string, i int) (uint64, int, error) {
	if i+1 >= len(words) {
		return 0, i, fmt.Errorf("%q requires a value", words[i])
	}
	n, err := strconv.ParseUint(words[i+1], 10, 64)
	if err != nil {
		return 0, i, fmt.Errorf("bad value for %q: %w", words[i], err)
	}
	return n, i + 1, nil
}

// parseMillis reads the integer following words[i] as milliseconds.
func parseMillis(words []string, i int) (time.Duration, int, error) {
	n, rest, err := parseUint(words, i)
	if err != nil {
		return 0, i, err
	}
	return time.Duration(n) * time.Millisecond, rest, nil
}

func expect(words []string, i int, token string) error {
	if i >= len(words) || words[i] != token {
		return fmt.Errorf("expected %q in clock specification", token)
	}
	return nil
}
