// Package game defines the capability interface a rule set must implement to
// be searched by the engine. The engine never inspects concrete positions; it
// only asks for legal actions, successor states, terminal outcomes and a
// tensor encoding for the evaluator.
package game

import "fmt"

// Action is an index into a rule set's policy space. Each rule set defines its
// own encoding; the engine only requires that actions for a given state are
// distinct and within [0, PolicyDim).
type Action int32

// NoAction is returned by parsers when a string does not name a move.
const NoAction Action = -1

// Outcome is the result of a finished game. Winner is the player index of the
// winning side, or NoWinner for a draw.
type Outcome struct {
	Winner int
}

// NoWinner marks a drawn outcome.
const NoWinner = -1

// Draw is the drawn outcome.
var Draw = Outcome{Winner: NoWinner}

// WinFor returns a decisive outcome for the given player.
func WinFor(player int) Outcome {
	return Outcome{Winner: player}
}

// ValueFor returns the outcome's value in [-1, 1] from the given player's
// perspective: +1 win, -1 loss, 0 draw.
func (o Outcome) ValueFor(player int) float32 {
	switch o.Winner {
	case NoWinner:
		return 0
	case player:
		return 1
	default:
		return -1
	}
}

func (o Outcome) String() string {
	if o.Winner == NoWinner {
		return "draw"
	}
	return fmt.Sprintf("win p%d", o.Winner)
}

// State is an immutable game position. Apply returns a successor and must not
// mutate the receiver; the engine holds many states from the same line of play
// alive at once.
//
// Contract: a state with no terminal outcome must report at least one legal
// action. The engine treats a violation as fatal.
type State interface {
	// LegalActions appends the legal actions for the player to move to buf
	// and returns the extended slice. Order must be deterministic for a
	// given position.
	LegalActions(buf []Action) []Action

	// Apply returns the successor position after the given legal action.
	Apply(a Action) State

	// TerminalOutcome reports the game result if the position is final.
	TerminalOutcome() (Outcome, bool)

	// Encode writes the evaluator input planes into dst, which has room for
	// EncodedSize floats.
	Encode(dst []float32)

	// EncodedSize is the flat length of the evaluator input for this rule set.
	EncodedSize() int

	// PolicyDim is the size of the evaluator's policy head for this rule set.
	PolicyDim() int

	// Player is the index of the player to move (0-based).
	Player() int

	// ActionString renders an action in the rule set's move notation.
	ActionString(a Action) string

	// ParseAction parses the rule set's move notation. Returns an error if
	// the string does not name an action (legality is not checked).
	ParseAction(s string) (Action, error)

	fmt.Stringer
}
