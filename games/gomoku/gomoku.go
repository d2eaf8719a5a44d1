// Package gomoku implements a 15x15 five-in-a-row rule set for the engine.
package gomoku

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/penumbralabs/penumbra/game"
)

const (
	// Size is the board edge length.
	Size = 15
	// Cells is the number of board cells and the policy dimension.
	Cells = Size * Size
)

const (
	empty int8 = iota
	blackStone
	whiteStone
)

// Position is an immutable gomoku position. The zero value is not valid; use
// New.
type Position struct {
	cells  [Cells]int8
	toMove int8
	filled int16
	last   game.Action
}

// New returns the empty starting position with black to move.
func New() Position {
	return Position{last: game.NoAction}
}

func stoneFor(player int8) int8 {
	if player == 0 {
		return blackStone
	}
	return whiteStone
}

// LegalActions lists all empty cells in ascending index order.
func (p Position) LegalActions(buf []game.Action) []game.Action {
	for i := 0; i < Cells; i++ {
		if p.cells[i] == empty {
			buf = append(buf, game.Action(i))
		}
	}
	return buf
}

// Apply places the current player's stone on the given cell.
func (p Position) Apply(a game.Action) game.State {
	p.cells[a] = stoneFor(p.toMove)
	p.filled++
	p.last = a
	p.toMove = 1 - p.toMove
	return p
}

// TerminalOutcome reports a win when the last move completed a line of five,
// or a draw when the board is full.
func (p Position) TerminalOutcome() (game.Outcome, bool) {
	if p.last != game.NoAction && p.lineThrough(int(p.last)) {
		return game.WinFor(int(1 - p.toMove)), true
	}
	if p.filled == Cells {
		return game.Draw, true
	}
	return game.Outcome{}, false
}

var directions = [4][2]int{{1, 0}, {0, 1}, {1, 1}, {1, -1}}

// lineThrough reports whether the stone on cell idx is part of a line of at
// least five.
func (p Position) lineThrough(idx int) bool {
	stone := p.cells[idx]
	x0, y0 := idx%Size, idx/Size
	for _, d := range directions {
		run := 1
		for _, sign := range [2]int{1, -1} {
			x, y := x0+sign*d[0], y0+sign*d[1]
			for x >= 0 && x < Size && y >= 0 && y < Size && p.cells[y*Size+x] == stone {
				run++
				x += sign * d[0]
				y += sign * d[1]
			}
		}
		if run >= 5 {
			return true
		}
	}
	return false
}

// Encode writes two planes: the side to move's stones, then the opponent's.
func (p Position) Encode(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
	own := stoneFor(p.toMove)
	for i := 0; i < Cells; i++ {
		switch p.cells[i] {
		case own:
			dst[i] = 1
		case empty:
		default:
			dst[Cells+i] = 1
		}
	}
}

func (p Position) EncodedSize() int { return 2 * Cells }

func (p Position) PolicyDim() int { return Cells }

func (p Position) Player() int { return int(p.toMove) }

// ActionString renders a cell as file letter plus rank number, "a1".."o15".
func (p Position) ActionString(a game.Action) string {
	x, y := int(a)%Size, int(a)/Size
	return fmt.Sprintf("%c%d", 'a'+x, y+1)
}

func (p Position) ParseAction(s string) (game.Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 2 {
		return game.NoAction, fmt.Errorf("bad gomoku move %q", s)
	}
	x := int(s[0] - 'a')
	y, err := strconv.Atoi(s[1:])
	if err != nil || x < 0 || x >= Size || y < 1 || y > Size {
		return game.NoAction, fmt.Errorf("bad gomoku move %q", s)
	}
	return game.Action((y-1)*Size + x), nil
}

func (p Position) String() string {
	var sb strings.Builder
	for y := Size - 1; y >= 0; y-- {
		for x := 0; x < Size; x++ {
			switch p.cells[y*Size+x] {
			case blackStone:
				sb.WriteByte('x')
			case whiteStone:
				sb.WriteByte('o')
			default:
				sb.WriteByte('.')
			}
		}
		if y > 0 {
			sb.WriteByte('/')
		}
	}
	if p.toMove == 0 {
		sb.WriteString(" x")
	} else {
		sb.WriteString(" o")
	}
	return sb.String()
}
