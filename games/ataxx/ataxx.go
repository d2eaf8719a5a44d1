// Package ataxx implements a 7x7 ataxx rule set for the engine: pieces clone
// to adjacent cells or jump two away, converting adjacent enemy pieces.
package ataxx

import (
	"fmt"
	"strings"

	"github.com/penumbralabs/penumbra/game"
)

const (
	// Size is the board edge length.
	Size = 7
	// Cells is the number of board cells.
	Cells = Size * Size
	// PolicyDim encodes moves as from*Cells+to, plus a trailing pass slot.
	PolicyDim = Cells*Cells + 1
	// Pass is the action when the side to move has no piece moves.
	Pass = game.Action(Cells * Cells)
	// MaxPlies caps game length; a game reaching it is scored by material.
	MaxPlies = 300
)

const (
	empty int8 = iota
	redPiece
	bluePiece
)

// Position is an immutable ataxx position. Use New for the starting setup.
type Position struct {
	cells  [Cells]int8
	toMove int8
	plies  int16
	passes int8
}

// New returns the standard starting position: red (player 0) on a1 and g7,
// blue on a7 and g1, red to move.
func New() Position {
	var p Position
	p.cells[at(0, 0)] = redPiece
	p.cells[at(Size-1, Size-1)] = redPiece
	p.cells[at(0, Size-1)] = bluePiece
	p.cells[at(Size-1, 0)] = bluePiece
	return p
}

func at(x, y int) int { return y*Size + x }

func pieceFor(player int8) int8 {
	if player == 0 {
		return redPiece
	}
	return bluePiece
}

func chebyshev(a, b int) int {
	dx := a%Size - b%Size
	dy := a/Size - b/Size
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

// LegalActions lists piece moves in ascending (from, to) order, or the single
// pass action when the side to move is blocked but the game is not over.
func (p Position) LegalActions(buf []game.Action) []game.Action {
	own := pieceFor(p.toMove)
	start := len(buf)
	for from := 0; from < Cells; from++ {
		if p.cells[from] != own {
			continue
		}
		fx, fy := from%Size, from/Size
		for dy := -2; dy <= 2; dy++ {
			for dx := -2; dx <= 2; dx++ {
				tx, ty := fx+dx, fy+dy
				if tx < 0 || tx >= Size || ty < 0 || ty >= Size {
					continue
				}
				to := at(tx, ty)
				if to != from && p.cells[to] == empty {
					buf = append(buf, game.Action(from*Cells+to))
				}
			}
		}
	}
	if len(buf) == start {
		if _, over := p.TerminalOutcome(); !over {
			buf = append(buf, Pass)
		}
	}
	return buf
}

// Apply plays a move: a distance-1 destination clones the piece, distance 2
// jumps it, and either way all adjacent enemy pieces convert.
func (p Position) Apply(a game.Action) game.State {
	p.plies++
	if a == Pass {
		p.passes++
		p.toMove = 1 - p.toMove
		return p
	}
	p.passes = 0

	from, to := int(a)/Cells, int(a)%Cells
	own := pieceFor(p.toMove)
	if chebyshev(from, to) > 1 {
		p.cells[from] = empty
	}
	p.cells[to] = own

	tx, ty := to%Size, to/Size
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			x, y := tx+dx, ty+dy
			if x < 0 || x >= Size || y < 0 || y >= Size {
				continue
			}
			if c := p.cells[at(x, y)]; c != empty && c != own {
				p.cells[at(x, y)] = own
			}
		}
	}
	p.toMove = 1 - p.toMove
	return p
}

// TerminalOutcome scores the game when a side has no pieces, the board has no
// empty cells, both sides passed in succession, or the ply cap is reached.
func (p Position) TerminalOutcome() (game.Outcome, bool) {
	var red, blue, vacant int
	for i := 0; i < Cells; i++ {
		switch p.cells[i] {
		case redPiece:
			red++
		case bluePiece:
			blue++
		default:
			vacant++
		}
	}
	switch {
	case red == 0:
		return game.WinFor(1), true
	case blue == 0:
		return game.WinFor(0), true
	case vacant == 0, p.passes >= 2, p.plies >= MaxPlies:
		return scoreMaterial(red, blue), true
	}
	return game.Outcome{}, false
}

func scoreMaterial(red, blue int) game.Outcome {
	switch {
	case red > blue:
		return game.WinFor(0)
	case blue > red:
		return game.WinFor(1)
	default:
		return game.Draw
	}
}

// Encode writes two planes: the side to move's pieces, then the opponent's.
func (p Position) Encode(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
	own := pieceFor(p.toMove)
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

func (p Position) PolicyDim() int { return PolicyDim }

func (p Position) Player() int { return int(p.toMove) }

func cellName(idx int) string {
	return fmt.Sprintf("%c%d", 'a'+idx%Size, idx/Size+1)
}

// ActionString renders moves as from-square then to-square, "a1b2"; a pass is
// "0000".
func (p Position) ActionString(a game.Action) string {
	if a == Pass {
		return "0000"
	}
	return cellName(int(a)/Cells) + cellName(int(a)%Cells)
}

func (p Position) ParseAction(s string) (game.Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "0000" {
		return Pass, nil
	}
	if len(s) != 4 {
		return game.NoAction, fmt.Errorf("bad ataxx move %q", s)
	}
	from, err := parseCell(s[:2])
	if err != nil {
		return game.NoAction, fmt.Errorf("bad ataxx move %q", s)
	}
	to, err := parseCell(s[2:])
	if err != nil {
		return game.NoAction, fmt.Errorf("bad ataxx move %q", s)
	}
	return game.Action(from*Cells + to), nil
}

func parseCell(s string) (int, error) {
	x := int(s[0] - 'a')
	y := int(s[1] - '1')
	if x < 0 || x >= Size || y < 0 || y >= Size {
		return 0, fmt.Errorf("bad cell %q", s)
	}
	return at(x, y), nil
}

func (p Position) String() string {
	var sb strings.Builder
	for y := Size - 1; y >= 0; y-- {
		for x := 0; x < Size; x++ {
			switch p.cells[at(x, y)] {
			case redPiece:
				sb.WriteByte('x')
			case bluePiece:
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
