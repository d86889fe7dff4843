package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrUnknownColor is returned when a name or symbol does not map to a Color
var ErrUnknownColor = errors.New("unknown color")

// Color is one of the three reaction categories, in priority order
type Color int

const (
	ColorGreen  Color = iota // Highest privilege level
	ColorYellow              // Minor problem behaviour
	ColorRed                 // Severe problem behaviour
)

// NumColors is the size of the Color enumeration
const NumColors = 3

// Colors lists every color in priority order
var Colors = [NumColors]Color{ColorGreen, ColorYellow, ColorRed}

// String returns the lowercase name of the color
func (c Color) String() string {
	switch c {
	case ColorGreen:
		return "green"
	case ColorYellow:
		return "yellow"
	case ColorRed:
		return "red"
	}
	return fmt.Sprintf("color(%d)", int(c))
}

// Symbol returns the emoji that represents the color on the chat platform
func (c Color) Symbol() string {
	switch c {
	case ColorGreen:
		return "🟩"
	case ColorYellow:
		return "🟨"
	case ColorRed:
		return "🟥"
	}
	return ""
}

// Weight is the integer factor applied to the color's weighted sub-total
func (c Color) Weight() int {
	switch c {
	case ColorGreen:
		return 2
	case ColorYellow:
		return -1
	case ColorRed:
		return -2
	}
	return 0
}

// Valid reports whether c is a member of the enumeration
func (c Color) Valid() bool {
	return c >= ColorGreen && c <= ColorRed
}

// ColorFromSymbol maps an emoji back to its color
func ColorFromSymbol(symbol string) (Color, bool) {
	for _, c := range Colors {
		if c.Symbol() == symbol {
			return c, true
		}
	}
	return 0, false
}

// ParseColor accepts a color name ("green") or its symbol
func ParseColor(s string) (Color, error) {
	if c, ok := ColorFromSymbol(s); ok {
		return c, nil
	}
	name := strings.ToLower(strings.TrimSpace(s))
	for _, c := range Colors {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownColor, s)
}

// MarshalText encodes the color by name
func (c Color) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownColor, int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText decodes a color name
func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Description returns the human-readable explanation of the three colors
func Description() string {
	return "🟩 Green is the highest level of privileges (when the child is behaving well).\n\n" +
		"🟨 Yellow is the next level (when the child is engaging in minor problem behaviors).\n\n" +
		"🟥 Red is the level on which the child is engaging in severe problem behaviors, such as a meltdown or aggressive behavior.\n\n"
}

// Tally counts reactions per color. Tallies are comparable with ==.
type Tally [NumColors]int

// Get returns the count for a color
func (t Tally) Get(c Color) int {
	return t[c]
}

// Total returns the sum over all colors
func (t Tally) Total() int {
	total := 0
	for _, n := range t {
		total += n
	}
	return total
}

// Dominant returns the color with the highest count. Ties go to the color
// with the higher priority.
func (t Tally) Dominant() Color {
	best := ColorGreen
	for _, c := range Colors {
		if t[c] > t[best] {
			best = c
		}
	}
	return best
}

// String renders the non-zero counts, e.g. "3 🟩 1 🟥"
func (t Tally) String() string {
	var parts []string
	for _, c := range Colors {
		if t[c] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", t[c], c.Symbol()))
		}
	}
	return strings.Join(parts, " ")
}

// MarshalJSON encodes the tally as an object keyed by color name
func (t Tally) MarshalJSON() ([]byte, error) {
	m := make(map[string]int, NumColors)
	for _, c := range Colors {
		m[c.String()] = t[c]
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes an object keyed by color name
func (t *Tally) UnmarshalJSON(data []byte) error {
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out Tally
	for name, n := range m {
		c, err := ParseColor(name)
		if err != nil {
			return err
		}
		out[c] = n
	}
	*t = out
	return nil
}

// Reaction is one categorized reaction by a source user on a message
// authored by the target user
type Reaction struct {
	MessageID string    `json:"message_id"`
	TargetID  string    `json:"target_id"` // Author of the message
	SourceID  string    `json:"source_id"` // User who reacted
	Timestamp time.Time `json:"timestamp"` // Informational only
}

// ReactionKey identifies a reaction within one color partition
type ReactionKey struct {
	MessageID string
	TargetID  string
	SourceID  string
}

// Key returns the identity of the reaction
func (r Reaction) Key() ReactionKey {
	return ReactionKey{MessageID: r.MessageID, TargetID: r.TargetID, SourceID: r.SourceID}
}

// Change pairs a reaction with its color
type Change struct {
	Color    Color    `json:"color"`
	Reaction Reaction `json:"reaction"`
}

// UserPair is a (source, target) combination touched by a transaction
type UserPair struct {
	SourceID string
	TargetID string
}

// Transaction is the diff produced by one reconciliation pass
type Transaction struct {
	Adds    []Change
	Removes []Change

	pairs map[UserPair]struct{}
}

// NewTransaction creates an empty transaction
func NewTransaction() *Transaction {
	return &Transaction{pairs: make(map[UserPair]struct{})}
}

// Add records an insertion
func (tx *Transaction) Add(color Color, r Reaction) {
	tx.Adds = append(tx.Adds, Change{Color: color, Reaction: r})
	tx.touch(r)
}

// Remove records a deletion
func (tx *Transaction) Remove(color Color, r Reaction) {
	tx.Removes = append(tx.Removes, Change{Color: color, Reaction: r})
	tx.touch(r)
}

func (tx *Transaction) touch(r Reaction) {
	if tx.pairs == nil {
		tx.pairs = make(map[UserPair]struct{})
	}
	tx.pairs[UserPair{SourceID: r.SourceID, TargetID: r.TargetID}] = struct{}{}
}

// Empty reports whether the transaction has nothing to apply
func (tx *Transaction) Empty() bool {
	return tx == nil || (len(tx.Adds) == 0 && len(tx.Removes) == 0)
}

// Pairs returns the distinct user pairs in a stable order
func (tx *Transaction) Pairs() []UserPair {
	pairs := make([]UserPair, 0, len(tx.pairs))
	for p := range tx.pairs {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].SourceID != pairs[j].SourceID {
			return pairs[i].SourceID < pairs[j].SourceID
		}
		return pairs[i].TargetID < pairs[j].TargetID
	})
	return pairs
}

// CachedMessage is the persisted projection of a message with reactions
type CachedMessage struct {
	ID              string `json:"id"`
	ChannelID       string `json:"channel_id"`
	AuthorID        string `json:"author_id"`
	OriginalContent string `json:"original_content"`
}

// SquareboardEntry maps a source message to its mirror
type SquareboardEntry struct {
	MirrorMessageID string `json:"mirror_message_id"`
	Tally           Tally  `json:"tally"` // Tally last written to the mirror
}

// PairTally is the tally state of one (source, target) pair, used by the
// metrics sink
type PairTally struct {
	Pair        UserPair
	TargetTotal Tally // Everything the target has received
	FromSource  Tally // What the target has received from the source
}
