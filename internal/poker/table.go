package poker

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/jason-s-yu/tabletop/internal/models"
)

// Table is one client's replica of a poker hand. It computes candidate states for
// the local seat and merges authoritative states received from the room.
type Table struct {
	mu    sync.Mutex
	cfg   Config
	rng   *rand.Rand
	state *State
}

// NewTable returns a table with the given stakes. A nil rng shuffles with the global source.
func NewTable(cfg Config, rng *rand.Rand) *Table {
	return &Table{cfg: cfg, rng: rng, state: NewState(cfg)}
}

func (t *Table) GameID() string { return GameID }

// Reset drops any hand in progress.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = NewState(t.cfg)
}

// DealerSeat is the seat whose client deals the opening state.
func (t *Table) DealerSeat() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.DealerSeat
}

// Start deals a new hand and returns its encoded state. The local replica is not
// changed until the state is merged back.
func (t *Table) Start() (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return json.Marshal(Start(t.cfg, t.rng))
}

// Apply decodes move as an Action for seat and returns the encoded next state.
func (t *Table) Apply(seat int, move json.RawMessage) (json.RawMessage, error) {
	var a Action
	if err := json.Unmarshal(move, &a); err != nil {
		return nil, models.Validationf("apply", "bad poker action: %v", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := Apply(t.state, seat, a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(next)
}

// Forfeit returns the encoded state in which loser concedes the pot.
func (t *Table) Forfeit(loser int) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := Forfeit(t.state, loser)
	if err != nil {
		return nil, err
	}
	return json.Marshal(next)
}

// Merge replaces the replica with an authoritative state after checking it is a
// legal successor of the current one.
func (t *Table) Merge(payload json.RawMessage) error {
	var next State
	if err := json.Unmarshal(payload, &next); err != nil {
		return models.NewError(models.KindStateDesync, "merge", fmt.Errorf("decode poker state: %w", err))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := Validate(t.state, &next); err != nil {
		return err
	}
	t.state = &next
	return nil
}

// Outcome reports the result of the current replica.
func (t *Table) Outcome() models.Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Outcome()
}

// CurrentSeat is the seat expected to act, or 0 when nobody can.
func (t *Table) CurrentSeat() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Phase == PhaseWaiting || t.state.Resolved {
		return 0
	}
	return t.state.CurrentTurn
}

// Snapshot returns a copy of the replica.
func (t *Table) Snapshot() *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Clone()
}
