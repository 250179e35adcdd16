package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type failing struct{}

func (failing) Publish(context.Context, Event) error { return errors.New("down") }

func TestFanoutDeliversPastFailures(t *testing.T) {
	rec := &Recorder{}
	f := NewFanout(failing{}, rec)

	err := f.Publish(context.Background(), New(TypeGameResult, "alice", map[string]any{"isWin": true}))
	assert.NoError(t, err)
	assert.Len(t, rec.OfType(TypeGameResult), 1)
	assert.Equal(t, "alice", rec.Events()[0].UserID)
}

func TestEmitToleratesNil(t *testing.T) {
	Emit(context.Background(), nil, New(TypeBalanceUpdate, "a", nil))
	Emit(context.Background(), failing{}, New(TypeBalanceUpdate, "a", nil))
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "stakeplay.balance_update", Subject("stakeplay", TypeBalanceUpdate))
	assert.Equal(t, "stakeplay.jackpot.ticket_sold", Subject("stakeplay", TypeTicketSold))
}
