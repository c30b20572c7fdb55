package notify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_KeepsLatest(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		r.Notify(Notification{Level: LevelInfo, Message: fmt.Sprintf("msg %d", i)})
	}

	recent := r.Recent()
	require.Len(t, recent, 3)
	assert.Equal(t, "msg 3", recent[0].Message)
	assert.Equal(t, "msg 5", recent[2].Message)
}

func TestRing_PartialFill(t *testing.T) {
	r := NewRing(10)
	r.Notify(Notification{Level: LevelSuccess, Message: "minted", TxHash: "0xabc"})

	recent := r.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, LevelSuccess, recent[0].Level)
	assert.Equal(t, "0xabc", recent[0].TxHash)
	assert.False(t, recent[0].At.IsZero())
}
