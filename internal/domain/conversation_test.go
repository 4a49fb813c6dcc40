package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationStatusMachine(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("archive then reopen fails", func(t *testing.T) {
		c := NewConversation("c1", "A", "u1", "", now)
		require.NoError(t, c.Archive(now))

		err := c.Reopen(now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConversationArchived))
		assert.Equal(t, ConversationArchived, c.Status)
	})

	t.Run("close then reopen succeeds", func(t *testing.T) {
		c := NewConversation("c2", "A", "u1", "", now)
		require.NoError(t, c.Close(now))
		assert.Equal(t, ConversationClosed, c.Status)

		require.NoError(t, c.Reopen(now))
		assert.Equal(t, ConversationOpen, c.Status)
	})

	t.Run("archived cannot be closed", func(t *testing.T) {
		c := NewConversation("c3", "A", "u1", "", now)
		require.NoError(t, c.Archive(now))
		assert.True(t, errors.Is(c.Close(now), ErrConversationArchived))
	})
}

func TestConversationUnreadAccounting(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewConversation("c1", "A", "u1", "", start)
	assert.Equal(t, 0, c.UnreadCount)
	assert.Equal(t, ConversationOpen, c.Status)

	for i := 0; i < 3; i++ {
		c.RecordMessage(SenderCustomer, start.Add(time.Duration(i)*time.Minute))
	}
	for i := 0; i < 2; i++ {
		c.RecordMessage(SenderUser, start.Add(time.Duration(10+i)*time.Minute))
	}
	assert.Equal(t, 3, c.UnreadCount)
	require.NotNil(t, c.LastMessageAt)
	assert.Equal(t, start.Add(11*time.Minute), *c.LastMessageAt)

	c.MarkAllRead(start.Add(time.Hour))
	assert.Equal(t, 0, c.UnreadCount)
}

func TestConversationLastMessageAtNeverMovesBackwards(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewConversation("c1", "A", "u1", "", t0)

	c.RecordMessage(SenderCustomer, t0.Add(time.Hour))
	c.RecordMessage(SenderCustomer, t0)

	assert.Equal(t, t0.Add(time.Hour), *c.LastMessageAt)
	assert.Equal(t, 2, c.UnreadCount)
}
