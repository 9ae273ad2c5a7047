package store_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTitle(t *testing.T) {
	got, err := registrystore.NormalizeTitle("  Weather chat  ")
	require.NoError(t, err)
	require.Equal(t, "Weather chat", got)

	got, err = registrystore.NormalizeTitle(strings.Repeat("x", 80))
	require.NoError(t, err)
	require.Len(t, got, model.MaxTitleLength)

	_, err = registrystore.NormalizeTitle("   ")
	var ve *registrystore.ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "title", ve.Field)
}

func TestInitialMessage(t *testing.T) {
	require.Equal(t, "", registrystore.InitialMessage(nil))
	blank := "  \n "
	require.Equal(t, "", registrystore.InitialMessage(&blank))
	msg := " hi "
	require.Equal(t, "hi", registrystore.InitialMessage(&msg))
}

func TestNextTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)

	require.Equal(t, now.Truncate(time.Microsecond), registrystore.NextTimestamp(time.Time{}, now, time.Microsecond))

	// Clock did not advance.
	prev := now.Truncate(time.Millisecond)
	got := registrystore.NextTimestamp(prev, now, time.Millisecond)
	require.True(t, got.After(prev))
	require.Equal(t, prev.Add(time.Millisecond), got)

	// Clock went backwards.
	got = registrystore.NextTimestamp(now.Add(time.Second), now, time.Microsecond)
	require.True(t, got.After(now.Add(time.Second)))

	// Clock moved on.
	later := now.Add(time.Minute)
	require.Equal(t, later.Truncate(time.Microsecond), registrystore.NextTimestamp(now, later, time.Microsecond))
}

func TestDeriveTitle(t *testing.T) {
	require.Equal(t, model.DefaultConversationTitle, model.DeriveTitle("   "))
	require.Equal(t, "What's the weather?", model.DeriveTitle(" What's the weather? "))
	long := strings.Repeat("é", 60)
	require.Equal(t, strings.Repeat("é", 50), model.DeriveTitle(long))
}
