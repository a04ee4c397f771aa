package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"channel-service/internal/mocks"
	"channel-service/internal/models"
	"channel-service/internal/repositories"
	"channel-service/internal/storage/memory"
)

func newDirectory() (*ChannelDirectory, *memory.Store) {
	store := memory.New()
	return NewChannelDirectory(store), store
}

func TestCreateChannelCaseInsensitiveCollision(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory()

	ch, err := dir.Create(ctx, "p1", "design", "")
	require.NoError(t, err)
	assert.Equal(t, "design", ch.Name)

	_, err = dir.Create(ctx, "p1", "  Design ", "")
	require.ErrorIs(t, err, repositories.ErrChannelNameTaken)
}

func TestCreateChannelValidation(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory()

	cases := map[string]struct {
		project string
		name    string
	}{
		"empty name":   {"p1", "   "},
		"long name":    {"p1", strings.Repeat("x", MaxChannelNameLength+1)},
		"missing proj": {"", "ok"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := dir.Create(ctx, tc.project, tc.name, "")
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}

	_, err := dir.Create(ctx, "p1", strings.Repeat("é", MaxChannelNameLength), "")
	require.NoError(t, err, "limit counts characters, not bytes")
}

func TestGeneralChannelIsProtected(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory()

	general, err := dir.Create(ctx, "p1", "General", "")
	require.NoError(t, err)

	_, err = dir.Delete(ctx, general.ID)
	require.ErrorIs(t, err, ErrProtectedChannel)
	_, err = dir.Archive(ctx, general.ID)
	require.ErrorIs(t, err, ErrProtectedChannel)

	still, err := dir.Get(ctx, general.ID)
	require.NoError(t, err)
	assert.Equal(t, general.ID, still.ID)
}

func TestDeleteChannelCascadesMessages(t *testing.T) {
	ctx := context.Background()
	dir, store := newDirectory()

	ch, err := dir.Create(ctx, "p1", "random", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := store.CreateMessage(ctx, models.NewMessage{Room: ch.Room(), Sender: "u1", Content: "x"})
		require.NoError(t, err)
	}
	_, err = store.CreateMessage(ctx, models.NewMessage{Room: models.ChannelRoom("other"), Sender: "u1", Content: "y"})
	require.NoError(t, err)

	out, err := dir.Delete(ctx, ch.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, out.DeletedMessages)
	assert.Equal(t, ch.ID, out.Channel.ID)

	_, err = dir.Get(ctx, ch.ID)
	require.ErrorIs(t, err, repositories.ErrChannelNotFound)
	left, err := store.ListMessages(ctx, models.ChannelRoom("other"), 0, nil)
	require.NoError(t, err)
	assert.Len(t, left, 1)

	_, err = dir.Delete(ctx, ch.ID)
	require.ErrorIs(t, err, repositories.ErrChannelNotFound)
}

func TestArchiveHidesChannelAndFreesName(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory()

	ch, err := dir.Create(ctx, "p1", "launch", "")
	require.NoError(t, err)
	archived, err := dir.Archive(ctx, ch.ID)
	require.NoError(t, err)
	assert.True(t, archived.IsDeleted)
	require.NotNil(t, archived.DeletedAt)

	list, err := dir.ListByProject(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = dir.Create(ctx, "p1", "Launch", "")
	require.NoError(t, err)
}

func TestUpdateChannelPartialFields(t *testing.T) {
	ctx := context.Background()
	dir, _ := newDirectory()

	ch, err := dir.Create(ctx, "p1", "ops", "old")
	require.NoError(t, err)
	_, err = dir.Create(ctx, "p1", "dev", "")
	require.NoError(t, err)

	desc := "new"
	updated, err := dir.Update(ctx, ch.ID, nil, &desc)
	require.NoError(t, err)
	assert.Equal(t, "ops", updated.Name)
	assert.Equal(t, "new", updated.Description)

	name := "DEV"
	_, err = dir.Update(ctx, ch.ID, &name, nil)
	require.ErrorIs(t, err, repositories.ErrChannelNameTaken)

	empty := ""
	_, err = dir.Update(ctx, ch.ID, &empty, nil)
	assert.True(t, IsValidation(err))
}

func TestDeleteChannelFailureIsReturned(t *testing.T) {
	channels := new(mocks.ChannelRepositoryMock)
	dir := NewChannelDirectory(channels)

	ch := models.Channel{ID: "c1", ProjectID: "p1", Name: "random"}
	channels.On("GetChannel", mock.Anything, "c1").Return(ch, nil).Once()
	channels.On("DeleteChannel", mock.Anything, "c1").Return(nil, int64(0), assert.AnError).Once()

	_, err := dir.Delete(context.Background(), "c1")
	require.ErrorIs(t, err, assert.AnError)
	channels.AssertExpectations(t)
}
