package subject_test

import (
	"testing"

	"github.com/sentimentjester/jester/internal/model"
	"github.com/sentimentjester/jester/internal/store"
	"github.com/sentimentjester/jester/internal/subject"
	"github.com/stretchr/testify/require"
)

func TestService(t *testing.T) {
	ctx := t.Context()
	db, err := store.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	coll := store.NewCollection[model.Subject](db, store.Subjects)

	svc, err := subject.New(ctx, coll)
	require.NoError(t, err)
	require.Empty(t, svc.List())

	btc, err := svc.Add(ctx, subject.AddParams{Name: " Bitcoin ", Subreddit: "r/Bitcoin", Hashtag: "#btc", VideoLink: "bitcoin news"})
	require.NoError(t, err)
	require.Equal(t, "Bitcoin", btc.Name)
	require.Equal(t, "Bitcoin", btc.Identifier(model.Reddit))
	require.Equal(t, "btc", btc.Identifier(model.Twitter))
	require.Equal(t, "bitcoin news", btc.Identifier(model.YouTube))
	require.NotZero(t, btc.CreatedAt)

	_, err = svc.Add(ctx, subject.AddParams{Name: ""})
	require.ErrorIs(t, err, model.ErrInvalidRequest)
	_, err = svc.Add(ctx, subject.AddParams{Name: "Nothing"})
	require.ErrorIs(t, err, model.ErrInvalidRequest)

	reloaded, err := subject.New(ctx, coll)
	require.NoError(t, err)
	got, err := reloaded.Get(btc.ID)
	require.NoError(t, err)
	require.Equal(t, btc.Hashtag, got.Hashtag)

	ok, err := svc.Delete(ctx, btc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = svc.Delete(ctx, btc.ID)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = svc.Get(btc.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
}
