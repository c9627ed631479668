package model_test

import (
	"testing"

	"github.com/sentimentjester/jester/internal/model"
	"github.com/stretchr/testify/require"
)

func score(v float64) *float64 { return &v }

func TestDecodeSeries(t *testing.T) {
	s, err := model.DecodeSeries([]byte(` [{"timestamp":1,"reddit":70,"twitter":null}] `))
	require.NoError(t, err)
	require.Len(t, s, 1)
	require.Equal(t, 70.0, *s[0].Reddit)
	require.Nil(t, s[0].Twitter)
	require.Nil(t, s[0].YouTube)

	_, err = model.DecodeSeries([]byte(`{"timestamp":1}`))
	require.ErrorIs(t, err, model.ErrNotSequence)

	_, err = model.DecodeSeries([]byte(`[{"timestamp":"x"}]`))
	require.Error(t, err)

	_, err = model.DecodeSeries(nil)
	require.ErrorIs(t, err, model.ErrNotSequence)
}

func TestEncodeSeries(t *testing.T) {
	b, err := model.EncodeSeries(model.EmptySeries(model.TimeRange{Start: 0, End: model.DaySeconds}))
	require.NoError(t, err)
	require.JSONEq(t, `[{"timestamp":0,"reddit":null,"twitter":null,"youtube":null}]`, string(b))

	b, err = model.EncodeSeries(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", string(b))
}

func TestOverlay(t *testing.T) {
	base := model.EmptySeries(model.TimeRange{Start: 0, End: 2 * model.DaySeconds})
	base[1].Twitter = score(10)

	incoming := []model.DataPoint{
		{Timestamp: 0, Reddit: score(70)},
		{Timestamp: model.DaySeconds, YouTube: score(30)},
		{Timestamp: 5 * model.DaySeconds, Reddit: score(1)},
	}
	got := model.Overlay(base, incoming)

	require.Len(t, got, 3)
	require.Equal(t, 70.0, *got[0].Reddit)
	require.Nil(t, got[0].Twitter)
	require.Equal(t, 10.0, *got[1].Twitter)
	require.Equal(t, 30.0, *got[1].YouTube)
	require.Equal(t, int64(5*model.DaySeconds), got[2].Timestamp)
	require.Equal(t, 1.0, *got[2].Reddit)
	require.Nil(t, base[0].Reddit, "base must not change")
	require.Len(t, base, 2)

	require.True(t, model.HasScores(got, model.Reddit))
	require.True(t, model.HasScores(got, model.YouTube))
	require.False(t, model.HasScores(base, model.Reddit))

	require.True(t, model.EqualSeries(got, model.Overlay(got, nil)))
	require.False(t, model.EqualSeries(got, base))
}

func TestOverlay_Unaligned(t *testing.T) {
	base := model.EmptySeries(model.TimeRange{Start: 1714500000, End: 1714600000})
	incoming := []model.DataPoint{{Timestamp: 1714435200, Reddit: score(70)}}

	got := model.Overlay(base, incoming)
	require.Len(t, got, 3)
	require.Equal(t, int64(1714435200), got[0].Timestamp)
	require.Equal(t, 70.0, *got[0].Reddit)
	require.Equal(t, int64(1714500000), got[1].Timestamp)
	require.True(t, model.HasScores(got, model.Reddit))
}
