package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/rpcerr"
)

func TestHistoryParamsToFilter(t *testing.T) {
	f, err := HistoryParams{
		Types:  []string{"click", "input"},
		Domain: "example.test",
		Status: 404,
		Level:  "error",
		Limit:  10,
		Offset: 5,
	}.toFilter()
	require.NoError(t, err)
	require.Equal(t, []model.EventType{model.EventClick, model.EventInput}, f.Types)
	require.Equal(t, "example.test", f.Domain)
	require.True(t, f.HasStatus)
	require.Equal(t, 404, f.Status)
	require.Equal(t, "error", f.Level)
	require.Equal(t, 10, f.Limit)
	require.Equal(t, 5, f.Offset)
	require.Zero(t, f.SinceMs)
}

func TestHistoryParamsLastDuration(t *testing.T) {
	before := time.Now().Add(-time.Minute).UnixMilli()
	f, err := HistoryParams{Last: "1m"}.toFilter()
	require.NoError(t, err)
	after := time.Now().Add(-time.Minute).UnixMilli()
	require.GreaterOrEqual(t, f.SinceMs, before)
	require.LessOrEqual(t, f.SinceMs, after)
}

func TestHistoryParamsBadDuration(t *testing.T) {
	_, err := HistoryParams{Last: "yesterday"}.toFilter()
	e, ok := rpcerr.As(err)
	require.True(t, ok)
	require.Equal(t, rpcerr.InvalidParams, e.Kind)
}
