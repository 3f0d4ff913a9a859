package refs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/rpcerr"
)

func TestGenerate(t *testing.T) {
	require.Equal(t, "i5", Generate(model.CategoryInteractive, 5))
	require.Equal(t, "f0", Generate(model.CategoryForm, 0))
	require.Equal(t, "n12", Generate(model.CategoryNavigation, 12))
}

func TestResolveCurrentGeneration(t *testing.T) {
	r := NewRegistry()
	r.Publish("s1", 3, []model.RefEntry{
		{RefID: "i0", Selector: "#login", Category: model.CategoryInteractive},
		{RefID: "f0", Selector: "input[name=email]", Category: model.CategoryForm},
	})

	sel, err := r.Resolve("s1", "i0", 3)
	require.NoError(t, err)
	require.Equal(t, "#login", sel)

	sel, err = r.Resolve("s1", "f0", 3)
	require.NoError(t, err)
	require.Equal(t, "input[name=email]", sel)
}

func TestResolveStaleGeneration(t *testing.T) {
	r := NewRegistry()
	r.Publish("s1", 3, []model.RefEntry{{RefID: "i0", Selector: "#login"}})

	_, err := r.Resolve("s1", "i0", 4)
	e, ok := rpcerr.As(err)
	require.True(t, ok)
	require.Equal(t, rpcerr.RefExpired, e.Kind)
}

func TestResolveInvalidRef(t *testing.T) {
	r := NewRegistry()
	r.Publish("s1", 1, []model.RefEntry{{RefID: "i0", Selector: "#a"}})

	for _, bad := range []string{"x0", "", "i", "iabc", "0i", "i0x"} {
		_, err := r.Resolve("s1", bad, 1)
		e, ok := rpcerr.As(err)
		require.True(t, ok, "ref %q", bad)
		require.Equal(t, rpcerr.RefInvalid, e.Kind, "ref %q", bad)
	}
}

func TestPublishOmitsEmptySelectors(t *testing.T) {
	r := NewRegistry()
	r.Publish("s1", 1, []model.RefEntry{
		{RefID: "i0", Selector: ""},
		{RefID: "i1", Selector: "#ok"},
	})

	_, err := r.Resolve("s1", "i0", 1)
	e, _ := rpcerr.As(err)
	require.Equal(t, rpcerr.RefExpired, e.Kind)

	sel, err := r.Resolve("s1", "i1", 1)
	require.NoError(t, err)
	require.Equal(t, "#ok", sel)
}

func TestPublishReplacesTable(t *testing.T) {
	r := NewRegistry()
	r.Publish("s1", 1, []model.RefEntry{{RefID: "i0", Selector: "#old"}})
	r.Publish("s1", 1, []model.RefEntry{{RefID: "i0", Selector: "#new"}})

	sel, err := r.Resolve("s1", "i0", 1)
	require.NoError(t, err)
	require.Equal(t, "#new", sel)
}

func TestInvalidate(t *testing.T) {
	r := NewRegistry()
	r.Publish("s1", 1, []model.RefEntry{{RefID: "i0", Selector: "#a"}})
	r.Invalidate("s1")

	_, err := r.Resolve("s1", "i0", 1)
	e, _ := rpcerr.As(err)
	require.Equal(t, rpcerr.RefExpired, e.Kind)

	// Idempotent.
	r.Drop("s1")
}
