package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/apibench/internal/api"
)

// fakeContract is a minimal Contract for driving adapters in tests.
type fakeContract []api.Description

func (c fakeContract) APIDescription() []api.Description { return c }

func mustDesc(t *testing.T, name string, method api.Method) api.Description {
	t.Helper()
	d, err := api.NewDescription(name, method, "Test endpoint.")
	require.NoError(t, err)
	return d
}

// listContract covers the list-append API surface.
func listContract(t *testing.T) Contract {
	t.Helper()
	return fakeContract{mustDesc(t, "append", api.MethodPost)}
}

// kvContract covers the register API surface.
func kvContract(t *testing.T) Contract {
	t.Helper()
	return fakeContract{
		mustDesc(t, "put", api.MethodPost),
		mustDesc(t, "get", api.MethodGet),
	}
}
