package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/hdotariff/internal/tariff"
	"github.com/bher20/hdotariff/pkg/providers"
	"github.com/bher20/hdotariff/pkg/providers/distributors"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedule.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFetchRawSchedules(t *testing.T) {
	path := writeFile(t, `[
	  {"date": "2024-01-10", "default": "low", "events": [{"at": "06:00", "kind": "high"}, {"at": "22:00", "kind": "low"}]}
	]`)

	out, err := (&Provider{}).FetchSchedules(context.Background(), distributors.Meter{File: path})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, tariff.Low, out[0].Default)
	assert.Len(t, out[0].Events, 2)
	assert.False(t, out[0].FetchedAt.IsZero())
}

func TestFetchSavedCEZResponse(t *testing.T) {
	path := writeFile(t, `{"data":{"signals":[{"signal":"a","den":"Středa","datum":"10.01.2024","casy":"00:00-06:00"}]}}`)

	out, err := (&Provider{}).FetchSchedules(context.Background(), distributors.Meter{File: path})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "2024-01-10", out[0].Date)
}

func TestFetchErrors(t *testing.T) {
	p := &Provider{}
	_, err := p.FetchSchedules(context.Background(), distributors.Meter{})
	assert.Error(t, err)

	_, err = p.FetchSchedules(context.Background(), distributors.Meter{File: writeFile(t, `[]`)})
	assert.ErrorIs(t, err, providers.ErrNoData)

	_, err = p.FetchSchedules(context.Background(), distributors.Meter{File: writeFile(t, `[{"date": 5}]`)})
	assert.ErrorIs(t, err, providers.ErrParseFailed)

	_, err = p.ListSignals(context.Background(), "1")
	assert.ErrorIs(t, err, providers.ErrNotImplemented)
}
