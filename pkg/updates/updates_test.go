package updates

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharf/pkg/config"
	"github.com/wharfd/wharf/pkg/runtime"
	"github.com/wharfd/wharf/pkg/types"
)

// oneShotRuntime answers RunOneShot from canned per-image output.
type oneShotRuntime struct {
	runtime.Runtime

	output map[string]string
	fail   map[string]error
	calls  []string
}

func (o *oneShotRuntime) RunOneShot(ctx context.Context, image string, cmd []string) (string, error) {
	o.calls = append(o.calls, fmt.Sprintf("%s %v", image, cmd))
	if err := o.fail[image]; err != nil {
		return "", err
	}
	return o.output[image], nil
}

func testFleet() *config.Fleet {
	return &config.Fleet{Services: []*types.ServiceSpec{
		{Name: "web", Identity: "id-web", UpdateCheckCommand: []string{"apt-get", "-s", "upgrade"}},
		{Name: "db", Identity: "id-db", UpdateCheckCommand: []string{"check-updates"}},
		{Name: "cache", Identity: "id-cache"}, // no check command
	}}
}

func TestCheckReportsPendingUpdates(t *testing.T) {
	rt := &oneShotRuntime{output: map[string]string{
		"web:latest": "libssl3 3.0.1 -> 3.0.2\n",
		"db:latest":  "\n",
	}}
	summary, err := NewChecker(testFleet(), rt).Check(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, summary.Services, 2, "services without a check command are skipped")
	assert.Equal(t, []string{"web"}, summary.Pending())

	web := summary.Services[0]
	assert.True(t, web.Pending)
	assert.Equal(t, "libssl3 3.0.1 -> 3.0.2", web.Detail, "output is trimmed")

	db := summary.Services[1]
	assert.False(t, db.Pending, "whitespace-only output means up to date")
}

func TestCheckSubset(t *testing.T) {
	rt := &oneShotRuntime{output: map[string]string{"db:latest": "updates!\n"}}
	summary, err := NewChecker(testFleet(), rt).Check(context.Background(), []string{"db"})
	require.NoError(t, err)

	require.Len(t, summary.Services, 1)
	assert.Equal(t, []string{"db:latest [check-updates]"}, rt.calls)
	assert.Equal(t, []string{"db"}, summary.Pending())

	_, err = NewChecker(testFleet(), rt).Check(context.Background(), []string{"ghost"})
	require.Error(t, err)
}

func TestCheckCommandFailure(t *testing.T) {
	rt := &oneShotRuntime{
		fail:   map[string]error{"web:latest": errors.New("image missing")},
		output: map[string]string{"db:latest": ""},
	}
	summary, err := NewChecker(testFleet(), rt).Check(context.Background(), nil)
	require.NoError(t, err, "one failing check does not abort the pass")

	web := summary.Services[0]
	require.Error(t, web.Err)
	assert.False(t, web.Pending, "a failed check is not a pending update")
	assert.Empty(t, summary.Pending())
}
