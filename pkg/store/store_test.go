package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wharfd/wharf/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordRoundTrip(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetRecord("web")
	require.NoError(t, err)
	assert.Nil(t, got, "no record yet")

	record := &InstanceRecord{
		Service:   "web",
		Current:   "web-3f2a91bc",
		Previous:  "web-9d04e711",
		Identity:  "c0ffee",
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.PutRecord(record))

	got, err = s.GetRecord("web")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record.Current, got.Current)
	assert.Equal(t, record.Previous, got.Previous)
	assert.Equal(t, record.Identity, got.Identity)

	// Upsert overwrites.
	record.Previous = ""
	record.Identity = "decade"
	require.NoError(t, s.PutRecord(record))
	got, err = s.GetRecord("web")
	require.NoError(t, err)
	assert.Empty(t, got.Previous)
	assert.Equal(t, "decade", got.Identity)

	require.NoError(t, s.DeleteRecord("web"))
	got, err = s.GetRecord("web")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListRecords(t *testing.T) {
	s := newTestStore(t)

	for _, svc := range []string{"web", "api", "db"} {
		require.NoError(t, s.PutRecord(&InstanceRecord{Service: svc, Current: svc + "-1"}))
	}
	records, err := s.ListRecords()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestKnownInstances(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutRecord(&InstanceRecord{Service: "web", Current: "web-1", Previous: "web-0"}))
	require.NoError(t, s.PutRecord(&InstanceRecord{Service: "db", Current: "db-1"}))

	known, err := s.KnownInstances()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"web-1": true, "web-0": true, "db-1": true}, known)
}

func TestReferencedIdentities(t *testing.T) {
	s := newTestStore(t)

	// A record for a service that was since removed from the fleet file:
	// its identity stays referenced until the record goes away.
	require.NoError(t, s.PutRecord(&InstanceRecord{Service: "legacy", Current: "legacy-1", Identity: "0ld1d"}))

	specs := []*types.ServiceSpec{
		{Name: "web", Identity: "aaa111"},
		{Name: "db", Identity: "bbb222"},
		{Name: "base", Identity: ""},
	}
	refs, err := s.ReferencedIdentities(specs)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"aaa111": true, "bbb222": true, "0ld1d": true}, refs)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.PutRecord(&InstanceRecord{Service: "web", Current: "web-1"}))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetRecord("web")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "web-1", got.Current)
}
