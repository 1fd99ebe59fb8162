package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CauchyIO/brickkit/backend"
	"github.com/CauchyIO/brickkit/catalog"
	"github.com/CauchyIO/brickkit/infrastructure/errors"
)

func newTestReader(fake *backend.Fake) *Reader {
	return NewReader(ReaderConfig{Client: fake, SQL: fake})
}

func TestRead_AbsentIsNotAnError(t *testing.T) {
	reader := newTestReader(backend.NewFake())

	rec, err := reader.Read(context.Background(), catalog.TypeCatalog, "missing_dev")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRead_NormalizesAndEnriches(t *testing.T) {
	fake := backend.NewFake()
	fake.Seed(backend.ResourceInfo{
		Type:     catalog.TypeTable,
		Name:     "orders",
		FullName: "c.s.orders",
		Owner:    "owners_dev",
		Tags:     []backend.TagRecord{{Key: "pii", Value: "true"}},
	})
	fake.SeedGrants(catalog.TypeTable, "c.s.orders", []backend.GrantRecord{
		{Principal: "analysts_dev", Privileges: []string{"SELECT"}},
	})
	fake.SeedTableExtended("c.s.orders", backend.TableExtended{
		RowFilter:   "c.gov.filter_fn",
		ColumnMasks: map[string]string{"ssn": "c.gov.mask_fn"},
	})

	reader := newTestReader(fake)
	rec, err := reader.Read(context.Background(), catalog.TypeTable, "c.s.orders")
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "owners_dev", rec.Owner)
	assert.Equal(t, "true", rec.Tags["pii"])
	assert.True(t, rec.HasGrant("analysts_dev", "SELECT"))
	assert.Equal(t, "c.gov.filter_fn", rec.RowFilter)
	assert.Equal(t, "c.gov.mask_fn", rec.ColumnMasks["ssn"])
	assert.False(t, rec.Partial)
}

func TestRead_CachesUntilInvalidated(t *testing.T) {
	fake := backend.NewFake()
	fake.Seed(backend.ResourceInfo{Type: catalog.TypeCatalog, Name: "c", FullName: "c_dev", Owner: "a"})

	reader := newTestReader(fake)
	first, err := reader.Read(context.Background(), catalog.TypeCatalog, "c_dev")
	require.NoError(t, err)
	require.NotNil(t, first)

	// Mutate behind the cache.
	require.NoError(t, fake.SetOwner(context.Background(), catalog.TypeCatalog, "c_dev", "b"))

	cached, err := reader.Read(context.Background(), catalog.TypeCatalog, "c_dev")
	require.NoError(t, err)
	assert.Equal(t, "a", cached.Owner, "cache serves the stale record")

	reader.Invalidate(catalog.TypeCatalog, "c_dev")
	fresh, err := reader.Read(context.Background(), catalog.TypeCatalog, "c_dev")
	require.NoError(t, err)
	assert.Equal(t, "b", fresh.Owner)
}

func TestRead_PermissionDeniedYieldsPartial(t *testing.T) {
	fake := backend.NewFake()
	fake.FailWith["Get"] = errors.PermissionDenied("get", nil)

	reader := newTestReader(fake)
	rec, err := reader.Read(context.Background(), catalog.TypeSchema, "c.s")
	require.Error(t, err)
	assert.True(t, errors.IsPermissionDenied(err))
	require.NotNil(t, rec)
	assert.True(t, rec.Partial)
}

func TestReadChildren(t *testing.T) {
	fake := backend.NewFake()
	fake.Seed(backend.ResourceInfo{Type: catalog.TypeSchema, Name: "s1", FullName: "c_dev.s1"})
	fake.Seed(backend.ResourceInfo{Type: catalog.TypeSchema, Name: "s2", FullName: "c_dev.s2"})
	fake.Seed(backend.ResourceInfo{Type: catalog.TypeSchema, Name: "other", FullName: "other_dev.s"})

	reader := newTestReader(fake)
	children, err := reader.ReadChildren(context.Background(), catalog.TypeSchema, "c_dev")
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestExtractSpaceTables(t *testing.T) {
	serialized := `{
		"data_sources": [
			{"table": "prod.sales.orders"},
			{"table": "prod.sales.customers"},
			{"table": "prod.sales.orders"}
		],
		"tables": ["prod.ref.calendar"]
	}`
	tables := extractSpaceTables(serialized)
	assert.ElementsMatch(t, []string{"prod.sales.orders", "prod.sales.customers", "prod.ref.calendar"}, tables)

	assert.Nil(t, extractSpaceTables("not json"))
}

func TestCache_AbsenceVsMiss(t *testing.T) {
	c := NewCache(0)
	_, ok := c.Get("k")
	assert.False(t, ok, "miss")

	c.Put("k", nil)
	rec, ok := c.Get("k")
	assert.True(t, ok, "cached absence is a hit")
	assert.Nil(t, rec)
}
