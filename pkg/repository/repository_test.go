package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/contentfin/pkg/db/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	ID     int64  `gorm:"primaryKey"`
	Kind   string `gorm:"column:kind"`
	Weight int    `gorm:"column:weight"`
}

func setupStore(t *testing.T) Repository[widget] {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&widget{}))
	return ProvideStore[widget](conn)
}

func TestStore_FindAppliesFilterAndOptions(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.BatchCreate(ctx, []*widget{
		{ID: 1, Kind: "a", Weight: 5},
		{ID: 2, Kind: "a", Weight: 1},
		{ID: 3, Kind: "b", Weight: 9},
		{ID: 4, Kind: "a", Weight: 7},
	}))

	found, err := store.Find(ctx, &widget{Kind: "a"},
		option.ApplyOperator(option.Condition{Field: "weight", Operator: option.GTE, Value: 2}),
		option.OrderBy("weight desc", "id; drop table widgets", "id asc"),
	)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, int64(4), found[0].ID)
	assert.Equal(t, int64(1), found[1].ID)

	count, err := store.Count(ctx, &widget{Kind: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestStore_FindOneMissingIsNil(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &widget{ID: 1, Kind: "a"}))

	got, err := store.FindOne(ctx, &widget{Kind: "a"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)

	missing, err := store.FindOne(ctx, &widget{Kind: "z"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestApplyOperator_IgnoresUnsafeField(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &widget{ID: 1, Kind: "a"}))

	found, err := store.Find(ctx, &widget{},
		option.ApplyOperator(option.Condition{Field: "kind = 'x' OR 1", Value: 1}),
	)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}
