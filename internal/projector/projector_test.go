package projector

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duisenbekovayan/ordersync/internal/models"
)

func ids(list []models.Order) []int64 {
	out := make([]int64, 0, len(list))
	for _, o := range list {
		out = append(out, o.ID)
	}
	return out
}

func seeded() *Projector {
	p := New()
	p.ReplaceAll([]models.Order{
		{ID: 3, Notes: "three"},
		{ID: 1, Notes: "one"},
		{ID: 2, Notes: "two"},
	})
	return p
}

func TestReplaceAll_KeepsOrderAndCollapsesDuplicates(t *testing.T) {
	p := New()
	p.ReplaceAll([]models.Order{
		{ID: 1, Notes: "first"},
		{ID: 2},
		{ID: 1, Status: models.OrderStatusShipped},
	})

	assert.Equal(t, []int64{1, 2}, ids(p.List()))
	got, ok := p.Get(1)
	require.True(t, ok)
	assert.Equal(t, models.OrderStatusShipped, got.Status)
}

func TestUpsert_ExistingUpdatesInPlace(t *testing.T) {
	p := seeded()

	got, inserted := p.Upsert(models.OrderPatch{ID: 1, Status: models.Status(models.OrderStatusConfirmed)})
	assert.False(t, inserted)
	assert.Equal(t, "one", got.Notes)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)
	assert.Equal(t, []int64{3, 1, 2}, ids(p.List()))
}

func TestUpsert_NewIDInsertsAtHead(t *testing.T) {
	p := seeded()

	_, inserted := p.Upsert(models.OrderPatch{ID: 9, Notes: models.String("nine")})
	assert.True(t, inserted)
	assert.Equal(t, 4, p.Len())
	assert.Equal(t, []int64{9, 3, 1, 2}, ids(p.List()))

	// Index must follow the shift.
	got, ok := p.Get(2)
	require.True(t, ok)
	assert.Equal(t, "two", got.Notes)
}

func TestPatchFields(t *testing.T) {
	p := seeded()

	got, err := p.PatchFields(2, models.OrderPatch{IsContacted: models.Bool(true)})
	require.NoError(t, err)
	assert.True(t, got.IsContacted)
	assert.True(t, got.IsContactedWithClient)
	assert.Equal(t, "two", got.Notes)

	_, err = p.PatchFields(42, models.OrderPatch{Notes: models.String("x")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 3, p.Len())
}

func TestRemove(t *testing.T) {
	p := seeded()

	assert.True(t, p.Remove(3))
	assert.False(t, p.Remove(3))
	assert.Equal(t, []int64{1, 2}, ids(p.List()))

	got, ok := p.Get(2)
	require.True(t, ok)
	assert.Equal(t, "two", got.Notes)
}

func TestList_ReturnsCopy(t *testing.T) {
	p := seeded()
	list := p.List()
	list[0].Notes = "mutated"

	got, _ := p.Get(3)
	assert.Equal(t, "three", got.Notes)
}

func TestProjector_ConcurrentUpsertsNeverDuplicate(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.Upsert(models.OrderPatch{ID: int64(i % 5)})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, p.Len())
	assert.ElementsMatch(t, []int64{0, 1, 2, 3, 4}, ids(p.List()))
}
