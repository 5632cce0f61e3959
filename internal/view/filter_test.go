package view

import (
	"testing"

	"github.com/msageha/psstudio/internal/model"
	"github.com/stretchr/testify/assert"
)

func intp(v int) *int { return &v }

func sample() []model.Entity {
	return []model.Entity{
		{ID: "1", Type: model.EntityPPS, X: intp(1), Y: intp(1), Properties: model.Values{"id": 1}},
		{ID: "task-1", Type: model.EntityTask, Properties: model.Values{"task_key": "task-1"}},
		{ID: "2", Type: model.EntityMSU, X: intp(2), Y: intp(2), Properties: model.Values{"id": 20}},
		{ID: "A1", Type: model.EntityAssignment, StationID: "1", Properties: model.Values{"id": "A1"}},
		{ID: "3", Type: model.EntityBot, X: intp(3), Y: intp(3), Properties: model.Values{}},
		{ID: "4", Type: model.EntityRelay, X: intp(4), Y: intp(4), Properties: model.Values{"id": 4}},
	}
}

func TestFilter_Partitions(t *testing.T) {
	f := Filter(sample())

	assert.Len(t, f.Tasks, 1)
	assert.Len(t, f.Assignments, 1)
	assert.Len(t, f.VisualObjects, 4)
	for _, e := range f.VisualObjects {
		assert.NotEqual(t, model.EntityTask, e.Type)
		assert.NotEqual(t, model.EntityAssignment, e.Type)
	}
	assert.Equal(t, []string{"1"}, ResourceIDs(f.AvailablePPS))
	assert.Equal(t, []string{"20"}, ResourceIDs(f.AvailableMSU))
	assert.Equal(t, []string{"3"}, ResourceIDs(f.AvailableBots), "falls back to the entity id")
}

func TestFilter_Empty(t *testing.T) {
	f := Filter(nil)
	assert.NotNil(t, f.Tasks)
	assert.Empty(t, f.VisualObjects)
	assert.Empty(t, f.AvailablePPS)
}

func TestFilter_DoesNotAliasInput(t *testing.T) {
	in := sample()
	f := Filter(in)
	f.AvailablePPS[0].Properties["id"] = 99
	f.Tasks[0].Properties["task_key"] = "changed"

	assert.Equal(t, 1, in[0].Properties["id"])
	assert.Equal(t, "task-1", in[1].Properties["task_key"])
}
