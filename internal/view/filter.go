// Package view derives the typed subsets of the entity collection that editors and pickers
// consume. Everything here is a pure function of its input.
package view

import (
	"github.com/msageha/psstudio/internal/model"
)

// Resource is a picker entry: the resolved id plus the entity's properties.
type Resource struct {
	ID         string       `json:"id"`
	Properties model.Values `json:"properties"`
}

type Filtered struct {
	Tasks         []model.Entity `json:"tasks"`
	Assignments   []model.Entity `json:"assignments"`
	VisualObjects []model.Entity `json:"visual_objects"`
	AvailablePPS  []Resource     `json:"available_pps"`
	AvailableMSU  []Resource     `json:"available_msu"`
	AvailableBots []Resource     `json:"available_bots"`
}

// Filter partitions entities. Input order is preserved within every subset and the
// input slice is never modified.
func Filter(entities []model.Entity) Filtered {
	f := Filtered{
		Tasks:         []model.Entity{},
		Assignments:   []model.Entity{},
		VisualObjects: []model.Entity{},
		AvailablePPS:  []Resource{},
		AvailableMSU:  []Resource{},
		AvailableBots: []Resource{},
	}
	for _, e := range entities {
		switch e.Type {
		case model.EntityTask:
			f.Tasks = append(f.Tasks, e.Clone())
			continue
		case model.EntityAssignment:
			f.Assignments = append(f.Assignments, e.Clone())
			continue
		}
		f.VisualObjects = append(f.VisualObjects, e.Clone())
		switch e.Type {
		case model.EntityPPS:
			f.AvailablePPS = append(f.AvailablePPS, resourceOf(e))
		case model.EntityMSU:
			f.AvailableMSU = append(f.AvailableMSU, resourceOf(e))
		case model.EntityBot:
			f.AvailableBots = append(f.AvailableBots, resourceOf(e))
		}
	}
	return f
}

// resourceOf prefers the domain id carried in properties over the entity id.
func resourceOf(e model.Entity) Resource {
	id := model.IDString(e.Properties["id"])
	if id == "" || id == "0" {
		id = e.ID
	}
	return Resource{ID: id, Properties: e.Properties.Clone()}
}

// ResourceIDs lists the ids of a resource pool.
func ResourceIDs(rs []Resource) []string {
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ID)
	}
	return ids
}
