// Package decode turns raw query result frames into human-readable feed text
// using the event-type metadata published by the stream directory.
package decode

import "github.com/tinytelemetry/cepwatch/internal/model"

// Catalog indexes event types by id across a stream directory snapshot.
// Type ids are assumed globally unique; the first occurrence wins.
type Catalog struct {
	types map[model.EventTypeID]model.EventTypeInfo
}

// NewCatalog builds a catalog from the given stream infos.
func NewCatalog(streams []model.StreamInfo) *Catalog {
	c := &Catalog{types: make(map[model.EventTypeID]model.EventTypeInfo)}
	for _, stream := range streams {
		for _, info := range stream.EventsInfo {
			if _, exists := c.types[info.ID]; exists {
				continue
			}
			c.types[info.ID] = info
		}
	}
	return c
}

// Lookup returns the event type registered under id.
func (c *Catalog) Lookup(id model.EventTypeID) (model.EventTypeInfo, bool) {
	if c == nil {
		return model.EventTypeInfo{}, false
	}
	info, ok := c.types[id]
	return info, ok
}

// Len returns the number of indexed event types.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.types)
}
