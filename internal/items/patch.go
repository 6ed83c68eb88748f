package items

import "time"

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name        *string `json:"name,omitempty"`
	Type        *Type   `json:"type,omitempty"`
	Bucket      *Bucket `json:"bucket,omitempty"`
	IsFocused   *bool   `json:"isFocused,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
	ProjectID   *string `json:"projectId,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.Name == nil && p.Type == nil && p.Bucket == nil && p.IsFocused == nil && p.Completed == nil &&
		p.ProjectID == nil && p.Description == nil
}

// ApplyTo returns a copy of it with the patch applied. now stamps CompletedAt when the patch completes the item.
func (p Patch) ApplyTo(it Item, now time.Time) Item {
	if p.Name != nil {
		it.Name = *p.Name
	}
	if p.Type != nil {
		it.Type = *p.Type
	}
	if p.Bucket != nil {
		it.Bucket = *p.Bucket
	}
	if p.IsFocused != nil {
		it.IsFocused = *p.IsFocused
	}
	if p.Completed != nil {
		if *p.Completed && !it.Completed {
			it.CompletedAt = now
		} else if !*p.Completed {
			it.CompletedAt = time.Time{}
		}
		it.Completed = *p.Completed
	}
	if p.ProjectID != nil {
		it.ProjectID = *p.ProjectID
	}
	if p.Description != nil {
		it.Description = *p.Description
	}
	return it
}

// Draft describes an item to create
type Draft struct {
	Name        string `json:"name"`
	Type        Type   `json:"type"`
	Bucket      Bucket `json:"bucket"`
	ProjectID   string `json:"projectId,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Item builds the record a draft describes under the given id
func (d Draft) Item(id string, now time.Time) Item {
	typ := d.Type
	if typ == "" {
		typ = TypeThing
	}
	bucket := d.Bucket
	if bucket == "" {
		bucket = BucketInbox
	}
	return Item{
		ID:          id,
		Name:        d.Name,
		Type:        typ,
		Bucket:      bucket,
		ProjectID:   d.ProjectID,
		Description: d.Description,
		URL:         d.URL,
		UpdatedAt:   now,
	}
}
