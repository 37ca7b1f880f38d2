// Package models defines the domain types for catnip.
package models

import "time"

// Cat is a user-owned record. ID and CreatedAt are assigned by the platform.
type Cat struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Breed     string    `json:"breed"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CatDraft is a new cat without identifier, timestamp or owner.
type CatDraft struct {
	Name  string `json:"name"`
	Age   int    `json:"age"`
	Breed string `json:"breed"`
}

// CatPatch is a partial update. Nil fields are left unchanged.
type CatPatch struct {
	Name  *string `json:"name,omitempty"`
	Age   *int    `json:"age,omitempty"`
	Breed *string `json:"breed,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p CatPatch) Empty() bool {
	return p.Name == nil && p.Age == nil && p.Breed == nil
}

// PatchFromDraft returns a patch that sets every field of d.
func PatchFromDraft(d CatDraft) CatPatch {
	return CatPatch{Name: &d.Name, Age: &d.Age, Breed: &d.Breed}
}
