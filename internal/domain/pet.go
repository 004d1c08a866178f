package domain

import "github.com/google/uuid"

// PetSummary is the read-only view of a pet returned by the pet-profile
// collaborator. Only existence and display fields are needed here.
type PetSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Breed string    `json:"breed,omitempty"`
}
