package api

import (
	"github.com/starford/nbstore/internal/contents"
	"github.com/starford/nbstore/internal/models"
)

// Model is the contents model returned by the API (aliased from the domain layer).
type Model = models.Model

// CheckpointInfo identifies one checkpoint (aliased from the domain layer).
type CheckpointInfo = models.CheckpointInfo

// RepairReport is returned by POST /api/repair (aliased from the domain layer).
type RepairReport = contents.RepairReport

// RenameRequest is the request body for PATCH /api/contents/*. A missing path
// keeps the current one.
type RenameRequest struct {
	Name *string `json:"name" example:"renamed.ipynb" validate:"required"`
	Path *string `json:"path,omitempty" example:"docs"`
}

// InfoResponse describes the store behind the API.
type InfoResponse struct {
	Info string `json:"info" example:"Serving notebooks from mongodb" validate:"required"`
}
