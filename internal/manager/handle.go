package manager

import (
	"strconv"
	"time"

	"inferd/internal/artifact"
	"inferd/internal/registry"
)

// Handle binds a model name and version to a loaded predictor and its input
// schema. Handles are immutable once published and shared by many concurrent
// requests; a request resolves exactly one handle at dispatch time and uses
// it for its whole execution.
type Handle struct {
	Name     string
	Version  int
	Stage    registry.Stage
	LoadedAt time.Time
	Model    *artifact.Model
}

// VersionString renders the numeric version the way it appears on the wire.
func (h *Handle) VersionString() string {
	return strconv.Itoa(h.Version)
}

// Schema is the handle's input schema.
func (h *Handle) Schema() artifact.Schema {
	return h.Model.Schema
}

// Predictor is the handle's inference object.
func (h *Handle) Predictor() artifact.Predictor {
	return h.Model.Predictor
}

type retiredHandle struct {
	handle   *Handle
	deadline time.Time
}
