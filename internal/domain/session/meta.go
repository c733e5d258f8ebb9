// Package session defines the data model and backend contract for the
// object-data-mapper unit of work: model metadata, instance identity,
// and the ports that a concrete backend adapter must satisfy. It has no
// infrastructure dependencies of its own; it is the seam between the
// field/descriptor system (external to this module) and the
// application-layer session/transaction core.
package session

// ModelType distinguishes models whose persistence unit is a single row
// ("object") from models whose persistence unit is a remote structure
// such as a list, set, or map ("structure").
type ModelType string

const (
	ModelTypeObject    ModelType = "object"
	ModelTypeStructure ModelType = "structure"
)

// Meta is the process-long-lived descriptor for a model. It is supplied
// by the field/descriptor system and treated as opaque here beyond the
// three properties the core needs: identity (comparable by the
// implementation's own reference/hash equality), the primary key name,
// and the primary key coercion function.
//
// Implementations are expected to be singletons per model: the core
// keys every internal map by Meta using Go's native `==`, so two
// descriptors for "the same" model that do not compare equal will be
// treated as distinct models.
type Meta interface {
	// Name identifies the model for error messages and metrics labels.
	Name() string

	// PKName returns the primary key field name.
	PKName() string

	// ModelType returns whether this model persists as a row ("object")
	// or as a remote structure ("structure").
	ModelType() ModelType

	// PKToPython coerces a raw backend-returned primary key value into
	// the model's native key type.
	PKToPython(raw any, backend any) (any, error)
}
