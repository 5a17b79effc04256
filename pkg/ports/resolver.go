package ports

import "github.com/aretw0/callpath/pkg/domain"

// Resolver maps a pipeline name to its definition.
// Implementations return an error wrapping domain.ErrDefinitionNotFound for unknown names.
type Resolver interface {
	Resolve(name string) (domain.Definition, error)
}
