package dsl

import "github.com/aretw0/callpath/pkg/domain"

// Builder assembles a pipeline definition.
type Builder struct {
	def domain.Definition
}

// New creates a new pipeline builder.
func New(name string) *Builder {
	return &Builder{def: domain.Definition{Name: name}}
}

// Describe sets a human readable description.
func (b *Builder) Describe(text string) *Builder {
	b.def.Description = text
	return b
}

// DataType sets the data type stamped on items created for this pipeline.
func (b *Builder) DataType(dataType string) *Builder {
	b.def.DataType = dataType
	return b
}

// Then appends nodes to the top-level list.
func (b *Builder) Then(nodes ...domain.Node) *Builder {
	b.def.Steps = append(b.def.Steps, nodes...)
	return b
}

// Build returns the definition.
func (b *Builder) Build() domain.Definition {
	def := b.def
	def.Steps = append(domain.Block(nil), b.def.Steps...)
	return def
}

// Step wraps fn into a named task.
func Step(name string, fn domain.StepFunc) domain.Task {
	return domain.NewTask(name, fn)
}

// Seq groups nodes into a nested block.
func Seq(nodes ...domain.Node) domain.Block {
	return domain.Block(nodes)
}
