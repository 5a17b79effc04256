package validator_test

import (
	"context"
	"testing"

	"github.com/aretw0/callpath/internal/validator"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func ok(context.Context, *domain.Item, *domain.Scope) domain.Outcome { return domain.Next() }

func TestValidateDefinition(t *testing.T) {
	valid := domain.Definition{
		Name:  "ingest",
		Steps: domain.Block{domain.NewTask("a", ok), domain.Block{domain.NewTask("b", ok)}},
	}
	assert.NoError(t, validator.ValidateDefinition(valid))

	broken := domain.Definition{
		Name:  "ingest",
		Steps: domain.Block{domain.Task{Name: "a"}, domain.Block{domain.Task{Fn: ok}, nil}},
	}
	err := validator.ValidateDefinition(broken)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), `[0]: task "a" has no step function`)
		assert.Contains(t, err.Error(), "[1.0]: task has no name")
		assert.Contains(t, err.Error(), "[1.1]: unsupported node")
	}

	assert.Error(t, validator.ValidateDefinition(domain.Definition{Name: "Bad Name"}))
}

func TestStruct(t *testing.T) {
	type doc struct {
		Name    string `validate:"required,pipeline_name"`
		Workers int    `validate:"min=1"`
	}

	assert.NoError(t, validator.Struct(doc{Name: "ok", Workers: 1}))

	err := validator.Struct(doc{Name: "NOT OK", Workers: 0})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "doc.Name: failed pipeline_name")
		assert.Contains(t, err.Error(), "doc.Workers: failed min=1")
	}
}
