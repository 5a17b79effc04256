package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/aretw0/callpath/pkg/domain"
	playground "github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	instance *playground.Validate

	namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
)

// Instance returns the shared validator used for configuration and pipeline files.
func Instance() *playground.Validate {
	once.Do(func() {
		v := playground.New()
		_ = v.RegisterValidation("pipeline_name", func(fl playground.FieldLevel) bool {
			return namePattern.MatchString(fl.Field().String())
		})
		instance = v
	})
	return instance
}

// Struct validates v and flattens validator errors into one readable error.
func Struct(v any) error {
	err := Instance().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs playground.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ValidateDefinition checks that every node of the tree is executable:
// tasks are named and carry a step function, and no node is nil.
func ValidateDefinition(def domain.Definition) error {
	if !namePattern.MatchString(def.Name) {
		return fmt.Errorf("pipeline name %q must match %s", def.Name, namePattern)
	}
	var errs []error
	walk(def.Steps, nil, &errs)
	if len(errs) > 0 {
		return fmt.Errorf("pipeline %q: %w", def.Name, errors.Join(errs...))
	}
	return nil
}

func walk(block domain.Block, prefix domain.Position, errs *[]error) {
	for i, node := range block {
		pos := append(prefix.Clone(), i)
		switch n := node.(type) {
		case domain.Task:
			if n.Name == "" {
				*errs = append(*errs, fmt.Errorf("[%s]: task has no name", pos))
			}
			if n.Fn == nil {
				*errs = append(*errs, fmt.Errorf("[%s]: task %q has no step function", pos, n.Name))
			}
		case domain.Block:
			walk(n, pos, errs)
		default:
			*errs = append(*errs, fmt.Errorf("[%s]: unsupported node %T", pos, node))
		}
	}
}
