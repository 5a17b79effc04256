package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/callpath/internal/validator"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/dsl"
	"github.com/aretw0/callpath/pkg/registry"
	"gopkg.in/yaml.v3"
)

// document is the on-disk shape of a pipeline file.
type document struct {
	Name        string     `yaml:"name" validate:"required,pipeline_name"`
	Description string     `yaml:"description"`
	DataType    string     `yaml:"data_type"`
	Steps       []stepSpec `yaml:"steps" validate:"required,min=1,dive"`
}

type stepSpec struct {
	Task        string         `yaml:"task"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Args        map[string]any `yaml:"args"`

	If    *conditionSpec `yaml:"if"`
	Then  []stepSpec     `yaml:"then" validate:"omitempty,dive"`
	Else  []stepSpec     `yaml:"else" validate:"omitempty,dive"`
	While *conditionSpec `yaml:"while"`
	For   *forSpec       `yaml:"for"`
	Do    []stepSpec     `yaml:"do" validate:"omitempty,dive"`
	Block []stepSpec     `yaml:"block" validate:"omitempty,dive"`
	Break bool           `yaml:"break"`
}

type conditionSpec struct {
	Predicate string         `yaml:"predicate" validate:"required"`
	Args      map[string]any `yaml:"args"`
	Negate    bool           `yaml:"negate"`
}

type forSpec struct {
	Start int    `yaml:"start"`
	Stop  int    `yaml:"stop"`
	Step  *int   `yaml:"step" validate:"omitempty,ne=0"`
	Var   string `yaml:"var"`
}

// Parser turns pipeline files into definitions, building steps from a Library.
type Parser struct {
	lib *registry.Library
}

// NewParser creates a new parser instance.
func NewParser(lib *registry.Library) *Parser {
	if lib == nil {
		lib = registry.NewLibrary()
	}
	return &Parser{lib: lib}
}

// Parse decodes a YAML pipeline document.
func (p *Parser) Parse(data []byte) (domain.Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return domain.Definition{}, fmt.Errorf("failed to parse pipeline: %w", err)
	}
	if err := validator.Struct(doc); err != nil {
		return domain.Definition{}, fmt.Errorf("invalid pipeline %q: %w", doc.Name, err)
	}

	steps, err := p.block(doc.Steps, "steps")
	if err != nil {
		return domain.Definition{}, fmt.Errorf("pipeline %q: %w", doc.Name, err)
	}
	def := domain.Definition{
		Name:        doc.Name,
		Description: doc.Description,
		DataType:    doc.DataType,
		Steps:       steps,
	}
	if err := validator.ValidateDefinition(def); err != nil {
		return domain.Definition{}, err
	}
	return def, nil
}

// ParseFile reads and parses one pipeline file.
func (p *Parser) ParseFile(path string) (domain.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Definition{}, err
	}
	def, err := p.Parse(data)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return def, nil
}

// LoadDir parses every .yaml and .yml file in dir, sorted by file name.
func (p *Parser) LoadDir(dir string) ([]domain.Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pipelines dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	defs := make([]domain.Definition, 0, len(files))
	var errs []error
	for _, f := range files {
		def, err := p.ParseFile(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return defs, nil
}

// LoadInto parses dir and registers every definition.
func (p *Parser) LoadInto(reg *registry.Registry, dir string) error {
	defs, err := p.LoadDir(dir)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) block(specs []stepSpec, path string) (domain.Block, error) {
	block := make(domain.Block, 0, len(specs))
	for i, spec := range specs {
		node, err := p.node(spec, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		block = append(block, node)
	}
	return block, nil
}

func (p *Parser) node(spec stepSpec, path string) (domain.Node, error) {
	kinds := 0
	for _, set := range []bool{spec.Task != "", spec.If != nil, spec.While != nil, spec.For != nil, spec.Block != nil, spec.Break} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return nil, fmt.Errorf("%s: exactly one of task, if, while, for, block or break is required", path)
	}

	switch {
	case spec.Task != "":
		fn, err := p.lib.Step(spec.Task, spec.Args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		name := spec.Name
		if name == "" {
			name = spec.Task
		}
		return domain.Task{Name: name, Description: spec.Description, Fn: fn}, nil

	case spec.If != nil:
		cond, err := p.condition(spec.If, path+".if")
		if err != nil {
			return nil, err
		}
		then, err := p.block(spec.Then, path+".then")
		if err != nil {
			return nil, err
		}
		if spec.Else == nil {
			return dsl.If(cond, then...), nil
		}
		otherwise, err := p.block(spec.Else, path+".else")
		if err != nil {
			return nil, err
		}
		return dsl.IfElse(cond, then, otherwise), nil

	case spec.While != nil:
		cond, err := p.condition(spec.While, path+".while")
		if err != nil {
			return nil, err
		}
		body, err := p.block(spec.Do, path+".do")
		if err != nil {
			return nil, err
		}
		return dsl.While(cond, body...), nil

	case spec.For != nil:
		step := 1
		if spec.For.Step != nil {
			step = *spec.For.Step
		}
		body, err := p.block(spec.Do, path+".do")
		if err != nil {
			return nil, err
		}
		return dsl.For(spec.For.Start, spec.For.Stop, step, spec.For.Var, body...), nil

	case spec.Block != nil:
		return p.block(spec.Block, path+".block")
	}
	return dsl.BreakLoop(), nil
}

func (p *Parser) condition(spec *conditionSpec, path string) (dsl.Predicate, error) {
	pred, err := p.lib.Predicate(spec.Predicate, spec.Args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if spec.Negate {
		return dsl.Not(pred), nil
	}
	return pred, nil
}
