// Package loam loads pipeline definitions from a Loam document repository.
//
// Each document carries the pipeline in its front matter; the body, when
// present, becomes the description if the front matter has none:
//
//	---
//	name: review
//	steps:
//	  - task: halt
//	    args: {message: needs approval, action: approve}
//	---
//	Park records until someone approves them.
package loam

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aretw0/callpath/internal/compiler"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/registry"
	"github.com/aretw0/loam"
)

// Loader adapts a Loam repository to the pipeline compiler.
type Loader struct {
	Repo   *loam.TypedRepository[PipelineMetadata]
	parser *compiler.Parser
}

// New creates a Loader over an existing typed repository.
func New(repo *loam.TypedRepository[PipelineMetadata], parser *compiler.Parser) *Loader {
	return &Loader{Repo: repo, parser: parser}
}

// Open initializes a read-only, strict Loam repository at dir.
// Strict mode keeps numbers as json.Number so integer arguments survive intact.
func Open(dir string, parser *compiler.Parser) (*Loader, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[PipelineMetadata](repo), parser), nil
}

// Get compiles a single document.
func (l *Loader) Get(ctx context.Context, id string) (domain.Definition, error) {
	doc, err := l.Repo.Get(ctx, id)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("loam get failed for %s: %w", id, err)
	}
	return l.compile(doc.ID, doc.Data, doc.Content)
}

// Definitions compiles every document in the repository. Two documents
// resolving to the same pipeline name are rejected.
// List only carries metadata, so each document is fetched again for its body.
func (l *Loader) Definitions(ctx context.Context) ([]domain.Definition, error) {
	docs, err := l.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	defs := make([]domain.Definition, 0, len(docs))
	for _, doc := range docs {
		def, err := l.Get(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if existing, ok := seen[def.Name]; ok {
			return nil, fmt.Errorf("collision detected: pipeline '%s' is defined in both '%s' and '%s'", def.Name, existing, doc.ID)
		}
		seen[def.Name] = doc.ID
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadInto compiles the repository and registers every definition.
func (l *Loader) LoadInto(ctx context.Context, reg *registry.Registry) error {
	defs, err := l.Definitions(ctx)
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

func (l *Loader) compile(docID string, meta PipelineMetadata, content string) (domain.Definition, error) {
	name := meta.Name
	if name == "" {
		name = trimExtension(docID)
	}
	description := meta.Description
	if description == "" {
		description = firstLine(content)
	}

	// JSON is valid YAML, and json.Number values encode as plain numbers.
	data, err := json.Marshal(map[string]any{
		"name":        name,
		"description": description,
		"data_type":   meta.DataType,
		"steps":       meta.Steps,
	})
	if err != nil {
		return domain.Definition{}, fmt.Errorf("%s: failed to encode document: %w", docID, err)
	}
	def, err := l.parser.Parse(data)
	if err != nil {
		return domain.Definition{}, fmt.Errorf("%s: %w", docID, err)
	}
	return def, nil
}

func trimExtension(id string) string {
	ext := filepath.Ext(id)
	if ext != "" {
		return filepath.ToSlash(strings.TrimSuffix(id, ext))
	}
	return filepath.ToSlash(id)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
