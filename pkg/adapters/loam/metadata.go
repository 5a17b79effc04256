package loam

// PipelineMetadata is the front matter of a pipeline document.
// It uses "mapstructure" tags to match standard Frontmatter/YAML keys.
type PipelineMetadata struct {
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description" mapstructure:"description"`
	DataType    string `json:"data_type" mapstructure:"data_type"`
	// Steps is kept raw and handed to the compiler, which owns the step grammar.
	Steps []any `json:"steps" mapstructure:"steps"`
}
