package domain

// Definition is a named pipeline: the step tree plus the data type stamped on
// items created for it.
type Definition struct {
	Name        string
	Description string
	DataType    string
	Steps       Block
}
