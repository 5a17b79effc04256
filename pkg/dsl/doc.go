/*
Package dsl provides a Go DSL for programmatically constructing callpath pipelines.

Pipelines are plain step trees (domain.Block). The helpers here build the control
flow constructs out of ordinary blocks whose hidden head and tail steps request
cursor jumps, so conditionals and loops survive a halt and resume exactly where
they left off.

Example usage:

	def := dsl.New("ingest").
		DataType("record").
		Then(
			dsl.Step("fetch", fetch),
			dsl.IfElse(isValid,
				dsl.Seq(dsl.Step("store", store)),
				dsl.Seq(dsl.Halt("needs review", "approve")),
			),
			dsl.For(0, 3, 1, "attempt", dsl.Step("notify", notify)),
		).
		Build()
*/
package dsl
