/*
Package ports defines the driven ports (interfaces) of the callpath engine.

These interfaces decouple the engine from storage backends, definition sources and
job execution, so the same pipelines can run against memory, SQLite or Redis and be
processed inline or by a worker pool.

# Key Interfaces

  - Store: persists Runs and Items, with nestable all-or-nothing units of work.
  - Resolver: maps a pipeline name to its Definition.
  - Dispatcher: hands a processing job to some executor and returns a Handle.
*/
package ports
