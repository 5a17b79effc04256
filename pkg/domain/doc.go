/*
Package domain contains the core models of the callpath engine.

It defines the step tree that a pipeline is made of, the addressing scheme used to
point into it, and the persistent entities that record progress through it. The
package is kept free of I/O and persistence, following Hexagonal Architecture
principles.

# Key Entities

  - Node: a Task (named step function) or a Block (ordered list of nodes).
  - Position: the nested index vector addressing a node inside the tree.
  - Item: the unit of work; carries payload, auxiliary metadata, status and position.
  - Run: one execution of a named pipeline over a set of items.
  - Outcome: the value a step returns to request continuation, a jump or an interruption.
*/
package domain
