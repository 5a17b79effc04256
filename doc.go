/*
Package callpath is a resumable pipeline engine: it runs data items through a
tree of steps, and lets any step suspend an item so it can be resumed later,
possibly in another process.

It separates the pipeline definition (Logic) from the persisted execution state
(Runs and Items) and from the side effects performed by steps. Every state
change goes through a Store, so a process can crash or stop between any two
steps and pick the item up where it was left.

# Concept

A pipeline is a tree of tasks and blocks. An item carries a Position in that
tree. Steps never move the position themselves: they return an Outcome
(continue, jump, wait, halt, stop, skip, abort or fail) and the engine applies it.

# Usage

	reg := registry.New()
	reg.MustRegister(dsl.New("review").
		Then(
			dsl.Step("prepare", prepare),
			dsl.Halt("needs approval", "approve"),
			dsl.Step("publish", publish),
		).
		Build())

	eng, err := callpath.New(memory.NewStore(), reg)
	if err != nil {
		log.Fatal(err)
	}

	// Runs until the halt, then returns.
	runID, err := eng.Start(ctx, "review", callpath.Input{
		Data: []map[string]any{{"title": "hello"}},
	})

	// Later, maybe from another process sharing the store.
	items, _ := eng.Items(ctx, ports.ItemFilter{RunID: runID})
	_, err = eng.Resume(ctx, items[0].ID, domain.ContinueNext)
*/
package callpath
