package callpath_test

import (
	"context"
	"fmt"

	"github.com/aretw0/callpath"
	"github.com/aretw0/callpath/pkg/adapters/memory"
	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/dsl"
	"github.com/aretw0/callpath/pkg/ports"
	"github.com/aretw0/callpath/pkg/registry"
)

func ExampleEngine_Resume() {
	ctx := context.Background()

	reg := registry.New()
	reg.MustRegister(dsl.New("review").Then(
		dsl.Step("draft", func(_ context.Context, item *domain.Item, _ *domain.Scope) domain.Outcome {
			item.Payload["state"] = "draft"
			return domain.Next()
		}),
		dsl.Halt("needs approval", "approve"),
		dsl.Step("publish", func(_ context.Context, item *domain.Item, _ *domain.Scope) domain.Outcome {
			item.Payload["state"] = "published"
			return domain.Next()
		}),
	).Build())

	eng, err := callpath.New(memory.NewStore(), reg)
	if err != nil {
		panic(err)
	}

	runID, err := eng.Start(ctx, "review", callpath.Input{Data: []map[string]any{{"title": "hello"}}})
	if err != nil {
		panic(err)
	}

	items, _ := eng.Items(ctx, ports.ItemFilter{RunID: runID})
	item := items[0]
	fmt.Println(item.Status, item.Action(), item.Payload["state"])

	if _, err := eng.Resume(ctx, item.ID, domain.ContinueNext); err != nil {
		panic(err)
	}
	item, _ = eng.Item(ctx, item.ID)
	fmt.Println(item.Status, item.Payload["state"])

	// Output:
	// HALTED approve draft
	// COMPLETED published
}

func ExampleEngine_Start_loop() {
	ctx := context.Background()

	reg := registry.New()
	reg.MustRegister(dsl.New("squares").Then(
		dsl.For(1, 4, 1, "n",
			dsl.Step("square", func(_ context.Context, item *domain.Item, _ *domain.Scope) domain.Outcome {
				n, _ := dsl.LoopValue(item, "n")
				sum, _ := domain.AsInt(item.Payload["sum"])
				item.Payload["sum"] = sum + n*n
				return domain.Next()
			}),
		),
	).Build())

	eng, _ := callpath.New(memory.NewStore(), reg)
	runID, _ := eng.Start(ctx, "squares", callpath.Input{Data: []map[string]any{{}}})

	items, _ := eng.Items(ctx, ports.ItemFilter{RunID: runID})
	fmt.Println(items[0].Payload["sum"])

	// Output:
	// 14
}
