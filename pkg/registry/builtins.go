package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/dsl"
)

type keyValueArgs struct {
	Key   string `mapstructure:"key"`
	Value any    `mapstructure:"value"`
}

type addArgs struct {
	Key    string `mapstructure:"key"`
	Amount int    `mapstructure:"amount"`
}

type signalArgs struct {
	Message string `mapstructure:"message"`
	Action  string `mapstructure:"action"`
}

type logArgs struct {
	Message string `mapstructure:"message"`
	Level   string `mapstructure:"level"`
}

type sleepArgs struct {
	Duration time.Duration `mapstructure:"duration"`
}

func registerBuiltins(l *Library) {
	l.RegisterStep("set", func(args map[string]any) (domain.StepFunc, error) {
		var a keyValueArgs
		if err := decodeKeyed(args, &a, &a.Key); err != nil {
			return nil, err
		}
		return func(_ context.Context, item *domain.Item, _ *domain.Scope) domain.Outcome {
			item.Payload[a.Key] = a.Value
			return domain.Next()
		}, nil
	})

	l.RegisterStep("unset", func(args map[string]any) (domain.StepFunc, error) {
		var a keyValueArgs
		if err := decodeKeyed(args, &a, &a.Key); err != nil {
			return nil, err
		}
		return func(_ context.Context, item *domain.Item, _ *domain.Scope) domain.Outcome {
			delete(item.Payload, a.Key)
			return domain.Next()
		}, nil
	})

	l.RegisterStep("add", func(args map[string]any) (domain.StepFunc, error) {
		a := addArgs{Amount: 1}
		if err := decodeKeyed(args, &a, &a.Key); err != nil {
			return nil, err
		}
		return func(_ context.Context, item *domain.Item, _ *domain.Scope) domain.Outcome {
			current := 0
			if v, ok := item.Payload[a.Key]; ok {
				n, ok := domain.AsInt(v)
				if !ok {
					return domain.Fail(fmt.Errorf("payload %q is not a number: %v", a.Key, v))
				}
				current = n
			}
			item.Payload[a.Key] = current + a.Amount
			return domain.Next()
		}, nil
	})

	l.RegisterStep("append", func(args map[string]any) (domain.StepFunc, error) {
		var a keyValueArgs
		if err := decodeKeyed(args, &a, &a.Key); err != nil {
			return nil, err
		}
		return func(_ context.Context, item *domain.Item, _ *domain.Scope) domain.Outcome {
			list, _ := item.Payload[a.Key].([]any)
			item.Payload[a.Key] = append(list, a.Value)
			return domain.Next()
		}, nil
	})

	l.RegisterStep("log", func(args map[string]any) (domain.StepFunc, error) {
		var a logArgs
		if err := DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		var level slog.Level
		if a.Level != "" {
			if err := level.UnmarshalText([]byte(a.Level)); err != nil {
				return nil, err
			}
		}
		return func(ctx context.Context, item *domain.Item, scope *domain.Scope) domain.Outcome {
			if scope.Logger != nil {
				scope.Logger.Log(ctx, level, a.Message, "payload", item.Payload)
			}
			return domain.Next()
		}, nil
	})

	l.RegisterStep("halt", signalStep(func(a signalArgs) domain.Outcome { return domain.HaltWith(a.Message, a.Action) }))
	l.RegisterStep("wait", signalStep(func(a signalArgs) domain.Outcome { return domain.WaitFor(a.Message, a.Action, nil) }))
	l.RegisterStep("stop", signalStep(func(a signalArgs) domain.Outcome { return domain.StopWith(a.Message) }))
	l.RegisterStep("skip", signalStep(func(signalArgs) domain.Outcome { return domain.SkipItem() }))
	l.RegisterStep("abort", signalStep(func(signalArgs) domain.Outcome { return domain.AbortBatch() }))
	l.RegisterStep("fail", signalStep(func(a signalArgs) domain.Outcome {
		msg := a.Message
		if msg == "" {
			msg = "failed by pipeline"
		}
		return domain.Fail(errors.New(msg))
	}))

	l.RegisterStep("sleep", func(args map[string]any) (domain.StepFunc, error) {
		var a sleepArgs
		if err := DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		return func(ctx context.Context, _ *domain.Item, _ *domain.Scope) domain.Outcome {
			timer := time.NewTimer(a.Duration)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return domain.Fail(ctx.Err())
			case <-timer.C:
				return domain.Next()
			}
		}, nil
	})

	l.RegisterPredicate("equals", func(args map[string]any) (dsl.Predicate, error) {
		var a keyValueArgs
		if err := decodeKeyed(args, &a, &a.Key); err != nil {
			return nil, err
		}
		return func(_ context.Context, item *domain.Item, _ *domain.Scope) (bool, error) {
			return valuesEqual(item.Payload[a.Key], a.Value), nil
		}, nil
	})

	l.RegisterPredicate("has_key", func(args map[string]any) (dsl.Predicate, error) {
		var a keyValueArgs
		if err := decodeKeyed(args, &a, &a.Key); err != nil {
			return nil, err
		}
		return func(_ context.Context, item *domain.Item, _ *domain.Scope) (bool, error) {
			_, ok := item.Payload[a.Key]
			return ok, nil
		}, nil
	})

	l.RegisterPredicate("less_than", comparison(func(a, b int) bool { return a < b }))
	l.RegisterPredicate("greater_than", comparison(func(a, b int) bool { return a > b }))
}

func decodeKeyed(args map[string]any, out any, key *string) error {
	if err := DecodeArgs(args, out); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("missing key")
	}
	return nil
}

func signalStep(build func(signalArgs) domain.Outcome) StepFactory {
	return func(args map[string]any) (domain.StepFunc, error) {
		var a signalArgs
		if err := DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		return func(context.Context, *domain.Item, *domain.Scope) domain.Outcome {
			return build(a)
		}, nil
	}
}

func comparison(cmp func(a, b int) bool) PredicateFactory {
	return func(args map[string]any) (dsl.Predicate, error) {
		var a keyValueArgs
		if err := decodeKeyed(args, &a, &a.Key); err != nil {
			return nil, err
		}
		limit, ok := domain.AsInt(a.Value)
		if !ok {
			return nil, fmt.Errorf("value %v is not a number", a.Value)
		}
		return func(_ context.Context, item *domain.Item, _ *domain.Scope) (bool, error) {
			v, ok := domain.AsInt(item.Payload[a.Key])
			if !ok {
				return false, fmt.Errorf("payload %q is not a number: %v", a.Key, item.Payload[a.Key])
			}
			return cmp(v, limit), nil
		}, nil
	}
}

func valuesEqual(a, b any) bool {
	if x, ok := domain.AsInt(a); ok {
		if y, ok := domain.AsInt(b); ok {
			return x == y
		}
	}
	return reflect.DeepEqual(a, b)
}
