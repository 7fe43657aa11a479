package main

import (
	"context"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/host"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/threadctx"
)

// Class ids registered by the command line host.
const (
	classMath    = "luaguard.Math"
	classStrings = "luaguard.Strings"
	classClock   = "luaguard.Clock"
	classTasks   = "luaguard.Tasks"
	classTime    = "time.Time"
	classDur     = "time.Duration"
)

// registerClasses adds the classes scripts run by the CLI can reach, subject
// to the policy.
func registerClasses(r *host.Registry) error {
	defs := []host.ClassDef{
		{
			ID: classMath,
			Statics: map[string]any{
				"abs":   math.Abs,
				"ceil":  math.Ceil,
				"floor": math.Floor,
				"max":   math.Max,
				"min":   math.Min,
				"pow":   math.Pow,
				"round": math.Round,
				"sqrt":  math.Sqrt,
			},
			StaticFields: map[string]any{
				"PI": math.Pi,
				"E":  math.E,
			},
		},
		{
			ID: classStrings,
			Statics: map[string]any{
				"contains":   strings.Contains,
				"has_prefix": strings.HasPrefix,
				"has_suffix": strings.HasSuffix,
				"join":       strings.Join,
				"lower":      strings.ToLower,
				"repeat":     strings.Repeat,
				"replace":    strings.ReplaceAll,
				"split":      strings.Split,
				"trim":       strings.TrimSpace,
				"upper":      strings.ToUpper,
			},
		},
		{
			ID: classClock,
			Statics: map[string]any{
				"now":            time.Now,
				"since":          time.Since,
				"parse_duration": time.ParseDuration,
				"unix":           func(sec int64) time.Time { return time.Unix(sec, 0).UTC() },
			},
		},
		{
			ID:      classTasks,
			Statics: map[string]any{"all": runAll},
		},
		{ID: classTime, Type: reflect.TypeOf(time.Time{})},
		{ID: classDur, Type: reflect.TypeOf(time.Duration(0))},
	}

	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// runAll runs script functions concurrently, bounded by the policy's
// callback pool size, and returns their results in order.
func runAll(ctx context.Context, tasks ...*threadctx.Callback) ([]any, error) {
	tc := threadctx.From(ctx)
	if tc == nil {
		return nil, threadctx.ErrNoContext
	}

	pool := threadctx.NewPool(ctx, tc.Interceptor())
	futures := make([]*threadctx.Future, len(tasks))
	for i, task := range tasks {
		futures[i] = pool.Submit(task)
	}
	if err := pool.Wait(); err != nil {
		return nil, err
	}

	results := make([]any, len(futures))
	for i, f := range futures {
		v, err := f.Wait(ctx)
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return results, nil
}
