/*
Copyright 2025 The Kubernetes resource-state-metrics Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package celmapper offers a declarative alternative to a hand-written
// Go closure for controller.Watches' mapper function: a CEL expression,
// evaluated against an unstructured view of the related object, that
// produces the set of root keys it maps to.
package celmapper

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/interpreter"
	"github.com/iancoleman/strcase"
	"k8s.io/klog/v2"

	"github.com/kruntime/kruntime"
)

var (
	nativeMapType   = reflect.TypeOf(map[string]interface{}{})
	nativeSliceType = reflect.TypeOf([]interface{}{})
)

// Mapper evaluates a compiled CEL expression against an object's
// unstructured ("o") view, producing the list of kruntime.Key values
// controller.Watches should enqueue for that object.
//
// The expression must evaluate to either a single map or a list of
// maps, each with a "name" entry and an optional "namespace" entry
// (cluster-scoped keys omit it). Map keys are quoted strings and are
// normalized to snake_case via strcase before lookup, so
// `{"Name": o.metadata.name}` and `{"name": o.metadata.name}` are
// equivalent.
type Mapper struct {
	logger  klog.Logger
	program cel.Program
}

// costEstimator mirrors the teacher resolver's per-call CEL cost
// accounting; every call costs a flat 1 unit, bounded by CostLimit.
type costEstimator struct{}

var _ interpreter.ActualCostEstimator = costEstimator{}

func (costEstimator) CallCost(_ string, _ string, _ []ref.Val, _ ref.Val) *uint64 {
	cost := uint64(1)
	return &cost
}

const costLimit = 1_000_000

// New compiles expr into a Mapper. expr sees its argument as the CEL
// variable "o".
func New(logger klog.Logger, expr string) (*Mapper, error) {
	env, err := cel.NewEnv(
		cel.Variable("o", cel.DynType),
		cel.CrossTypeNumericComparisons(true),
		cel.DefaultUTCTimeZone(true),
	)
	if err != nil {
		return nil, fmt.Errorf("celmapper: building environment: %w", err)
	}

	ast, iss := env.Parse(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("celmapper: parsing expression %q: %w", expr, iss.Err())
	}
	checked, iss := env.Check(ast)
	if iss.Err() != nil {
		return nil, fmt.Errorf("celmapper: checking expression %q: %w", expr, iss.Err())
	}

	program, err := env.Program(checked, cel.CostLimit(costLimit), cel.CostTracking(costEstimator{}))
	if err != nil {
		return nil, fmt.Errorf("celmapper: compiling expression %q: %w", expr, err)
	}

	return &Mapper{logger: logger, program: program}, nil
}

// Map evaluates the compiled expression against obj's unstructured
// representation. Evaluation errors are logged and treated as "maps to
// nothing" rather than propagated, since a Watches mapper has no error
// return in its contract.
func (m *Mapper) Map(obj map[string]interface{}) []kruntime.Key {
	out, details, err := m.program.Eval(map[string]interface{}{"o": obj})
	logger := m.logger
	if details != nil {
		logger = logger.WithValues("cost", *details.ActualCost())
	}
	if err != nil {
		logger.V(1).Info("celmapper: evaluation failed, mapping to no keys", "err", err)
		return nil
	}

	var entries []interface{}
	if single, ok := toNativeMap(out); ok {
		entries = []interface{}{single}
	} else {
		raw, convErr := out.ConvertToNative(nativeSliceType)
		items, ok := raw.([]interface{})
		if convErr != nil || !ok {
			logger.Error(errors.New("expression did not evaluate to a map or list of maps"), "mapping to no keys")
			return nil
		}
		entries = items
	}

	keys := make([]kruntime.Key, 0, len(entries))
	for _, item := range entries {
		entry, ok := toNativeMap(item)
		if !ok {
			logger.Error(fmt.Errorf("list entry %v is not a map", item), "skipping entry")
			continue
		}
		key, ok := toKey(entry)
		if !ok {
			logger.Error(fmt.Errorf("entry %v has no usable name field", entry), "skipping entry")
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// toNativeMap recovers a map[string]interface{} from v, which may
// already be one (an item inside a slice ConvertToNative produced) or
// may still be a ref.Val (the top-level evaluation result, or a nested
// CEL-native map literal ConvertToNative did not recurse into).
func toNativeMap(v interface{}) (map[string]interface{}, bool) {
	if m, ok := v.(map[string]interface{}); ok {
		return m, true
	}
	val, ok := v.(ref.Val)
	if !ok {
		return nil, false
	}
	native, err := val.ConvertToNative(nativeMapType)
	if err != nil {
		return nil, false
	}
	m, ok := native.(map[string]interface{})
	return m, ok
}

// toKey normalizes entry's field names via strcase before reading
// "name"/"namespace", so expressions can return either Go- or
// Kubernetes-cased field names.
func toKey(entry map[string]interface{}) (kruntime.Key, bool) {
	normalized := make(map[string]string, len(entry))
	for k, v := range entry {
		s, ok := v.(string)
		if !ok {
			continue
		}
		normalized[strcase.ToSnake(k)] = s
	}
	name, ok := normalized["name"]
	if !ok || name == "" {
		return kruntime.Key{}, false
	}
	return kruntime.Key{Namespace: normalized["namespace"], Name: name}, true
}
