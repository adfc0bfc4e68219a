// Package sensor holds the registry of depth camera models a pipeline can pull frames from.
package sensor

import (
	"context"
	"reflect"
	"slices"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/depthstream/logging"
	"go.viam.com/depthstream/pipeline"
)

// A Device is a frame source that holds device resources until closed.
type Device interface {
	pipeline.Source
	Close(ctx context.Context) error
}

// A Creator creates a device from its model-specific attributes.
type Creator func(ctx context.Context, attributes map[string]any, logger logging.Logger) (Device, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Creator{}
)

// Register registers a device model to a creator. Registering a model twice panics.
func Register(model string, creator Creator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, old := registry[model]; old {
		panic(errors.Errorf("trying to register two sensors with same model %s", model))
	}
	if creator == nil {
		panic(errors.Errorf("cannot register a nil creator for sensor model %s", model))
	}
	registry[model] = creator
}

// Lookup returns the creator registered for model.
func Lookup(model string) (Creator, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	creator, ok := registry[model]
	return creator, ok
}

// Models returns every registered model, sorted.
func Models() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	models := lo.Keys(registry)
	slices.Sort(models)
	return models
}

// New creates a device of the given model.
func New(ctx context.Context, model string, attributes map[string]any, logger logging.Logger) (Device, error) {
	creator, ok := Lookup(model)
	if !ok {
		return nil, errors.Errorf("unknown sensor model %q (known models: %v)", model, Models())
	}
	return creator(ctx, attributes, logger.Sublogger(model))
}

// DecodeAttributes converts a generic attribute map into a model's typed config. Keys are matched
// against json tags and unknown keys are rejected.
func DecodeAttributes[T any](attributes map[string]any) (T, error) {
	var out T
	var forResult any

	toT := reflect.TypeOf(out)
	if toT == nil {
		return out, nil
	}
	if toT.Kind() == reflect.Ptr {
		var ok bool
		out, ok = reflect.New(toT.Elem()).Interface().(T)
		if !ok {
			return out, errors.Errorf("failed to allocate config type %T", out)
		}
		forResult = out
	} else {
		forResult = &out
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           forResult,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return out, errors.Wrap(err, "cannot decode sensor attributes")
	}
	return out, nil
}
