// Package configbinder binds loosely typed property maps (persisted settings,
// form posts, JSON documents) onto typed structs using their yaml tags.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties decodes properties into target, a pointer to a struct.
// Strings are converted to numbers and booleans where needed ("1" -> true),
// and fields absent from properties keep their current value.
func BindProperties(properties map[string]interface{}, target interface{}) error {
	if len(properties) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ZeroFields:       false,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(properties); err != nil {
		targetType := reflect.TypeOf(target)
		if targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
		return fmt.Errorf("failed to bind properties to struct %s: %w", targetType.Name(), err)
	}
	return nil
}

// BindStringProperties is BindProperties for map[string]string input.
func BindStringProperties(props map[string]string, target interface{}) error {
	intermediate := make(map[string]interface{}, len(props))
	for k, v := range props {
		intermediate[k] = v
	}
	return BindProperties(intermediate, target)
}

// ToProperties flattens a struct into a map keyed by yaml tag; nested structs
// become nested maps.
func ToProperties(source interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "yaml",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(source); err != nil {
		return nil, fmt.Errorf("failed to convert %T to properties: %w", source, err)
	}
	return out, nil
}
