// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package internal

import (
	"reflect"

	"github.com/eva00212/jetson/protocol/errors"
)

// ValidateNonNil checks that none of the named arguments is nil, including
// typed nil pointers and funcs stored in an interface.
func ValidateNonNil(args map[string]any) error {
	for k, v := range args {
		if isNil(v) {
			return &errors.Error{
				Message:      "argument is nil",
				Kind:         errors.ConfigurationInvalid,
				PropertyName: k,
			}
		}
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
