package config

import (
	"reflect"

	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

// Validator is an optional interface that configuration structs may
// implement for custom validation. If the struct passed to [Loader.Load]
// implements Validator, its Validate method is called after tag-based
// required validation succeeds.
//
// Validate should return an error describing the first validation failure,
// or nil. Errors that are already [*mserr.Error] pass through unchanged;
// other errors are wrapped with [mserr.CodeValidation].
type Validator interface {
	Validate() error
}

// validate performs tag-based required validation and then invokes the
// Validator interface if cfg implements it.
func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, coded := mserr.AsError(err); coded {
				return err
			}
			return mserr.Wrap(err, mserr.CodeValidation,
				"config: custom validation failed")
		}
	}

	return nil
}

// validateRequired recursively checks that every field tagged
// `required:"true"` holds a non-zero value. The path parameter carries the
// dotted field path for error messages (e.g. "Guard.SessionKey").
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}

		if sf.Tag.Get("required") != "true" {
			continue
		}

		if field.IsZero() {
			return mserr.Newf(mserr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}

	return nil
}
