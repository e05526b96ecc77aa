// Package validator checks request payloads with struct tags.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"wallet/internal/ledger"
	"wallet/internal/money"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// ValidAmount accepts positive whole amounts, optionally digit-grouped.
var ValidAmount validator.Func = func(fl validator.FieldLevel) bool {
	raw, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	_, err := money.ParseAmount(raw)
	return err == nil
}

// ValidRequestKind accepts the entry kinds a user may submit for review.
var ValidRequestKind validator.Func = func(fl validator.FieldLevel) bool {
	raw, ok := fl.Field().Interface().(string)
	return ok && ledger.Kind(strings.ToUpper(raw)).Submittable()
}

func engine() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
		if err := validate.RegisterValidation("amount", ValidAmount); err != nil {
			panic(err)
		}
		if err := validate.RegisterValidation("request_kind", ValidRequestKind); err != nil {
			panic(err)
		}
	})
	return validate
}

// Struct validates v against its `validate` tags.
func Struct(v any) error {
	return engine().Struct(v)
}

// Details maps each failing field to the rule it broke. Errors that are not
// validation failures produce nil.
func Details(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule = fmt.Sprintf("%s=%s", rule, fe.Param())
		}
		details[fe.Field()] = rule
	}
	return details
}
