// Package validation checks request bodies against struct tags and reports
// failures as an ordered list of field errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// FieldError is one failed constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is an ordered list of field errors.
type Errors []FieldError

func (e Errors) Error() string { return Format(e) }

// Normalizer is implemented by payloads that clean their fields before validation.
type Normalizer interface {
	Normalize()
}

// Validator wraps a go-playground validator that names fields by their JSON tag.
type Validator struct {
	v *validator.Validate
}

// New creates a validator.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{v: v}
}

// Struct normalizes and validates dst. It returns nil when dst is valid.
func (v *Validator) Struct(dst any) Errors {
	if n, ok := dst.(Normalizer); ok {
		n.Normalize()
	}

	err := v.v.Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Errors{{Field: "body", Message: err.Error()}}
	}
	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

// BindJSON decodes the request body into dst and validates it.
func (v *Validator) BindJSON(c *gin.Context, dst any) Errors {
	if err := c.ShouldBindJSON(dst); err != nil {
		return Errors{{Field: "body", Message: "body must be valid JSON"}}
	}
	return v.Struct(dst)
}

// Format joins the messages for a client-facing 400 body.
func Format(errs []FieldError) string {
	if len(errs) == 0 {
		return "Validation Failed!"
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, ", ")
}

func message(fe validator.FieldError) string {
	field := fe.Field()
	isString := fe.Kind() == reflect.String

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}
