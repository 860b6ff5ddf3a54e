// Package validator wraps go-playground/validator with json-named field errors.
package validator

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	gvalidator "github.com/go-playground/validator/v10"
)

// FieldError represents a single field validation problem.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Tag     string `json:"tag,omitempty"`
	Param   string `json:"param,omitempty"`
}

// Error wraps every failed field of one validation pass.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Validator is the wrapper around go-playground validator.
type Validator struct {
	v             *gvalidator.Validate
	messageByTag  map[string]func(fe gvalidator.FieldError) string
	messageByTagM sync.RWMutex
}

var (
	defaultOnce sync.Once
	defaultV    *Validator
)

// Default returns a shared Validator. Validate instances cache struct metadata, so reuse one.
func Default() *Validator {
	defaultOnce.Do(func() { defaultV = New() })
	return defaultV
}

// New creates a Validator that reports fields by their json (or mapstructure) names.
func New() *Validator {
	v := gvalidator.New(gvalidator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := getTagName(f, "json"); name != "" {
			return name
		}
		if name := getTagName(f, "mapstructure"); name != "" {
			return name
		}
		return f.Name
	})
	return &Validator{
		v:            v,
		messageByTag: make(map[string]func(gvalidator.FieldError) string),
	}
}

func getTagName(f reflect.StructField, tagName string) string {
	tagValue := f.Tag.Get(tagName)
	if tagValue == "-" {
		return ""
	}
	return strings.SplitN(tagValue, ",", 2)[0]
}

// RegisterValidation registers a custom validator (name) to the engine.
func (vi *Validator) RegisterValidation(tag string, fn gvalidator.Func) error {
	return vi.v.RegisterValidation(tag, fn)
}

// RegisterMessage overrides the message built for failures of tag.
func (vi *Validator) RegisterMessage(tag string, builder func(gvalidator.FieldError) string) {
	vi.messageByTagM.Lock()
	defer vi.messageByTagM.Unlock()
	vi.messageByTag[tag] = builder
}

// Struct validates s. Failures come back as *Error; non-struct input errors pass through.
func (vi *Validator) Struct(s any) error {
	rv := reflect.ValueOf(s)
	for rv.Kind() == reflect.Pointer && rv.Elem().Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}
	err := vi.v.Struct(rv.Interface())
	if err == nil {
		return nil
	}
	ve, ok := err.(gvalidator.ValidationErrors)
	if !ok {
		return err
	}
	out := &Error{Fields: make([]FieldError, 0, len(ve))}
	for _, fe := range ve {
		out.Fields = append(out.Fields, FieldError{
			Field:   fe.Namespace(),
			Message: vi.buildMessageForField(fe),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
		})
	}
	return out
}

// HasRules reports whether any field of the struct type t carries a validate tag.
func HasRules(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		if _, ok := t.Field(i).Tag.Lookup("validate"); ok {
			return true
		}
	}
	return false
}

func (vi *Validator) buildMessageForField(fe gvalidator.FieldError) string {
	vi.messageByTagM.RLock()
	b, ok := vi.messageByTag[fe.Tag()]
	vi.messageByTagM.RUnlock()
	if ok && b != nil {
		return b(fe)
	}
	if fe.Param() != "" {
		return fmt.Sprintf("field %s failed on '%s' validation (param=%s)", fe.Namespace(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("field %s failed on '%s' validation", fe.Namespace(), fe.Tag())
}
