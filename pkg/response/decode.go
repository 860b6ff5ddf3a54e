package response

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/milan604/netkit/pkg/errors"
	"github.com/milan604/netkit/pkg/validator"
)

// Verify classifies a status in [400,600) as a client or server error, attaching the body
// decoded as *E when it parses. Any other status yields no error.
func Verify[E any](raw *Raw) error {
	status := raw.StatusCode()
	if status < 400 || status >= 600 {
		return nil
	}
	var body any
	if len(bytes.TrimSpace(raw.Body)) > 0 {
		e := new(E)
		if err := json.Unmarshal(raw.Body, e); err == nil {
			body = e
		}
	}
	return errors.FromStatus(status, body)
}

// DecodeAPIError reports whether body matches the AE schema. Matching means the JSON decodes
// into AE and, when AE declares validate tags, passes them. Without tags, unknown fields are
// rejected instead.
func DecodeAPIError[AE any](body []byte) (AE, bool) {
	var ae AE
	if !decodeStrict(body, &ae) {
		var zero AE
		return zero, false
	}
	return ae, true
}

// Decode decodes a success body as T. A text/plain body becomes the string model. When T does
// not match, or T has no validate tags, the body is tried against AE and surfaced as an API
// error; failing both yields a serialization error.
func Decode[T, AE any](raw *Raw) (T, error) {
	var v T
	if raw.MediaType() == "text/plain" {
		if s, ok := any(&v).(*string); ok {
			*s = string(raw.Body)
			return v, nil
		}
	}
	if b, ok := any(&v).(*[]byte); ok {
		*b = append([]byte(nil), raw.Body...)
		return v, nil
	}

	err := json.Unmarshal(raw.Body, &v)
	if err == nil {
		err = validateModel(&v)
	}
	// Only a model with validate tags can prove the body is its own. Untagged models decode
	// almost anything, so the error schema is matched first.
	if err == nil && validator.HasRules(reflect.TypeOf(&v)) {
		return v, nil
	}

	var zero T
	if ae, ok := DecodeAPIError[AE](raw.Body); ok {
		return zero, errors.NewAPIError(ae)
	}
	if err != nil {
		return zero, errors.NewSerializationError(err)
	}
	return v, nil
}

// Pipeline runs the full decode chain for a single attempt: transport failure, status
// verification, model decoding.
func Pipeline[T, E, AE any](raw *Raw, transportErr error) (T, error) {
	var zero T
	if err := transportFailure(transportErr); err != nil {
		return zero, err
	}
	if err := Verify[E](raw); err != nil {
		return zero, err
	}
	return Decode[T, AE](raw)
}

// Check is Pipeline for calls without a model: a verified response whose body matches AE
// still fails with an API error.
func Check[E, AE any](raw *Raw, transportErr error) error {
	if err := transportFailure(transportErr); err != nil {
		return err
	}
	if err := Verify[E](raw); err != nil {
		return err
	}
	if ae, ok := DecodeAPIError[AE](raw.Body); ok {
		return errors.NewAPIError(ae)
	}
	return nil
}

func transportFailure(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsHTTPError(err); ok {
		return err
	}
	return errors.NewTransportError(err)
}

func validateModel(v any) error {
	if !validator.HasRules(reflect.TypeOf(v)) {
		return nil
	}
	return validator.Default().Struct(v)
}

func decodeStrict(body []byte, v any) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return false
	}
	if validator.HasRules(reflect.TypeOf(v)) {
		if err := json.Unmarshal(trimmed, v); err != nil {
			return false
		}
		return validator.Default().Struct(v) == nil
	}
	if reflect.TypeOf(v).Elem().Kind() != reflect.Struct {
		return json.Unmarshal(trimmed, v) == nil
	}
	// Every field must be known and at least one present.
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return false
	}
	return !reflect.ValueOf(v).Elem().IsZero()
}
