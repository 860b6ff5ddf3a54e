package validator

import (
	"reflect"
	"testing"

	gvalidator "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Message string `json:"message" validate:"required"`
	Retries int    `mapstructure:"retries" validate:"gte=0"`
}

func TestStructReportsJSONNames(t *testing.T) {
	err := New().Struct(sample{Retries: -1})
	require.Error(t, err)

	var ve *Error
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Fields, 2)
	assert.Equal(t, "sample.message", ve.Fields[0].Field)
	assert.Equal(t, "required", ve.Fields[0].Tag)
	assert.Equal(t, "sample.retries", ve.Fields[1].Field)
	assert.Equal(t, "0", ve.Fields[1].Param)
}

func TestRegisterMessage(t *testing.T) {
	v := New()
	v.RegisterMessage("required", func(fe gvalidator.FieldError) string { return fe.Field() + " is missing" })

	err := v.Struct(sample{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message is missing")
	assert.NoError(t, v.Struct(sample{Message: "x"}))
}

func TestHasRules(t *testing.T) {
	assert.True(t, HasRules(reflect.TypeOf(&sample{})))
	assert.False(t, HasRules(reflect.TypeOf(struct{ A int }{})))
	assert.False(t, HasRules(reflect.TypeOf("")))
}
