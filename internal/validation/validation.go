package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aviz85/purim/internal/common"
)

const (
	MaxPromptLength = 3000
	MaxStyleLength  = 200
	MaxTitleLength  = 80
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// GenerateRequest is the inbound body of POST /generate.
type GenerateRequest struct {
	Prompt       string `json:"prompt" validate:"required,max=3000"`
	Style        string `json:"style" validate:"required,max=200"`
	Title        string `json:"title" validate:"required,max=80"`
	Instrumental *bool  `json:"instrumental,omitempty"`
	Model        string `json:"model,omitempty" validate:"omitempty,oneof=V3 V3_5 V4"`
}

// InstrumentalOrDefault applies the source's default of true.
func (r GenerateRequest) InstrumentalOrDefault() bool {
	if r.Instrumental == nil {
		return true
	}
	return *r.Instrumental
}

// ModelOrDefault applies the source's default model.
func (r GenerateRequest) ModelOrDefault() string {
	if r.Model == "" {
		return "V3_5"
	}
	return r.Model
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// Is implements errors.Is so handlers can map these to HTTP 400.
func (e FieldErrors) Is(target error) bool {
	return target == common.ErrValidation
}

// ValidateGenerateRequest checks the submission body and reports every
// violated field.
func ValidateGenerateRequest(req GenerateRequest) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return common.ErrValidation
	}

	var fields FieldErrors
	for _, fe := range invalid {
		fields = append(fields, FieldError{
			Field:   strings.ToLower(fe.Field()),
			Message: messageFor(fe),
		})
	}
	return fields
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("exceeds maximum length of %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	}
	return "is invalid"
}
