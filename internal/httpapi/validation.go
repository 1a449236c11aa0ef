package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxMessageChars = 2000

type chatMessageRequest struct {
	Message   string `json:"message" validate:"required,max=2000"`
	SessionID string `json:"sessionId,omitempty" validate:"omitempty,uuid"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

// chatMessage trims req in place and validates it. Length is counted in characters.
func (rv *requestValidator) chatMessage(req *chatMessageRequest) []fieldError {
	req.Message = strings.TrimSpace(req.Message)
	req.SessionID = canonicalUUID(req.SessionID)

	err := rv.v.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []fieldError{{Field: "", Message: err.Error()}}
	}
	out := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return out
}

// sessionID returns id in canonical lowercase form and whether it is a well-formed UUID.
func (rv *requestValidator) sessionID(id string) (string, bool) {
	id = canonicalUUID(id)
	return id, rv.v.Var(id, "required,uuid") == nil
}

// canonicalUUID lowercases a parseable UUID so every store matches it the same way.
// Anything else is returned trimmed for the validator to reject.
func canonicalUUID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Field() + "." + fe.Tag() {
	case "message.required":
		return "Message cannot be empty"
	case "message.max":
		return fmt.Sprintf("Message cannot exceed %d characters", maxMessageChars)
	case "sessionId.uuid":
		return "Invalid uuid"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
