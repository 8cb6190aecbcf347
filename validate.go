package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/staykeeper/internal/security"
)

const maxBodyBytes = 1 << 20

// validateBody decodes the JSON body, sanitizes every string in it and
// validates the result against T's struct tags before calling next.
func validateBody[T any](a *App, next func(http.ResponseWriter, *http.Request, *T)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw interface{}
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			a.rejectInput(w, r, "malformed JSON body")
			return
		}
		if raw == nil {
			raw = map[string]interface{}{}
		}
		clean, err := json.Marshal(security.Sanitize(raw))
		if err != nil {
			a.rejectInput(w, r, "malformed JSON body")
			return
		}
		var body T
		if err := json.Unmarshal(clean, &body); err != nil {
			a.rejectInput(w, r, "body does not match the expected shape")
			return
		}
		if err := a.Validate.Struct(&body); err != nil {
			a.rejectInput(w, r, describeValidation(err))
			return
		}
		next(w, r, &body)
	})
}

func (a *App) rejectInput(w http.ResponseWriter, r *http.Request, details string) {
	a.audit(r, "input_validation", false, security.SeverityMedium, map[string]interface{}{"errors": details})
	writeErrorDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input", details)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// newValidator reports json field names in validation errors.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// bcryptmax bounds passwords by bytes, not runes
	_ = v.RegisterValidation("bcryptmax", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= maxPasswordBytes
	})
	return v
}
