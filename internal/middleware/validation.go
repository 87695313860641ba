// Package middleware provides reusable chain steps: token checks, request
// validation, rate limiting, request ids and logging.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"lambda-route-proxy/internal/apierr"
	"lambda-route-proxy/internal/chain"
)

// MsgValidationFailed heads the message of every schema validation failure
const MsgValidationFailed = "The request contains validation errors."

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

type compiledSchema struct {
	params *gojsonschema.Schema
	query  *gojsonschema.Schema
	body   *gojsonschema.Schema
}

// SchemaValidation validates path parameters, query parameters and the body
// against the JSON schema documents of a module. All violations are collected
// and reported in a single validation error, grouped by source.
func SchemaValidation(schema chain.Schema) (chain.Step, error) {
	var (
		compiled compiledSchema
		err      error
	)
	if compiled.params, err = compile(schema.Params); err != nil {
		return nil, fmt.Errorf("params schema: %w", err)
	}
	if compiled.query, err = compile(schema.Query); err != nil {
		return nil, fmt.Errorf("query schema: %w", err)
	}
	if compiled.body, err = compile(schema.RequestBody); err != nil {
		return nil, fmt.Errorf("request body schema: %w", err)
	}

	return chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
		var body any = map[string]any{}
		if args.Body != nil {
			body = args.Body
		}

		paramErrs, err := check(compiled.params, stringMap(args.Params))
		if err != nil {
			return args, err
		}
		queryErrs, err := check(compiled.query, stringMap(args.Query))
		if err != nil {
			return args, err
		}
		bodyErrs, err := check(compiled.body, body)
		if err != nil {
			return args, err
		}

		if len(paramErrs)+len(queryErrs)+len(bodyErrs) == 0 {
			return args, nil
		}
		return args, apierr.NewValidation(validationMessage(paramErrs, queryErrs, bodyErrs))
	}), nil
}

// MustSchemaValidation is like SchemaValidation but panics on error
func MustSchemaValidation(schema chain.Schema) chain.Step {
	step, err := SchemaValidation(schema)
	if err != nil {
		panic(err)
	}
	return step
}

func compile(doc any) (*gojsonschema.Schema, error) {
	if doc == nil {
		return nil, nil
	}
	var loader gojsonschema.JSONLoader
	switch d := doc.(type) {
	case string:
		loader = gojsonschema.NewStringLoader(d)
	case []byte:
		loader = gojsonschema.NewBytesLoader(d)
	default:
		loader = gojsonschema.NewGoLoader(d)
	}
	return gojsonschema.NewSchema(loader)
}

func check(schema *gojsonschema.Schema, value any) ([]string, error) {
	if schema == nil {
		return nil, nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, http.StatusBadRequest, MsgValidationFailed, err)
	}
	if result.Valid() {
		return nil, nil
	}
	messages := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		messages = append(messages, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return messages, nil
}

func validationMessage(params, query, body []string) string {
	var b strings.Builder
	b.WriteString(MsgValidationFailed)
	section := func(title string, messages []string) {
		if len(messages) == 0 {
			return
		}
		b.WriteString("\n")
		b.WriteString(title)
		b.WriteString("\n")
		b.WriteString(strings.Join(messages, "\n"))
	}
	section("Path Parameters:", params)
	section("Querystring Parameters:", query)
	section("Request Body:", body)
	return b.String()
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ValidateBody decodes the body into T, runs struct validation and stores the
// typed value in the route data under key
func ValidateBody[T any](v *validator.Validate, key string) chain.Step {
	if v == nil {
		v = validator.New()
	}
	return chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
		data, err := json.Marshal(args.Body)
		if err != nil {
			return args, apierr.Wrap(apierr.KindValidation, http.StatusBadRequest, "Invalid request format", err)
		}

		var target T
		if err := json.Unmarshal(data, &target); err != nil {
			return args, apierr.Wrap(apierr.KindValidation, http.StatusBadRequest, "Invalid request format", err)
		}

		if err := v.Struct(target); err != nil {
			if validationErrors, ok := err.(validator.ValidationErrors); ok {
				return args, apierr.NewValidation(fieldMessage(formatValidationErrors(validationErrors)))
			}
			return args, apierr.Wrap(apierr.KindValidation, http.StatusBadRequest, "Invalid request format", err)
		}

		extra := make(map[string]any, len(args.RouteData.Extra)+1)
		for k, val := range args.RouteData.Extra {
			extra[k] = val
		}
		extra[key] = target
		args.RouteData.Extra = extra
		return args, nil
	})
}

func fieldMessage(errs []ValidationError) string {
	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		lines = append(lines, e.Message)
	}
	return validationMessage(nil, nil, lines)
}

// ContentType rejects requests with a body whose Content-Type is not allowed.
// GET, HEAD and OPTIONS requests are not checked.
func ContentType(allowedTypes ...string) chain.Step {
	if len(allowedTypes) == 0 {
		allowedTypes = []string{"application/json"}
	}

	return chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
		if args.Event == nil {
			return args, nil
		}
		switch args.Event.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return args, nil
		}

		contentType := args.Event.Header("Content-Type")
		if contentType == "" {
			return args, apierr.NewValidation("Content-Type header is required")
		}

		mainType := strings.TrimSpace(strings.Split(contentType, ";")[0])
		for _, allowed := range allowedTypes {
			if strings.EqualFold(mainType, allowed) {
				return args, nil
			}
		}
		return args, apierr.New(apierr.KindValidation, http.StatusUnsupportedMediaType,
			fmt.Sprintf("Content-Type '%s' is not supported. Allowed types: %v", mainType, allowedTypes))
	})
}

// RequestSizeLimit rejects request bodies larger than maxSize bytes
func RequestSizeLimit(maxSize int) chain.Step {
	return chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
		if args.Event == nil {
			return args, nil
		}
		size := len(args.Event.Body)
		if args.Event.IsBase64Encoded {
			size = size * 3 / 4
		}
		if size > maxSize {
			return args, apierr.New(apierr.KindValidation, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body size (%d bytes) exceeds maximum allowed size (%d bytes)", size, maxSize))
		}
		return args, nil
	})
}

func formatValidationErrors(validationErrors validator.ValidationErrors) []ValidationError {
	var errors []ValidationError

	for _, err := range validationErrors {
		var message string

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "email":
			message = fmt.Sprintf("%s must be a valid email address", err.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "uuid":
			message = fmt.Sprintf("%s must be a valid UUID", err.Field())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
		default:
			message = fmt.Sprintf("%s is invalid", err.Field())
		}

		errors = append(errors, ValidationError{
			Field:   err.Field(),
			Tag:     err.Tag(),
			Value:   fmt.Sprintf("%v", err.Value()),
			Message: message,
		})
	}

	return errors
}
