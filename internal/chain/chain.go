// Package chain runs an ordered list of steps over a request's arguments.
// A step either passes (possibly updated) arguments to the next step or
// ends the chain with a terminal response.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"lambda-route-proxy/internal/apierr"
	"lambda-route-proxy/internal/event"
)

// RouteData carries per-request values produced by steps and the authorizer
type RouteData struct {
	Claims           jwt.MapClaims  `json:"jwt,omitempty"`
	NeedsJWTRotation bool           `json:"needsJwtRotation,omitempty"`
	RequestID        string         `json:"requestId,omitempty"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// Args is the value threaded through a chain
type Args struct {
	Body            any
	Params          map[string]string
	Query           map[string]string
	RouteData       RouteData
	ResponseHeaders map[string]string // Accumulated by steps, merged into the response
	Event           *event.Request
}

// MarshalJSON renders the arguments returned for a chain without a terminal
// response. The originating event and the header accumulator are left out.
func (a Args) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Params    map[string]string `json:"params"`
		Query     map[string]string `json:"query"`
		Body      any               `json:"body"`
		RouteData RouteData         `json:"routeData"`
	}{
		Params:    a.Params,
		Query:     a.Query,
		Body:      a.Body,
		RouteData: a.RouteData,
	})
}

// NewArgs builds the initial arguments for a normalized request
func NewArgs(req *event.Request, body any) Args {
	args := Args{
		Body:            body,
		Params:          map[string]string{},
		Query:           map[string]string{},
		ResponseHeaders: map[string]string{},
		Event:           req,
	}
	if req != nil {
		for k, v := range req.PathParams {
			args.Params[k] = v
		}
		for k, v := range req.Query {
			args.Query[k] = v
		}
		args.RouteData.RequestID = req.RequestID
	}
	return args
}

// Response is a terminal response produced by a step. A nil Body means the
// step declared a status without a body.
type Response struct {
	StatusCode int               `json:"statusCode"`
	Body       any               `json:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Result is what a step returns: either arguments for the next step or a
// terminal response.
type Result struct {
	args     Args
	response *Response
}

// Continue passes args to the next step
func Continue(args Args) Result {
	return Result{args: args}
}

// Respond ends the chain with resp
func Respond(resp Response) Result {
	return Result{response: &resp}
}

// Terminal reports whether the result ends the chain
func (r Result) Terminal() bool {
	return r.response != nil
}

// Args returns the arguments carried by a non-terminal result
func (r Result) Args() Args {
	return r.args
}

// Response returns the terminal response, if any
func (r Result) Response() (Response, bool) {
	if r.response == nil {
		return Response{}, false
	}
	return *r.response, true
}

// Step is a unit of a chain
type Step func(ctx context.Context, args Args) (Result, error)

// Middleware adapts a function that only transforms arguments into a Step
func Middleware(fn func(ctx context.Context, args Args) (Args, error)) Step {
	return func(ctx context.Context, args Args) (Result, error) {
		next, err := fn(ctx, args)
		if err != nil {
			return Result{}, err
		}
		return Continue(next), nil
	}
}

// Handler adapts a function that always produces a response into a Step
func Handler(fn func(ctx context.Context, args Args) (Response, error)) Step {
	return func(ctx context.Context, args Args) (Result, error) {
		resp, err := fn(ctx, args)
		if err != nil {
			return Result{}, err
		}
		return Respond(resp), nil
	}
}

// Schema holds the JSON schema documents declared by a module
type Schema struct {
	Params       any `json:"params,omitempty" yaml:"params,omitempty"`
	Query        any `json:"query,omitempty" yaml:"query,omitempty"`
	RequestBody  any `json:"requestBody,omitempty" yaml:"requestBody,omitempty"`
	ResponseBody any `json:"responseBody,omitempty" yaml:"responseBody,omitempty"`
}

// Module is the unit bound to a route's handler identifier
type Module struct {
	Chain  []Step
	Schema Schema
}

// Outcome is the result of running a chain. Response is nil when no step
// produced a terminal response; Args then holds the final arguments.
type Outcome struct {
	Args     Args
	Response *Response
}

// Execute runs steps in order. It stops at the first terminal response or the
// first error; the error is returned unchanged. The context is checked before
// each step.
func Execute(ctx context.Context, steps []Step, args Args) (Outcome, error) {
	if len(steps) == 0 {
		return Outcome{}, apierr.NewHandlerChainMissing("")
	}

	for i, step := range steps {
		if step == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Outcome{Args: args}, err
		}

		result, err := run(ctx, step, args, i)
		if err != nil {
			return Outcome{Args: args}, err
		}

		if resp, ok := result.Response(); ok {
			return Outcome{Args: args, Response: &resp}, nil
		}
		args = result.Args()
	}

	return Outcome{Args: args}, nil
}

func run(ctx context.Context, step Step, args Args, index int) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apierr.Wrap(apierr.KindUnclassified, http.StatusInternalServerError, "Internal server error", fmt.Errorf("step %d panicked: %v", index, r))
		}
	}()
	return step(ctx, args)
}
