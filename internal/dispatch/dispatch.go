// Package dispatch is the invocation entry point: it normalizes an event,
// resolves and authorizes its route, runs the route's chain and shapes the
// result or the failure into a gateway response.
package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"

	"lambda-route-proxy/internal/apierr"
	"lambda-route-proxy/internal/auth"
	"lambda-route-proxy/internal/chain"
	"lambda-route-proxy/internal/event"
	"lambda-route-proxy/internal/router"
	"lambda-route-proxy/internal/security"
)

// Options configures a Dispatcher
type Options struct {
	// Authorizer checks routes that require authorization. Defaults to
	// auth.BearerPresence.
	Authorizer auth.Authorizer
	// Logger defaults to the standard logrus logger
	Logger logrus.FieldLogger
	// NotFound runs for requests that match no route. When nil such requests
	// fail with RouteNotFound.
	NotFound *chain.Module
	// OnError is called with every failure before it is mapped to a response
	OnError func(ctx context.Context, req *event.Request, err error)
}

// Dispatcher routes invocations to chains. It is safe for concurrent use.
type Dispatcher struct {
	table      *router.Table
	negotiator *security.Negotiator
	authorizer auth.Authorizer
	log        logrus.FieldLogger
	notFound   *chain.Module
	onError    func(ctx context.Context, req *event.Request, err error)
}

// New creates a Dispatcher. The table's security policy, or the default policy
// when the table has none, is compiled here so that an invalid policy fails
// before any request is served.
func New(table *router.Table, opts Options) (*Dispatcher, error) {
	if table == nil {
		return nil, apierr.NewConfiguration("dispatcher requires a route table", nil)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Authorizer == nil {
		opts.Authorizer = auth.BearerPresence
	}

	policy := security.DefaultPolicy()
	if p := table.Security(); p != nil {
		policy = *p
	}
	negotiator, err := security.Compile(policy, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		table:      table,
		negotiator: negotiator,
		authorizer: opts.Authorizer,
		log:        opts.Logger,
		notFound:   opts.NotFound,
		onError:    opts.OnError,
	}, nil
}

// Negotiator returns the compiled security policy
func (d *Dispatcher) Negotiator() *security.Negotiator {
	return d.negotiator
}

// Table returns the route table
func (d *Dispatcher) Table() *router.Table {
	return d.table
}

// Reply is a shaped response, independent of the payload version
type Reply struct {
	StatusCode      int
	Headers         map[string]string
	Body            string
	IsBase64Encoded bool
}

// Handle accepts either payload version and returns the matching response
// type. It is meant to be passed to lambda.Start. Failures are always mapped
// to a response, so the returned error is nil.
func (d *Dispatcher) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	ev, err := event.Decode(raw)
	if err != nil {
		reply := d.fail(ctx, nil, nil, err, nil)
		return v1Response(reply), nil
	}

	reply := d.Dispatch(ctx, ev)
	if ev.Version() == event.VersionV1 {
		return v1Response(reply), nil
	}
	return v2Response(reply), nil
}

// HandleV1 dispatches a REST API proxy event
func (d *Dispatcher) HandleV1(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return v1Response(d.Dispatch(ctx, &event.V1{APIGatewayProxyRequest: req})), nil
}

// HandleV2 dispatches an HTTP API payload 2.0 event
func (d *Dispatcher) HandleV2(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	return v2Response(d.Dispatch(ctx, &event.V2{APIGatewayV2HTTPRequest: req})), nil
}

// Dispatch runs the full flow for a decoded event
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) (reply Reply) {
	start := time.Now()
	cors := d.negotiator.CORSHeaders(ev.Header("Origin"))

	var req *event.Request
	defer func() {
		if r := recover(); r != nil {
			err := apierr.Wrap(apierr.KindUnclassified, http.StatusInternalServerError, "Internal server error", fmt.Errorf("dispatch panicked: %v", r))
			reply = d.fail(ctx, ev, req, err, cors)
		}
		d.logFinished(ev, req, reply, start)
	}()

	req, err := event.Normalize(ev, d.table)
	if err != nil {
		if apierr.IsRouteNotFound(err) {
			return d.unmatched(ctx, ev, err, cors)
		}
		return d.fail(ctx, ev, req, err, cors)
	}

	d.log.WithFields(logrus.Fields{
		"version":    req.Version,
		"method":     req.Method,
		"route":      req.Path,
		"path":       req.RawPath,
		"request_id": req.RequestID,
	}).Debug("Dispatching request")

	route, ok := d.table.Resolve(req.Method, req.Path)
	if !ok {
		return d.unmatched(ctx, ev, apierr.NewRouteNotFound(req.Method, req.Path), cors)
	}

	args := chain.NewArgs(req, nil)
	if d.table.RequiresAuth(route) {
		claims, err := d.authorizer.Authorize(ctx, req)
		if err != nil {
			return d.fail(ctx, ev, req, err, cors)
		}
		args.RouteData.Claims = claims
	}

	module := route.Module()
	if module == nil {
		return d.fail(ctx, ev, req, apierr.NewHandlerChainMissing(route.Handler), cors)
	}

	return d.run(ctx, ev, req, module, args, cors)
}

// unmatched runs the not-found module for a request that matched no route
func (d *Dispatcher) unmatched(ctx context.Context, ev event.Event, notFound error, cors map[string]string) Reply {
	req := event.Unmatched(ev)
	if d.notFound == nil {
		return d.fail(ctx, ev, req, notFound, cors)
	}
	return d.run(ctx, ev, req, d.notFound, chain.NewArgs(req, nil), cors)
}

func (d *Dispatcher) run(ctx context.Context, ev event.Event, req *event.Request, module *chain.Module, args chain.Args, cors map[string]string) Reply {
	body, err := event.DecodeBody(req.Body, req.IsBase64Encoded)
	if err != nil {
		return d.fail(ctx, ev, req, err, cors)
	}
	args.Body = body

	out, err := chain.Execute(ctx, module.Chain, args)
	if err != nil {
		return d.fail(ctx, ev, req, err, cors)
	}

	reply, err := d.shape(req, out, cors)
	if err != nil {
		return d.fail(ctx, ev, req, err, cors)
	}
	return reply
}

// shape builds the success response. Header layers, later winning: policy
// defaults, CORS, rotation, the chain's accumulator, the terminal response.
func (d *Dispatcher) shape(req *event.Request, out chain.Outcome, cors map[string]string) (Reply, error) {
	headers := security.MergeHeaders(
		d.negotiator.DefaultHeaders(),
		cors,
		d.negotiator.RotationHeaders(out.Args.RouteData),
		out.Args.ResponseHeaders,
	)

	if out.Response == nil {
		body, err := json.Marshal(out.Args)
		if err != nil {
			return Reply{}, apierr.Wrap(apierr.KindUnclassified, http.StatusInternalServerError, "Failed to serialize response", err)
		}
		return Reply{StatusCode: http.StatusOK, Headers: headers, Body: string(body)}, nil
	}

	resp := out.Response
	if resp.Body == nil && req.Proxied() {
		return Reply{}, apierr.NewHandlerInvariant(fmt.Sprintf("Handler for %s %s returned status %d without a body", req.Method, req.Path, resp.StatusCode))
	}

	reply := Reply{
		StatusCode: resp.StatusCode,
		Headers:    security.MergeHeaders(headers, resp.Headers),
	}
	if reply.StatusCode == 0 {
		reply.StatusCode = http.StatusOK
	}

	switch b := resp.Body.(type) {
	case nil:
	case string:
		reply.Body = b
	case []byte:
		reply.Body = base64.StdEncoding.EncodeToString(b)
		reply.IsBase64Encoded = true
	case json.RawMessage:
		reply.Body = string(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return Reply{}, apierr.Wrap(apierr.KindHandlerInvariant, http.StatusInternalServerError, "Failed to serialize response body", err)
		}
		reply.Body = string(data)
	}

	return reply, nil
}

// fail maps an error to a response. Security headers are kept, and a proxied
// OPTIONS request always answers 200 so that preflights succeed.
func (d *Dispatcher) fail(ctx context.Context, ev event.Event, req *event.Request, err error, cors map[string]string) Reply {
	apiErr := apierr.Classify(err)

	fields := logrus.Fields{
		"kind":        apiErr.Kind,
		"status_code": apiErr.StatusCode,
		"error":       err.Error(),
	}
	if req != nil {
		fields["method"] = req.Method
		fields["path"] = req.RawPath
		fields["request_id"] = req.RequestID
	}
	if apiErr.StatusCode >= http.StatusInternalServerError {
		d.log.WithFields(fields).Error("Request failed")
	} else {
		d.log.WithFields(fields).Warn("Request rejected")
	}

	if d.onError != nil {
		d.onError(ctx, req, err)
	}

	status := apiErr.StatusCode
	if ev != nil && ev.Proxied() && ev.Method() == http.MethodOptions {
		status = http.StatusOK
	}

	return Reply{
		StatusCode: status,
		Headers: security.MergeHeaders(
			map[string]string{"Content-Type": "application/json"},
			d.negotiator.DefaultHeaders(),
			cors,
		),
		Body: apiErr.Message,
	}
}

func (d *Dispatcher) logFinished(ev event.Event, req *event.Request, reply Reply, start time.Time) {
	fields := logrus.Fields{
		"status_code": reply.StatusCode,
		"latency_ms":  float64(time.Since(start).Nanoseconds()) / 1000000,
		"event":       event.String(ev),
	}
	if req != nil {
		fields["path"] = req.RawPath
		fields["request_id"] = req.RequestID
	}
	d.log.WithFields(fields).Info("Request completed")
}

func v1Response(r Reply) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode:      r.StatusCode,
		Headers:         r.Headers,
		Body:            r.Body,
		IsBase64Encoded: r.IsBase64Encoded,
	}
}

func v2Response(r Reply) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode:      r.StatusCode,
		Headers:         r.Headers,
		Body:            r.Body,
		IsBase64Encoded: r.IsBase64Encoded,
	}
}
