package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lambda-route-proxy/internal/chain"
)

// Header names used by the request tracing steps
const (
	RequestIDHeader     = "X-Request-ID"
	CorrelationIDHeader = "X-Correlation-ID"
)

// CorrelationIDKey is the route data key holding the correlation id
const CorrelationIDKey = "correlation_id"

// RequestID makes sure every request carries an id: the X-Request-ID request
// header, the runtime's request id, or a new uuid, in that order. The id is
// stored in the route data and echoed in the response headers.
func RequestID() chain.Step {
	return chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
		requestID := args.Event.Header(RequestIDHeader)
		if requestID == "" {
			requestID = args.RouteData.RequestID
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}

		args.RouteData.RequestID = requestID
		return chain.AddResponseHeader(args, RequestIDHeader, requestID), nil
	})
}

// CorrelationID propagates the X-Correlation-ID header, generating one when absent
func CorrelationID() chain.Step {
	return chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
		correlationID := args.Event.Header(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		extra := make(map[string]any, len(args.RouteData.Extra)+1)
		for k, v := range args.RouteData.Extra {
			extra[k] = v
		}
		extra[CorrelationIDKey] = correlationID
		args.RouteData.Extra = extra

		return chain.AddResponseHeader(args, CorrelationIDHeader, correlationID), nil
	})
}

// Logging logs that the chain of a route was entered, with the request context
func Logging(logger logrus.FieldLogger, route string) chain.Step {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
		fields := logrus.Fields{
			"timestamp":  time.Now().Format(time.RFC3339Nano),
			"route":      route,
			"request_id": args.RouteData.RequestID,
		}
		if args.Event != nil {
			fields["method"] = args.Event.Method
			fields["path"] = args.Event.RawPath
			fields["user_agent"] = args.Event.Header("User-Agent")
		}
		if len(args.Query) > 0 {
			fields["query"] = args.Query
		}
		if sub, ok := args.RouteData.Claims["sub"].(string); ok && sub != "" {
			fields["user_id"] = sub
		}

		logger.WithFields(fields).Info("Route chain started")
		return args, nil
	})
}
