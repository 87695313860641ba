package dispatch

import (
	"context"
	"net/http"

	"lambda-route-proxy/internal/chain"
)

// MsgNotFound is the body returned by NotFoundModule
const MsgNotFound = "Not found"

// NotFoundModule answers requests that match no route: preflight requests get
// an empty 200, everything else a 404.
func NotFoundModule() *chain.Module {
	return &chain.Module{
		Chain: []chain.Step{
			chain.Handler(func(ctx context.Context, args chain.Args) (chain.Response, error) {
				if args.Event != nil && args.Event.Method == http.MethodOptions {
					return chain.Response{StatusCode: http.StatusOK, Body: ""}, nil
				}
				return chain.Response{StatusCode: http.StatusNotFound, Body: MsgNotFound}, nil
			}),
		},
	}
}
