// Package devserver serves a dispatcher over plain HTTP for local
// development. Each request is converted to an HTTP API payload 2.0 event.
package devserver

import (
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lambda-route-proxy/internal/dispatch"
	"lambda-route-proxy/internal/event"
	"lambda-route-proxy/internal/router"
)

// Server adapts HTTP requests to dispatcher invocations
type Server struct {
	engine     *gin.Engine
	dispatcher *dispatch.Dispatcher
	log        logrus.FieldLogger
	stage      string
}

// New creates a dev server. Every path is forwarded to the dispatcher.
func New(d *dispatch.Dispatcher, log logrus.FieldLogger, stage string) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if stage == "" {
		stage = "$default"
	}

	s := &Server{
		engine:     gin.New(),
		dispatcher: d,
		log:        log,
		stage:      stage,
	}
	s.engine.Use(gin.Recovery())
	s.engine.NoRoute(s.handle)
	s.engine.NoMethod(s.handle)
	return s
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.engine
}

// LogRoutes prints the route table
func (s *Server) LogRoutes() {
	for _, route := range s.dispatcher.Table().Routes() {
		fields := logrus.Fields{"handler": route.Handler}
		if route.Module() == nil {
			fields["handler"] = route.Handler + " (unbound)"
		}
		if route.AuthorizeRoute != nil {
			fields["authorize"] = *route.AuthorizeRoute
		}
		s.log.WithFields(fields).Info(route.Key())
	}
}

func (s *Server) handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "failed to read request body")
		return
	}

	ev := BuildEvent(c.Request, body, s.dispatcher.Table(), s.stage)
	reply := s.dispatcher.Dispatch(c.Request.Context(), &event.V2{APIGatewayV2HTTPRequest: ev})

	payload := []byte(reply.Body)
	if reply.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(reply.Body)
		if err != nil {
			s.log.WithError(err).Error("Dispatcher returned invalid base64 body")
			c.Status(http.StatusInternalServerError)
			return
		}
		payload = decoded
	}

	for k, v := range reply.Headers {
		c.Header(k, v)
	}
	c.Status(reply.StatusCode)
	if len(payload) > 0 {
		if _, err := c.Writer.Write(payload); err != nil {
			s.log.WithError(err).Warn("Failed to write response body")
		}
	}
}

// BuildEvent converts an HTTP request to an HTTP API payload 2.0 event. The
// route key is taken from the first table entry matching the request, and is
// $default when none does.
func BuildEvent(r *http.Request, body []byte, table *router.Table, stage string) events.APIGatewayV2HTTPRequest {
	path := r.URL.Path
	routeKey := event.DefaultRouteKey
	var params map[string]string
	if table != nil {
		if template, p, ok := table.Match(r.Method, path); ok {
			routeKey = r.Method + " " + template
			params = p
		}
	}

	headers := make(map[string]string, len(r.Header))
	for k, values := range r.Header {
		if strings.EqualFold(k, "Cookie") {
			continue
		}
		headers[strings.ToLower(k)] = strings.Join(values, ",")
	}
	if r.Host != "" {
		headers["host"] = r.Host
	}

	var cookies []string
	for _, cookie := range r.Cookies() {
		cookies = append(cookies, cookie.String())
	}

	query := make(map[string]string)
	for k, values := range r.URL.Query() {
		query[k] = strings.Join(values, ",")
	}

	ev := events.APIGatewayV2HTTPRequest{
		Version:               "2.0",
		RouteKey:              routeKey,
		RawPath:               path,
		RawQueryString:        r.URL.RawQuery,
		Cookies:               cookies,
		Headers:               headers,
		QueryStringParameters: query,
		PathParameters:        params,
	}

	if len(body) > 0 {
		if utf8.Valid(body) {
			ev.Body = string(body)
		} else {
			ev.Body = base64.StdEncoding.EncodeToString(body)
			ev.IsBase64Encoded = true
		}
	}

	now := time.Now()
	ev.RequestContext.RouteKey = routeKey
	ev.RequestContext.Stage = stage
	ev.RequestContext.RequestID = uuid.New().String()
	ev.RequestContext.DomainName = r.Host
	ev.RequestContext.Time = now.UTC().Format("02/Jan/2006:15:04:05 -0700")
	ev.RequestContext.TimeEpoch = now.UnixMilli()
	ev.RequestContext.HTTP.Method = r.Method
	ev.RequestContext.HTTP.Path = path
	ev.RequestContext.HTTP.Protocol = r.Proto
	ev.RequestContext.HTTP.SourceIP = sourceIP(r)
	ev.RequestContext.HTTP.UserAgent = r.UserAgent()

	return ev
}

func sourceIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
