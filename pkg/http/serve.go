package xhttp

import (
	"net"
	"reflect"
	"runtime"
	"time"

	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/valyala/fasthttp"
)

type Server = fasthttp.Server

// ServerOption carries the fasthttp settings the billing services tune.
type ServerOption struct {
	Name               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ReadBufferSize     int
	WriteBufferSize    int
	MaxRequestBodySize int
	Concurrency        int
	MaxConnsPerIP      int
}

// DefaultServerOption suits the admin API: small JSON bodies, few clients,
// and invoke requests that may run for the whole fetch budget.
var DefaultServerOption = ServerOption{
	Name:               "billing-engine",
	ReadTimeout:        10 * time.Second,
	WriteTimeout:       10 * time.Minute,
	IdleTimeout:        10 * time.Second,
	ReadBufferSize:     4 * 1024,
	WriteBufferSize:    4 * 1024,
	MaxRequestBodySize: 4 * 1024 * 1024,
	Concurrency:        1_000,
	MaxConnsPerIP:      256,
}

type Engine struct {
	*Router
	*Server
	middle []MiddlewareFunc
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: &fasthttp.Server{
			Handler:               NotFoundHandler,
			Name:                  options.Name,
			Concurrency:           options.Concurrency,
			ReadBufferSize:        options.ReadBufferSize,
			WriteBufferSize:       options.WriteBufferSize,
			ReadTimeout:           options.ReadTimeout,
			WriteTimeout:          options.WriteTimeout,
			IdleTimeout:           options.IdleTimeout,
			MaxConnsPerIP:         options.MaxConnsPerIP,
			MaxRequestBodySize:    options.MaxRequestBodySize,
			NoDefaultServerHeader: true,
			NoDefaultDate:         true,
			CloseOnShutdown:       true,
			Logger:                logger.GetLogger(),
		},
		Router: NewRouter(),
	}
}

func CreateServer() *Engine {
	s := NewServer(DefaultServerOption)
	s.Router = CreateDefaultRouter()
	return s
}

func (e *Engine) ListenAndServe(addr string) error {
	e.build()
	e.Server.Logger.Printf("[xhttp] server is listening on %s", addr)
	return e.Server.ListenAndServe(addr)
}

// Serve runs the engine on an existing listener.
func (e *Engine) Serve(ln net.Listener) error {
	e.build()
	return e.Server.Serve(ln)
}

// build installs the router behind the middlewares. The first middleware
// passed to Use is the outermost.
func (e *Engine) build() {
	for method, routes := range e.Router.List() {
		for _, r := range routes {
			e.Server.Logger.Printf("[xhttp] method: %s, path: %s", method, r)
		}
	}
	h := e.Router.Handler
	for i := len(e.middle) - 1; i >= 0; i-- {
		h = e.middle[i](h)
		e.Server.Logger.Printf("[xhttp] middleware registered - %s", runtime.FuncForPC(reflect.ValueOf(e.middle[i]).Pointer()).Name())
	}
	e.Server.Handler = h
}

// Use appends a middleware run for every request.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Shutdown stops accepting connections and waits for open ones to finish.
func (e *Engine) Shutdown() {
	e.Server.Logger.Printf("[xhttp] server is shutting down")
	if err := e.Server.Shutdown(); err != nil {
		e.Server.Logger.Printf("[xhttp] error while shutting down: %v", err)
	}
}
