package httplistener

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-layersync"
	"github.com/domonda/go-layersync/config"
	"github.com/domonda/golog"
	rootlog "github.com/domonda/golog/log"
)

var log = rootlog.NewPackageLogger()

const DefaultListen = ":8080"

// Config of a Listener.
type Config struct {
	// Listen is the TCP address to listen on,
	// defaults to DefaultListen.
	Listen string

	// Layers that jobs can be created for.
	Layers config.Layers

	// MaxAgeDoneJobs is reported with the job list.
	MaxAgeDoneJobs time.Duration

	// NumWorkers returns the number of running worker threads
	// for the status endpoint. Optional.
	NumWorkers func() int

	// Logger defaults to the package logger.
	Logger *golog.Logger
}

// Listener serves the JSON API that creates jobs
// and reports the state of the Store.
type Listener struct {
	store  *layersync.Store
	config Config
	log    *golog.Logger
	router chi.Router

	mtx      sync.Mutex
	server   *http.Server
	listener net.Listener
	serving  *errgroup.Group
}

var _ layersync.Listener = (*Listener)(nil)

// New returns a Listener for store.
// The returned Listener does not listen before Start is called.
func New(store *layersync.Store, cfg Config) *Listener {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Logger == nil {
		cfg.Logger = log
	}
	if cfg.NumWorkers == nil {
		cfg.NumWorkers = func() int { return 0 }
	}
	l := &Listener{
		store:  store,
		config: cfg,
		log:    cfg.Logger,
	}
	l.router = l.routes()
	return l
}

func (l *Listener) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(l.apiHeaders)

	r.Route("/api", func(r chi.Router) {
		r.Post("/pull", l.handlePull)
		r.Post("/remove-by-attributes", l.handleRemoveByAttributes)
		r.Get("/jobs.json", l.handleJobList)
		r.Get("/jobs/{id}.json", l.handleGetJob)
		r.Get("/layers.json", l.handleLayerList)
		r.Get("/status.json", l.handleStatus)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found: "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method "+r.Method+" not allowed for "+r.URL.Path)
	})
	return r
}

func (l *Listener) Name() string {
	return "http"
}

// Handler returns the http.Handler serving the API.
func (l *Listener) Handler() http.Handler {
	return l.router
}

// Addr returns the address the Listener is listening on
// or an empty string if it is not started.
func (l *Listener) Addr() string {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.listener == nil {
		return ""
	}
	return l.listener.Addr().String()
}

// Start listens on the configured address
// and serves requests in a background goroutine.
func (l *Listener) Start(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.server != nil {
		return errs.New("http listener already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.config.Listen)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           l.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	serving := new(errgroup.Group)
	serving.Go(func() error {
		err := server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	l.server = server
	l.listener = ln
	l.serving = serving

	l.log.Info("HTTP listener started").
		Str("addr", ln.Addr().String()).
		Log()
	return nil
}

// Stop shuts down the server and waits
// for running requests until ctx is done.
func (l *Listener) Stop(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	l.mtx.Lock()
	server, serving := l.server, l.serving
	l.server, l.listener, l.serving = nil, nil, nil
	l.mtx.Unlock()

	if server == nil {
		return nil
	}
	shutdownErr := server.Shutdown(ctx)
	serveErr := serving.Wait()

	l.log.Info("HTTP listener stopped").Log()
	return errors.Join(shutdownErr, serveErr)
}
