package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/server"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"

	"github.com/zachfi/shouter/modules/shouter"
	"github.com/zachfi/shouter/pkg/catalog"
)

const (
	Server string = "server"

	Catalog string = "catalog"
	Shouter string = "shouter"

	All string = "all"
)

func (a *App) setupModuleManager() error {
	mm := modules.NewManager(kitlog.NewLogfmtLogger(os.Stderr))
	mm.RegisterModule(Server, a.initServer, modules.UserInvisibleModule)

	mm.RegisterModule(Catalog, a.initCatalog)
	mm.RegisterModule(Shouter, a.initShouter)

	mm.RegisterModule(All, nil)

	deps := map[string][]string{
		// Server:       nil,
		Catalog: {Server},
		Shouter: {Server, Catalog},

		All: {Shouter},
	}

	for mod, targets := range deps {
		if err := mm.AddDependency(mod, targets...); err != nil {
			return err
		}
	}

	a.ModuleManager = mm

	return nil
}

func (a *App) initCatalog() (services.Service, error) {
	path := a.cfg.Catalog.Path
	if path == "" {
		path = ":memory:"
	}

	c, err := catalog.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open catalog")
	}
	a.catalog = c

	running := func(ctx context.Context) error {
		if n, err := c.Count(ctx); err == nil {
			a.logger.Info("catalog opened", "module", Catalog, "path", path, "tracks", n)
		}
		<-ctx.Done()
		return nil
	}

	// Close only once every module reading the catalog has stopped.
	stopping := func(_ error) error {
		if s, ok := a.serviceMap[Shouter]; ok {
			_ = s.AwaitTerminated(context.Background())
		}
		return c.Close()
	}

	return services.NewBasicService(nil, running, stopping), nil
}

func (a *App) initShouter() (services.Service, error) {
	var cat shouter.Catalog
	if a.catalog != nil {
		cat = a.catalog
	}

	s, err := shouter.New(a.cfg.Shouter, a.logger, cat)
	if err != nil {
		return nil, errors.Wrap(err, "unable to init "+Shouter)
	}

	a.Server.HTTP.Path("/shouter/status").Methods(http.MethodGet).HandlerFunc(s.StatusHandler)
	a.Server.HTTP.Path("/shouter/force-update").Methods(http.MethodPost).HandlerFunc(s.ForceUpdateHandler)
	a.Server.HTTP.Path("/shouter/now-playing").Methods(http.MethodPost).HandlerFunc(s.NowPlayingHandler)

	return s, nil
}

func (a *App) initServer() (services.Service, error) {
	a.cfg.Server.MetricsNamespace = metricsNamespace
	a.cfg.Server.ExcludeRequestInLog = true
	a.cfg.Server.RegisterInstrumentation = true
	a.cfg.Server.Log = kitlog.NewLogfmtLogger(os.Stderr)

	server, err := server.New(a.cfg.Server)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create server")
	}

	servicesToWaitFor := func() []services.Service {
		svs := []services.Service(nil)
		for m, s := range a.serviceMap {
			// Server should not wait for itself.
			if m != Server {
				svs = append(svs, s)
			}
		}

		return svs
	}

	a.Server = server

	serverDone := make(chan error, 1)

	runFn := func(ctx context.Context) error {
		go func() {
			defer close(serverDone)
			serverDone <- server.Run()
		}()

		select {
		case <-ctx.Done():
			return nil
		case err := <-serverDone:
			if err != nil {
				return err
			}

			return fmt.Errorf("server stopped unexpectedly")
		}
	}

	stoppingFn := func(_ error) error {
		// wait until all modules are done, and then shutdown server.
		for _, s := range servicesToWaitFor() {
			_ = s.AwaitTerminated(context.Background())
		}

		// shutdown HTTP and gRPC servers (this also unblocks Run)
		server.Shutdown()

		// if not closed yet, wait until server stops.
		<-serverDone
		slog.Info("server stopped")
		return nil
	}

	return services.NewBasicService(nil, runFn, stoppingFn), nil
}
