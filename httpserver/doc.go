/*
Package httpserver runs the gateway HTTP API next to a Prometheus metrics
listener.

The server mounts the gatewayhandler routes under /api/v1 together with
health endpoints used by load balancers:

  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Mark the server as not ready
  - GET /undrain - Mark the server as ready

Every request is logged through the flashbots httplogger middleware. pprof is
mounted under /debug when EnablePprof is set.

# Example Usage

	cfg := &httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":9090",
		Log:                      logger,
		DrainDuration:            15 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
	}

	srv, err := httpserver.New(cfg, gatewayhandler.NewHandler(g, gatewayhandler.Config{Log: logger}))
	if err != nil {
		return err
	}
	srv.RunInBackground()
	defer srv.Shutdown()
*/
package httpserver
