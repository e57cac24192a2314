/*
Package monitoring provides Prometheus metrics for the preview server.

# Overview

Metrics live on a private registry, so several servers (and tests) can run
in one process. Metrics implements the recorder interfaces of the session
and bridge packages.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	registry := session.NewRegistry(session.Options{
		Recorder:       metrics,
		BridgeRecorder: metrics,
	})
*/
package monitoring
