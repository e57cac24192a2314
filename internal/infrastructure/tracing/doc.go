/*
Package tracing provides lightweight request tracing.

Every HTTP request gets a span. The trace id arrives in X-Trace-ID or is
generated, and both ids are echoed in the response so a browser report can be
matched with the server log. Finished spans are logged asynchronously: errors
at warn, everything else at debug.

# Usage

	tracer := tracing.New("labpreview", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "headless.render")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
	span.SetTag("revision", "3")
*/
package tracing
