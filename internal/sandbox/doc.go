/*
Package sandbox runs preview documents in a headless, isolated JavaScript
context.

# Overview

A document is parsed with goquery and its inline classic scripts are executed
in order inside a goja VM. The VM exposes a small browser-like surface:

  - window/self with addEventListener, onerror and the error and
    unhandledrejection events
  - parent.postMessage, the only channel back to the host
  - console (recorded natively, wrapped by the injected instrumentation)
  - document with element lookup, text/markup mutation and class lists
  - setTimeout/setInterval/requestAnimationFrame on a virtual clock

# Security Model

Scripts cannot:
  - Reach require, process, module or exports
  - Read host storage, navigate the host or fetch resources
  - Outlive their document: every delivery uses a fresh VM, and posts from a
    superseded document are dropped

Execution is bounded by a wall clock timeout, a call stack limit and a cap
on timer callbacks.

# Usage Example

	pool, _ := sandbox.NewPool(sandbox.DefaultConfig(), 1)
	t := sandbox.NewTransport(pool, b.Receive, logger)
	b.Attach(ctx, t)

# Integration

Transport implements bridge.Transport, so the preview session drives the
headless context exactly like a browser surface.
*/
package sandbox
