// Package headless previews a document without a browser. The document runs
// in the goja sandbox and captured console events are printed to a writer.
//
// Example Usage:
//
//	r, err := headless.New(headless.Options{Sandbox: headless.SandboxConfig(cfg.Sandbox), Out: os.Stdout})
//	defer r.Close()
//	n, err := r.Once(ctx, "lab.html") // n is the number of error events
package headless
