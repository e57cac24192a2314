package sandbox

import (
	"errors"

	"github.com/dop251/goja"
)

// srcdocURL is what browsers report as the filename of srcdoc scripts.
const srcdocURL = "about:srcdoc"

func (r *Runtime) installEventTarget(obj *goja.Object) {
	obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		fn := call.Argument(1)
		if _, ok := goja.AssertFunction(fn); !ok {
			return goja.Undefined()
		}

		byType, ok := r.listeners[obj]
		if !ok {
			byType = make(map[string][]goja.Value)
			r.listeners[obj] = byType
		}
		for _, existing := range byType[typ] {
			if existing.StrictEquals(fn) {
				return goja.Undefined()
			}
		}
		byType[typ] = append(byType[typ], fn)
		return goja.Undefined()
	})

	obj.Set("removeEventListener", func(call goja.FunctionCall) goja.Value {
		typ := call.Argument(0).String()
		fn := call.Argument(1)

		list := r.listeners[obj][typ]
		for i, existing := range list {
			if existing.StrictEquals(fn) {
				r.listeners[obj][typ] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		return goja.Undefined()
	})

	obj.Set("dispatchEvent", func(call goja.FunctionCall) goja.Value {
		ev := call.Argument(0)
		evObj := ev.ToObject(r.vm)
		// An interruption is recorded by the runtime and ends the run.
		_ = r.fire(obj, evObj.Get("type").String(), evObj)
		return r.vm.ToValue(true)
	})
}

func (r *Runtime) newEvent(typ string) *goja.Object {
	ev := r.vm.NewObject()
	ev.Set("type", typ)
	ev.Set("defaultPrevented", false)
	ev.Set("preventDefault", func(call goja.FunctionCall) goja.Value {
		if this, ok := call.This.(*goja.Object); ok {
			this.Set("defaultPrevented", true)
		}
		return goja.Undefined()
	})
	ev.Set("stopPropagation", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	return ev
}

// fire calls the on<type> handler and then every listener for typ on
// target. Exceptions thrown by handlers are reported as uncaught; only an
// interruption is returned.
func (r *Runtime) fire(target *goja.Object, typ string, ev *goja.Object) error {
	if target == nil {
		return nil
	}
	ev.Set("target", target)
	ev.Set("currentTarget", target)

	var handlers []goja.Value
	onProp := false
	if prop := target.Get("on" + typ); prop != nil {
		if _, ok := goja.AssertFunction(prop); ok {
			handlers = append(handlers, prop)
			onProp = true
		}
	}
	handlers = append(handlers, r.listeners[target][typ]...)

	for i, h := range handlers {
		if err := r.stopped(); err != nil {
			return err
		}

		fn, _ := goja.AssertFunction(h)
		var err error
		if i == 0 && onProp && typ == "error" {
			_, err = fn(target, ev.Get("message"), ev.Get("filename"), ev.Get("lineno"), ev.Get("colno"), ev.Get("error"))
		} else {
			_, err = fn(target, ev)
		}
		if err != nil {
			if stop := r.uncaught(err); stop != nil {
				return stop
			}
		}
	}
	return nil
}

// uncaught records an exception that escaped a script or callback and
// dispatches an error event to the window. Exceptions raised while that
// event is being handled are recorded but not re-dispatched.
func (r *Runtime) uncaught(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if stop := r.stopped(); stop != nil {
			return stop
		}
		return ErrCanceled
	}

	var ex *goja.Exception
	if !errors.As(err, &ex) {
		r.result.Errors = append(r.result.Errors, err.Error())
		return nil
	}

	message := "Uncaught " + exceptionText(ex)
	line, col := r.position(ex)
	r.result.Errors = append(r.result.Errors, message)

	if r.reporting {
		return nil
	}
	r.reporting = true
	defer func() { r.reporting = false }()

	ev := r.newEvent("error")
	ev.Set("message", message)
	ev.Set("filename", srcdocURL)
	ev.Set("lineno", line)
	ev.Set("colno", col)
	if v := ex.Value(); v != nil {
		ev.Set("error", v)
	}
	return r.fire(r.window, "error", ev)
}

func exceptionText(ex *goja.Exception) string {
	if v := ex.Value(); v != nil && !goja.IsUndefined(v) {
		return v.String()
	}
	return ex.Error()
}

// position returns the document-relative line and the column of the
// innermost script frame.
func (r *Runtime) position(ex *goja.Exception) (int, int) {
	stack := ex.Stack()
	for i := range stack {
		pos := stack[i].Position()
		if pos.Line == 0 {
			continue
		}
		return r.offsets[stack[i].SrcName()] + pos.Line, pos.Column
	}
	return 0, 0
}

func (r *Runtime) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		r.rejected = append(r.rejected, p)
	case goja.PromiseRejectionHandle:
		for i, q := range r.rejected {
			if q == p {
				r.rejected = append(r.rejected[:i:i], r.rejected[i+1:]...)
				break
			}
		}
	}
}

// flushRejections dispatches unhandledrejection for every promise still
// rejected without a handler once the job queue has drained.
func (r *Runtime) flushRejections() error {
	for len(r.rejected) > 0 {
		pending := r.rejected
		r.rejected = nil

		for _, p := range pending {
			reason := p.Result()
			text := "undefined"
			if reason != nil {
				text = reason.String()
				if obj, ok := reason.(*goja.Object); ok {
					if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
						text = msg.String()
					}
				}
			}
			r.result.Errors = append(r.result.Errors, "Unhandled Promise: "+text)

			ev := r.newEvent("unhandledrejection")
			if reason != nil {
				ev.Set("reason", reason)
			}
			if err := r.fire(r.window, "unhandledrejection", ev); err != nil {
				return err
			}
		}
	}
	return nil
}
