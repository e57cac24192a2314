package sandbox

import (
	"strings"

	"github.com/dop251/goja"
)

// injectDOM injects the document proxy into the runtime
func (r *Runtime) injectDOM() {
	dom := r.dom
	document := r.vm.NewObject()
	r.document = document
	r.installEventTarget(document)

	document.Set("readyState", "loading")
	document.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		return r.element(dom.ByID(call.Argument(0).String()))
	})
	document.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		return r.element(dom.QueryFirst(call.Argument(0).String()))
	})
	document.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return r.elements(dom.Query(call.Argument(0).String()))
	})
	document.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value {
		return r.elements(dom.Query(call.Argument(0).String()))
	})
	document.Set("getElementsByClassName", func(call goja.FunctionCall) goja.Value {
		var sel strings.Builder
		for _, c := range strings.Fields(call.Argument(0).String()) {
			sel.WriteString("." + c)
		}
		if sel.Len() == 0 {
			return r.elements(nil)
		}
		return r.elements(dom.Query(sel.String()))
	})
	document.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return r.element(dom.CreateElement(call.Argument(0).String()))
	})
	document.Set("write", func(call goja.FunctionCall) goja.Value {
		if body := dom.Body(); body != nil {
			for _, arg := range call.Arguments {
				body.AppendHTML(arg.String())
			}
		}
		return goja.Undefined()
	})

	r.accessor(document, "title",
		func() goja.Value { return r.vm.ToValue(dom.Title()) },
		func(v goja.Value) { dom.SetTitle(v.String()) },
	)
	r.accessor(document, "body", func() goja.Value { return r.element(dom.Body()) }, nil)
	r.accessor(document, "head", func() goja.Value { return r.element(dom.Head()) }, nil)
	r.accessor(document, "documentElement", func() goja.Value { return r.element(dom.Root()) }, nil)

	r.vm.Set("document", document)
}

// accessor defines a getter and optional setter on obj.
func (r *Runtime) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := r.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	var setter goja.Value
	if set != nil {
		setter = r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (r *Runtime) elements(els []*Element) goja.Value {
	items := make([]interface{}, len(els))
	for i, el := range els {
		items[i] = r.element(el)
	}
	return r.vm.NewArray(items...)
}

// element returns the proxy for el, reusing it so that identity comparisons
// in scripts hold.
func (r *Runtime) element(el *Element) goja.Value {
	if el == nil {
		return goja.Null()
	}
	if obj, ok := r.nodes[el.Node()]; ok {
		return obj
	}

	obj := r.vm.NewObject()
	r.nodes[el.Node()] = obj
	r.proxies[obj] = el
	r.installEventTarget(obj)

	obj.Set("tagName", el.TagName())
	obj.Set("nodeName", el.TagName())
	obj.Set("nodeType", 1)
	obj.Set("style", r.vm.NewObject())

	r.accessor(obj, "id",
		func() goja.Value { return r.vm.ToValue(el.ID()) },
		func(v goja.Value) { el.SetAttribute("id", v.String()) },
	)
	r.accessor(obj, "className",
		func() goja.Value { return r.vm.ToValue(el.ClassName()) },
		func(v goja.Value) { el.SetAttribute("class", v.String()) },
	)
	text := func() goja.Value { return r.vm.ToValue(el.TextContent()) }
	setText := func(v goja.Value) { el.SetTextContent(v.String()) }
	r.accessor(obj, "textContent", text, setText)
	r.accessor(obj, "innerText", text, setText)
	r.accessor(obj, "innerHTML",
		func() goja.Value { return r.vm.ToValue(el.InnerHTML()) },
		func(v goja.Value) { el.SetInnerHTML(v.String()) },
	)
	r.accessor(obj, "outerHTML", func() goja.Value { return r.vm.ToValue(el.OuterHTML()) }, nil)
	r.accessor(obj, "value",
		func() goja.Value { return r.vm.ToValue(el.GetAttribute("value")) },
		func(v goja.Value) { el.SetAttribute("value", v.String()) },
	)
	r.accessor(obj, "children", func() goja.Value { return r.elements(el.Children()) }, nil)
	r.accessor(obj, "parentElement", func() goja.Value { return r.element(el.Parent()) }, nil)
	r.accessor(obj, "parentNode", func() goja.Value { return r.element(el.Parent()) }, nil)

	obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		v, ok := el.LookupAttribute(call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return r.vm.ToValue(v)
	})
	obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		el.SetAttribute(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	obj.Set("removeAttribute", func(call goja.FunctionCall) goja.Value {
		el.RemoveAttribute(call.Argument(0).String())
		return goja.Undefined()
	})
	obj.Set("hasAttribute", func(call goja.FunctionCall) goja.Value {
		_, ok := el.LookupAttribute(call.Argument(0).String())
		return r.vm.ToValue(ok)
	})
	obj.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		found := el.Query(call.Argument(0).String())
		if len(found) == 0 {
			return goja.Null()
		}
		return r.element(found[0])
	})
	obj.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		return r.elements(el.Query(call.Argument(0).String()))
	})
	obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		child := r.lookup(call.Argument(0))
		if child == nil {
			panic(r.vm.NewTypeError("appendChild: argument is not an element"))
		}
		el.AddElement(child)
		return call.Argument(0)
	})
	obj.Set("append", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			if child := r.lookup(arg); child != nil {
				el.AddElement(child)
			} else {
				el.AppendText(arg.String())
			}
		}
		return goja.Undefined()
	})
	obj.Set("remove", func(goja.FunctionCall) goja.Value {
		el.Remove()
		return goja.Undefined()
	})
	obj.Set("click", func(goja.FunctionCall) goja.Value {
		_ = r.fire(obj, "click", r.newEvent("click"))
		return goja.Undefined()
	})

	classList := r.vm.NewObject()
	classList.Set("add", func(call goja.FunctionCall) goja.Value {
		el.AddClass(argStrings(call)...)
		return goja.Undefined()
	})
	classList.Set("remove", func(call goja.FunctionCall) goja.Value {
		el.RemoveClass(argStrings(call)...)
		return goja.Undefined()
	})
	classList.Set("contains", func(call goja.FunctionCall) goja.Value {
		return r.vm.ToValue(el.HasClass(call.Argument(0).String()))
	})
	classList.Set("toggle", func(call goja.FunctionCall) goja.Value {
		c := call.Argument(0).String()
		if el.HasClass(c) {
			el.RemoveClass(c)
			return r.vm.ToValue(false)
		}
		el.AddClass(c)
		return r.vm.ToValue(true)
	})
	obj.Set("classList", classList)

	return obj
}

// lookup maps a proxy back to its element.
func (r *Runtime) lookup(v goja.Value) *Element {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	return r.proxies[obj]
}

func argStrings(call goja.FunctionCall) []string {
	out := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		out[i] = a.String()
	}
	return out
}
