// Package inject instruments an HTML document so that its console output,
// uncaught errors and unhandled promise rejections are forwarded to the
// embedding host with postMessage.
package inject

import (
	"regexp"
	"strings"
)

// Marker is the attribute carried by the injected script element.
const Marker = "data-lab-console"

// headTag matches an opening <head> tag with or without attributes.
// <header> and </head> do not match.
var headTag = regexp.MustCompile(`(?i)<head(?:\s[^>]*)?>`)

// script is written in ES5 so that it runs unchanged in browsers and in the
// headless goja context.
const script = `<script ` + Marker + `>
(function () {
  var target = window.parent || window;
  function post(level, args) {
    try {
      target.postMessage({ isConsoleEvent: true, level: level, args: args }, '*');
    } catch (e) {}
  }
  function serialize(v) {
    try {
      if (typeof v === 'object' && v !== null) {
        var s = JSON.stringify(v);
        return s === undefined ? String(v) : s;
      }
      if (v === null) {
        return 'null';
      }
      return String(v);
    } catch (e) {
      try {
        return String(v);
      } catch (e2) {
        return Object.prototype.toString.call(v);
      }
    }
  }
  var levels = ['log', 'warn', 'error', 'info'];
  for (var i = 0; i < levels.length; i++) {
    (function (level) {
      var native = console[level];
      console[level] = function () {
        var args = Array.prototype.slice.call(arguments);
        if (typeof native === 'function') {
          try {
            native.apply(console, args);
          } catch (e) {}
        }
        var out = [];
        for (var j = 0; j < args.length; j++) {
          out.push(serialize(args[j]));
        }
        post(level, out);
      };
    })(levels[i]);
  }
  window.addEventListener('error', function (e) {
    post('error', [String(e.message) + ' (line ' + e.lineno + ')']);
  });
  window.addEventListener('unhandledrejection', function (e) {
    var reason = e.reason;
    var text = reason && reason.message ? reason.message : String(reason);
    post('error', ['Unhandled Promise: ' + text]);
  });
})();
</script>`

// Transform returns src with the instrumentation inserted immediately after
// the first opening head tag, or prepended when the document has none.
//
// Transform is pure and does not detect earlier instrumentation: applying it
// twice makes every console call forward twice.
func Transform(src string) string {
	loc := headTag.FindStringIndex(src)
	if loc == nil {
		return script + src
	}

	var b strings.Builder
	b.Grow(len(src) + len(script))
	b.WriteString(src[:loc[1]])
	b.WriteString(script)
	b.WriteString(src[loc[1]:])
	return b.String()
}

// Instrumented reports whether src already carries the instrumentation.
func Instrumented(src string) bool {
	return strings.Contains(src, "<script "+Marker+">")
}

// Count returns how many times src has been instrumented.
func Count(src string) int {
	return strings.Count(src, "<script "+Marker+">")
}
