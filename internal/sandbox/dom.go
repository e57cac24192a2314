package sandbox

import (
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DOM provides a lightweight document for sandboxed JavaScript, backed by
// the parsed HTML tree.
type DOM struct {
	doc     *goquery.Document
	source  string
	changes []DOMChange
	mu      sync.RWMutex
}

// Element represents a DOM element
type Element struct {
	dom *DOM
	sel *goquery.Selection
}

// Script is an inline classic script in document order.
type Script struct {
	Index  int
	Source string
	Line   int // Lines before the script body in the document
}

// NewDOM parses document.
func NewDOM(document string) (*DOM, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return nil, err
	}
	return &DOM{doc: doc, source: document}, nil
}

// Query finds elements matching a CSS selector. Invalid selectors match
// nothing.
func (d *DOM) Query(selector string) []*Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wrapAll(d.doc.Find(selector))
}

// QueryFirst returns the first element matching selector, or nil.
func (d *DOM) QueryFirst(selector string) *Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wrap(d.doc.Find(selector).First())
}

// ByID returns the element whose id attribute equals id, or nil.
func (d *DOM) ByID(id string) *Element {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sel := d.doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("id")
		return v == id
	}).First()
	return d.wrap(sel)
}

// Root returns the html element.
func (d *DOM) Root() *Element { return d.QueryFirst("html") }

// Head returns the head element.
func (d *DOM) Head() *Element { return d.QueryFirst("head") }

// Body returns the body element.
func (d *DOM) Body() *Element { return d.QueryFirst("body") }

// Title returns the trimmed text of the first title element.
func (d *DOM) Title() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// SetTitle replaces the document title, creating the element if needed.
func (d *DOM) SetTitle(title string) {
	d.mu.Lock()
	t := d.doc.Find("title").First()
	if t.Length() == 0 {
		d.doc.Find("head").First().AppendHtml("<title></title>")
		t = d.doc.Find("title").First()
	}
	t.SetText(title)
	d.mu.Unlock()

	d.RecordChange(DOMChange{Type: "set_text", Selector: "title", Property: "textContent", Value: title})
}

// CreateElement returns a detached element.
func (d *DOM) CreateElement(tag string) *Element {
	name := strings.ToLower(strings.TrimSpace(tag))
	node := &html.Node{
		Type:     html.ElementNode,
		Data:     name,
		DataAtom: atom.Lookup([]byte(name)),
	}
	return &Element{dom: d, sel: goquery.NewDocumentFromNode(node).Selection}
}

// Scripts returns the inline classic scripts in document order. Scripts with
// a src attribute or a non-JavaScript type are skipped.
func (d *DOM) Scripts() []Script {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		scripts []Script
		cursor  int
	)
	d.doc.Find("script").Each(func(i int, s *goquery.Selection) {
		if _, external := s.Attr("src"); external {
			return
		}
		if typ, ok := s.Attr("type"); ok && !isJavaScriptType(typ) {
			return
		}

		body := s.Text()
		line := 0
		if idx := strings.Index(d.source[cursor:], body); idx >= 0 && body != "" {
			line = strings.Count(d.source[:cursor+idx], "\n")
			cursor += idx + len(body)
		}
		scripts = append(scripts, Script{Index: len(scripts), Source: body, Line: line})
	})
	return scripts
}

func isJavaScriptType(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "text/javascript", "application/javascript", "application/ecmascript",
		"text/ecmascript", "module":
		return true
	}
	return false
}

// GetChanges returns accumulated DOM changes
func (d *DOM) GetChanges() []DOMChange {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]DOMChange{}, d.changes...)
}

// RecordChange adds a DOM change
func (d *DOM) RecordChange(change DOMChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changes = append(d.changes, change)
}

// HTML renders the current document.
func (d *DOM) HTML() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out, _ := goquery.OuterHtml(d.doc.Selection)
	return out
}

func (d *DOM) wrap(sel *goquery.Selection) *Element {
	if sel == nil || sel.Length() == 0 {
		return nil
	}
	return &Element{dom: d, sel: sel.First()}
}

func (d *DOM) wrapAll(sel *goquery.Selection) []*Element {
	out := make([]*Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{dom: d, sel: s})
	})
	return out
}

// Element methods

// Node returns the underlying node; it identifies the element.
func (e *Element) Node() *html.Node { return e.sel.Get(0) }

// TagName returns the upper-case tag name.
func (e *Element) TagName() string {
	return strings.ToUpper(goquery.NodeName(e.sel))
}

// ID returns the id attribute.
func (e *Element) ID() string { return e.GetAttribute("id") }

// ClassName returns the class attribute.
func (e *Element) ClassName() string { return e.GetAttribute("class") }

// TextContent returns the concatenated text of the element.
func (e *Element) TextContent() string {
	e.dom.mu.RLock()
	defer e.dom.mu.RUnlock()
	return e.sel.Text()
}

// SetTextContent replaces the children with a text node.
func (e *Element) SetTextContent(text string) {
	e.dom.mu.Lock()
	e.sel.SetText(text)
	e.dom.mu.Unlock()
	e.record("set_text", "textContent", text)
}

// InnerHTML renders the children.
func (e *Element) InnerHTML() string {
	e.dom.mu.RLock()
	defer e.dom.mu.RUnlock()
	out, _ := e.sel.Html()
	return out
}

// SetInnerHTML replaces the children with parsed markup.
func (e *Element) SetInnerHTML(markup string) {
	e.dom.mu.Lock()
	e.sel.SetHtml(markup)
	e.dom.mu.Unlock()
	e.record("set_html", "innerHTML", markup)
}

// OuterHTML renders the element itself.
func (e *Element) OuterHTML() string {
	e.dom.mu.RLock()
	defer e.dom.mu.RUnlock()
	out, _ := goquery.OuterHtml(e.sel)
	return out
}

// GetAttribute retrieves attribute value
func (e *Element) GetAttribute(name string) string {
	v, _ := e.LookupAttribute(name)
	return v
}

// LookupAttribute retrieves an attribute and whether it is present.
func (e *Element) LookupAttribute(name string) (string, bool) {
	e.dom.mu.RLock()
	defer e.dom.mu.RUnlock()
	return e.sel.Attr(strings.ToLower(name))
}

// SetAttribute sets attribute value and records change
func (e *Element) SetAttribute(name, value string) {
	e.dom.mu.Lock()
	e.sel.SetAttr(strings.ToLower(name), value)
	e.dom.mu.Unlock()
	e.record("set_attribute", name, value)
}

// RemoveAttribute deletes an attribute.
func (e *Element) RemoveAttribute(name string) {
	e.dom.mu.Lock()
	e.sel.RemoveAttr(strings.ToLower(name))
	e.dom.mu.Unlock()
	e.record("remove_attribute", name, nil)
}

// HasClass reports whether the class list contains class.
func (e *Element) HasClass(class string) bool {
	e.dom.mu.RLock()
	defer e.dom.mu.RUnlock()
	return e.sel.HasClass(class)
}

// AddClass adds classes.
func (e *Element) AddClass(classes ...string) {
	e.dom.mu.Lock()
	e.sel.AddClass(classes...)
	e.normalizeClass()
	e.dom.mu.Unlock()
	e.record("set_attribute", "class", strings.Join(classes, " "))
}

// RemoveClass removes classes.
func (e *Element) RemoveClass(classes ...string) {
	e.dom.mu.Lock()
	e.sel.RemoveClass(classes...)
	e.normalizeClass()
	e.dom.mu.Unlock()
	e.record("remove_class", "class", strings.Join(classes, " "))
}

// normalizeClass rewrites the class attribute as single-space separated
// tokens, the way a browser serializes classList. Must be called with the
// DOM write lock held.
func (e *Element) normalizeClass() {
	class, ok := e.sel.Attr("class")
	if !ok {
		return
	}
	e.sel.SetAttr("class", strings.Join(strings.Fields(class), " "))
}

// Query finds descendants matching selector.
func (e *Element) Query(selector string) []*Element {
	e.dom.mu.RLock()
	defer e.dom.mu.RUnlock()
	return e.dom.wrapAll(e.sel.Find(selector))
}

// Children returns the element children.
func (e *Element) Children() []*Element {
	e.dom.mu.RLock()
	defer e.dom.mu.RUnlock()
	return e.dom.wrapAll(e.sel.Children())
}

// Parent returns the parent element, or nil when detached.
func (e *Element) Parent() *Element {
	e.dom.mu.RLock()
	defer e.dom.mu.RUnlock()

	n := e.Node().Parent
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	return e.dom.wrap(e.sel.Parent())
}

// AddElement appends child, moving it if it is attached elsewhere.
func (e *Element) AddElement(child *Element) {
	e.dom.mu.Lock()
	e.sel.AppendSelection(child.sel)
	e.dom.mu.Unlock()
	e.record("append", "children", child.TagName())
}

// AppendText appends a text node.
func (e *Element) AppendText(text string) {
	e.dom.mu.Lock()
	e.Node().AppendChild(&html.Node{Type: html.TextNode, Data: text})
	e.dom.mu.Unlock()
	e.record("append", "children", text)
}

// AppendHTML appends parsed markup.
func (e *Element) AppendHTML(markup string) {
	e.dom.mu.Lock()
	e.sel.AppendHtml(markup)
	e.dom.mu.Unlock()
	e.record("append", "innerHTML", markup)
}

// Remove removes element from parent
func (e *Element) Remove() {
	e.dom.mu.Lock()
	n := e.Node()
	if n.Parent == nil {
		e.dom.mu.Unlock()
		return
	}
	n.Parent.RemoveChild(n)
	e.dom.mu.Unlock()
	e.record("remove", "", nil)
}

// Describe returns a short selector-like label such as div#main.card.
func (e *Element) Describe() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(e.TagName()))
	if id := e.ID(); id != "" {
		b.WriteString("#" + id)
	}
	for _, c := range strings.Fields(e.ClassName()) {
		b.WriteString("." + c)
	}
	return b.String()
}

func (e *Element) record(kind, property string, value interface{}) {
	e.dom.RecordChange(DOMChange{
		Type:     kind,
		Selector: e.Describe(),
		Property: property,
		Value:    value,
	})
}
