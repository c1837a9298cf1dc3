package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"rumblebot/internal/domain"
)

// refAttr tags elements returned by FindAll so each can be addressed later.
const refAttr = "data-relay-ref"

// Page implements domain.Page on a chromedp tab context.
type Page struct {
	ctx    context.Context // chromedp tab context
	logger *slog.Logger
	refs   atomic.Int64
}

var _ domain.Page = (*Page)(nil)

func NewPage(tabCtx context.Context, logger *slog.Logger) *Page {
	if logger == nil {
		logger = slog.Default()
	}
	return &Page{ctx: tabCtx, logger: logger}
}

// run executes actions on the tab while honouring the caller's ctx. JS
// exceptions are element-level errors; everything else is an environment
// failure.
func (p *Page) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	var exc *runtime.ExceptionDetails
	if errors.As(err, &exc) && ctx.Err() == nil && p.ctx.Err() == nil {
		return fmt.Errorf("%s: %s", op, exc.Error())
	}
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return domain.BrowserError(op, err)
}

func (p *Page) eval(ctx context.Context, op, expr string, out any) error {
	return p.run(ctx, op, chromedp.Evaluate(expr, out))
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("navigate", "url", url)
	return p.run(ctx, "navigate", chromedp.Navigate(url))
}

func (p *Page) FindControl(ctx context.Context, selector string) (domain.Control, error) {
	var found bool
	if err := p.eval(ctx, "find "+selector, fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector)), &found); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%s: %w", selector, domain.ErrNotFound)
	}
	return &control{page: p, selector: selector}, nil
}

func (p *Page) FindAll(ctx context.Context, selector string) ([]domain.Control, error) {
	prefix := "r" + strconv.FormatInt(p.refs.Add(1), 10) + "-"
	expr := fmt.Sprintf(`(function(sel, attr, prefix) {
		var refs = [];
		document.querySelectorAll(sel).forEach(function(el, i) {
			el.setAttribute(attr, prefix + i);
			refs.push(prefix + i);
		});
		return refs;
	})(%s, %s, %s)`, jsString(selector), jsString(refAttr), jsString(prefix))

	var refs []string
	if err := p.eval(ctx, "find all "+selector, expr, &refs); err != nil {
		return nil, err
	}
	controls := make([]domain.Control, 0, len(refs))
	for _, ref := range refs {
		controls = append(controls, &control{page: p, selector: fmt.Sprintf(`[%s=%q]`, refAttr, ref)})
	}
	return controls, nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, "location", chromedp.Location(&u))
	return u, err
}

func (p *Page) Title(ctx context.Context) (string, error) {
	var t string
	err := p.run(ctx, "title", chromedp.Title(&t))
	return t, err
}

func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	err := p.eval(ctx, "content", `document.documentElement ? document.documentElement.outerHTML : ""`, &html)
	return html, err
}

type control struct {
	page     *Page
	selector string
}

func (c *control) Selector() string { return c.selector }

// elementJS wraps body in a function receiving the element as el. It throws
// when the element is gone, which surfaces as an element-level error.
func (c *control) elementJS(body string, args ...string) string {
	params := ""
	values := ""
	for i, a := range args {
		params += fmt.Sprintf(", a%d", i)
		values += ", " + jsString(a)
	}
	return fmt.Sprintf(`(function(sel%s) {
		var el = document.querySelector(sel);
		if (!el) { throw new Error("element not found: " + sel); }
		%s
	})(%s%s)`, params, body, jsString(c.selector), values)
}

func (c *control) SetValue(ctx context.Context, value string) error {
	var ok bool
	return c.page.eval(ctx, "set value "+c.selector, c.elementJS(`
		el.focus && el.focus();
		el.value = a0;
		el.dispatchEvent(new Event("input", {bubbles: true}));
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return true;`, value), &ok)
}

func (c *control) SetFiles(ctx context.Context, paths ...string) error {
	return c.page.run(ctx, "set files "+c.selector,
		chromedp.SetUploadFiles(c.selector, paths, chromedp.ByQuery))
}

func (c *control) Click(ctx context.Context) error {
	var ok bool
	return c.page.eval(ctx, "click "+c.selector, c.elementJS(`el.click(); return true;`), &ok)
}

func (c *control) Check(ctx context.Context) error {
	var ok bool
	return c.page.eval(ctx, "check "+c.selector, c.elementJS(`
		if (!el.checked) { el.click(); }
		if (!el.checked) {
			el.checked = true;
			el.dispatchEvent(new Event("input", {bubbles: true}));
			el.dispatchEvent(new Event("change", {bubbles: true}));
		}
		return el.checked;`), &ok)
}

func (c *control) CheckAlternate(ctx context.Context) error {
	clickCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.page.run(clickCtx, "mouse click "+c.selector, chromedp.Click(c.selector, chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.page.logger.Debug("mouse click failed, setting attribute", "selector", c.selector, "err", err)
	}
	var ok bool
	return c.page.eval(ctx, "set checked "+c.selector, c.elementJS(`
		el.setAttribute("checked", "checked");
		el.checked = true;
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return el.checked;`), &ok)
}

func (c *control) Checked(ctx context.Context) (bool, error) {
	var ok bool
	err := c.page.eval(ctx, "read checked "+c.selector, c.elementJS(`return !!el.checked;`), &ok)
	return ok, err
}

func (c *control) Attr(ctx context.Context, name string) (string, error) {
	var v string
	err := c.page.eval(ctx, "attr "+c.selector, c.elementJS(`
		if (a0 === "value" && "value" in el) { return String(el.value); }
		return el.getAttribute(a0) || "";`, name), &v)
	return v, err
}

func (c *control) Label(ctx context.Context) (string, error) {
	var text string
	err := c.page.eval(ctx, "label "+c.selector, c.elementJS(`
		var t = "";
		if (el.id) {
			var l = document.querySelector("label[for=" + JSON.stringify(el.id) + "]");
			if (l) { t = l.innerText || l.textContent || ""; }
		}
		if (!t.trim() && el.closest("label")) {
			t = el.closest("label").innerText || "";
		}
		if (!t.trim() && el.parentElement) {
			t = el.parentElement.innerText || el.parentElement.textContent || "";
		}
		return t.trim();`), &text)
	return text, err
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
