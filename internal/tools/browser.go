package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/errs"
)

const browserActionTimeout = 20 * time.Second

// browserTool drives a real browser through a short action sequence. Each
// call launches a fresh browser and tears it down afterwards; agents do not
// hold sessions open across cycles.
type browserTool struct {
	headless bool
}

// NewBrowserTool returns the browser tool, or nil when disabled.
func NewBrowserTool(cfg config.BrowserToolConfig) Tool {
	if !cfg.Enabled {
		return nil
	}
	return &browserTool{headless: cfg.Headless}
}

func (t *browserTool) Name() string { return "browser" }
func (t *browserTool) Description() string {
	return "Open a page in a browser and run a sequence of actions: click, type, wait, extract text."
}
func (t *browserTool) Parameters() map[string]any {
	return schema([]string{"url"}, map[string]any{
		"url": prop("string", "Page to open."),
		"actions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{
						"type":        "string",
						"enum":        []string{"click", "type", "wait", "extract"},
						"description": "What to do.",
					},
					"selector": prop("string", "CSS selector the action targets."),
					"text":     prop("string", "Text to type (type action)."),
					"seconds":  prop("number", "Seconds to pause (wait action)."),
				},
			},
			"description": "Actions to run in order. An empty list just extracts the page text.",
		},
	})
}

func (t *browserTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL, err := requireString(args, "url")
	if err != nil {
		return "", err
	}
	if err := checkSSRF(rawURL); err != nil {
		return "", errs.New(errs.KindInvalidInput, "blocked url: %v", err)
	}

	controlURL, err := launcher.New().Headless(t.headless).Launch()
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "launch browser")
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "connect browser")
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "open %s", rawURL)
	}
	page = page.Timeout(browserActionTimeout)
	if err := page.WaitLoad(); err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "load %s", rawURL)
	}

	var outputs []string
	actions, _ := args["actions"].([]any)
	for i, raw := range actions {
		step, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		out, err := t.runAction(page, step)
		if err != nil {
			return "", errs.Wrap(errs.KindInvalidInput, err, "action %d failed", i+1)
		}
		if out != "" {
			outputs = append(outputs, out)
		}
	}

	if len(outputs) == 0 {
		text, err := pageText(page)
		if err != nil {
			return "", errs.Wrap(errs.KindInternal, err, "extract page text")
		}
		outputs = append(outputs, text)
	}
	return wrapExternalContent(strings.Join(outputs, "\n---\n"), "browser", true), nil
}

func (t *browserTool) runAction(page *rod.Page, step map[string]any) (string, error) {
	action, _ := step["action"].(string)
	selector, _ := step["selector"].(string)
	switch action {
	case "click":
		el, err := page.Element(selector)
		if err != nil {
			return "", fmt.Errorf("find %q: %w", selector, err)
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return "", fmt.Errorf("click %q: %w", selector, err)
		}
		return "", page.WaitLoad()
	case "type":
		text, _ := step["text"].(string)
		el, err := page.Element(selector)
		if err != nil {
			return "", fmt.Errorf("find %q: %w", selector, err)
		}
		return "", el.Input(text)
	case "wait":
		seconds, _ := step["seconds"].(float64)
		if seconds <= 0 || seconds > 30 {
			seconds = 1
		}
		time.Sleep(time.Duration(seconds * float64(time.Second)))
		return "", nil
	case "extract":
		if selector == "" {
			return pageText(page)
		}
		el, err := page.Element(selector)
		if err != nil {
			return "", fmt.Errorf("find %q: %w", selector, err)
		}
		return el.Text()
	default:
		return "", fmt.Errorf("unknown action %q", action)
	}
}

func pageText(page *rod.Page) (string, error) {
	el, err := page.Element("body")
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", err
	}
	return truncate(text, defaultFetchMaxChars), nil
}
