package handlers

import (
	"context"

	"github.com/localcdp/browserd/internal/model"
	"github.com/localcdp/browserd/internal/refs"
	"github.com/localcdp/browserd/internal/session"
)

// describeJS enumerates visible elements and classifies each into one of
// the six ref categories. Runs inside the page; returns plain data only.
const describeJS = `(() => {
	const cat = (el) => {
		const tag = el.tagName.toLowerCase();
		const role = el.getAttribute("role") || "";
		if (tag === "input" || tag === "textarea" || tag === "select" || tag === "option" ||
			tag === "label" || role === "textbox" || role === "checkbox" || role === "radio")
			return "form";
		if (tag === "a" || tag === "nav" || role === "link" || role === "navigation")
			return "navigation";
		if (tag === "button" || role === "button" || role === "tab" || role === "menuitem" ||
			el.onclick != null || el.getAttribute("tabindex") === "0")
			return "interactive";
		if (tag === "img" || tag === "video" || tag === "audio" || tag === "canvas" ||
			tag === "svg" || tag === "picture")
			return "media";
		if (tag === "p" || tag === "h1" || tag === "h2" || tag === "h3" || tag === "h4" ||
			tag === "h5" || tag === "h6" || tag === "span" || tag === "li" || tag === "td")
			return "text";
		return "container";
	};
	const cssPath = (el) => {
		if (el.id) return "#" + CSS.escape(el.id);
		const parts = [];
		while (el && el.nodeType === 1 && parts.length < 6) {
			let part = el.tagName.toLowerCase();
			if (el.id) { parts.unshift("#" + CSS.escape(el.id)); break; }
			const parent = el.parentElement;
			if (parent) {
				const siblings = Array.from(parent.children).filter(c => c.tagName === el.tagName);
				if (siblings.length > 1) part += ":nth-of-type(" + (siblings.indexOf(el) + 1) + ")";
			}
			parts.unshift(part);
			el = parent;
		}
		return parts.join(" > ");
	};
	const label = (el) =>
		el.getAttribute("aria-label") || el.getAttribute("title") ||
		el.getAttribute("placeholder") || el.getAttribute("alt") || "";
	const out = [];
	const seen = new Set();
	for (const el of document.querySelectorAll("*")) {
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		const style = getComputedStyle(el);
		if (style.visibility === "hidden" || style.display === "none") continue;
		const c = cat(el);
		const sel = cssPath(el);
		if (!sel || seen.has(sel)) continue;
		seen.add(sel);
		out.push({
			category: c,
			selector: sel,
			role: el.getAttribute("role") || el.tagName.toLowerCase(),
			label: label(el),
			text: (el.textContent || "").trim().slice(0, 120),
			bounds: {x: r.x, y: r.y, width: r.width, height: r.height,
				in_viewport: r.bottom > 0 && r.right > 0 &&
					r.top < innerHeight && r.left < innerWidth},
		});
	}
	return out;
})()`

// DescribeParams filter and shape the enumeration.
type DescribeParams struct {
	Categories    []string `json:"categories,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	WithBounds    bool     `json:"with_bounds,omitempty"`
	WithSelectors bool     `json:"with_selectors,omitempty"`
}

// DescribedElement is one enumerated element with its assigned ref.
type DescribedElement struct {
	Ref      string        `json:"ref"`
	Role     string        `json:"role"`
	Label    string        `json:"label,omitempty"`
	Text     string        `json:"text,omitempty"`
	Selector string        `json:"selector,omitempty"`
	Bounds   *model.Bounds `json:"bounds,omitempty"`
}

// DescribeResult is the enumeration, truncated to the requested limit.
type DescribeResult struct {
	Elements []DescribedElement `json:"elements"`
	Total    int                `json:"total"`
}

type rawElement struct {
	Category string       `json:"category"`
	Selector string       `json:"selector"`
	Role     string       `json:"role"`
	Label    string       `json:"label"`
	Text     string       `json:"text"`
	Bounds   model.Bounds `json:"bounds"`
}

const defaultDescribeLimit = 100

// Describe enumerates page elements, assigns per-category ref ids, and
// publishes them to the session's ref registry.
func (h *H) Describe(ctx context.Context, s *session.Session, p DescribeParams) (*DescribeResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultDescribeLimit
	}
	wanted := map[string]bool{}
	for _, c := range p.Categories {
		wanted[c] = true
	}

	var result *DescribeResult
	err := s.WithDescribe(func() error {
		var raw []rawElement
		if err := eval(ctx, s, describeJS, &raw); err != nil {
			return err
		}

		counters := map[model.RefCategory]int{}
		var entries []model.RefEntry
		var elements []DescribedElement
		total := 0
		for _, el := range raw {
			if len(wanted) > 0 && !wanted[el.Category] {
				continue
			}
			if el.Selector == "" {
				continue
			}
			total++
			category := model.RefCategory(el.Category)
			ref := refs.Generate(category, counters[category])
			counters[category]++

			bounds := el.Bounds
			entries = append(entries, model.RefEntry{
				RefID:          ref,
				SessionID:      s.ID(),
				PageGeneration: s.Generation(),
				Selector:       el.Selector,
				Category:       category,
				Bounds:         &bounds,
				Label:          el.Label,
			})
			if len(elements) < limit {
				d := DescribedElement{Ref: ref, Role: el.Role, Label: el.Label, Text: el.Text}
				if p.WithSelectors {
					d.Selector = el.Selector
				}
				if p.WithBounds {
					b := el.Bounds
					d.Bounds = &b
				}
				elements = append(elements, d)
			}
		}

		s.PublishRefs(entries)
		result = &DescribeResult{Elements: elements, Total: total}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Touch()
	return result, nil
}
