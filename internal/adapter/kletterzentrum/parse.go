package kletterzentrum

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/IgnyteX-Labs/kivoll-worker/internal/domain"
)

var (
	reCount     = regexp.MustCompile(`\d{1,3}`)
	reCSSHeight = regexp.MustCompile(`height:\s*(\d{1,3})%`)
)

// parseOccupancy extracts the occupancy widget from the page. Individual
// widget parts may be missing (the snapshot field stays nil); a page where no
// part of the widget can be located at all is a permanent failure.
func parseOccupancy(body string, capturedAt time.Time) (domain.OccupancySnapshot, error) {
	snap := domain.OccupancySnapshot{CapturedAt: capturedAt}

	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return snap, domain.Permanentf("kletterzentrum", "parse html: %v", err)
	}

	nodes := flatten(doc)

	snap.Overall = parseOverall(nodes)
	snap.RopeArea, snap.BoulderArea = parseAreaBars(nodes)
	if snap.RopeArea == nil || snap.BoulderArea == nil {
		// Older page revisions render the bars as inline CSS heights.
		rope, boulder := parseCSSHeights(body)
		if snap.RopeArea == nil {
			snap.RopeArea = rope
		}
		if snap.BoulderArea == nil {
			snap.BoulderArea = boulder
		}
	}
	snap.OpenSectors, snap.TotalSectors = parseSectors(nodes)

	if snap.Overall == nil && snap.RopeArea == nil && snap.BoulderArea == nil {
		return snap, domain.Permanentf("kletterzentrum", "occupancy widget not found in page")
	}
	return snap, nil
}

// parseOverall finds the headline visitor count: an h2 carrying the widget's
// primary-text class, or failing that any h2 containing a small number.
func parseOverall(nodes []*html.Node) *int {
	var fallback *int
	for _, n := range nodes {
		if !isElement(n, "h2") {
			continue
		}
		v := firstCount(nodeText(n))
		if v == nil {
			continue
		}
		if hasClass(n, "x-text-content-text-primary") {
			return v
		}
		if fallback == nil {
			fallback = v
		}
	}
	return fallback
}

// parseAreaBars reads the per-area utilization bars: each .bar-container
// holds a label span ("Seil…" or "Boulder…") and a bar with a
// data-percentage attribute.
func parseAreaBars(nodes []*html.Node) (rope, boulder *int) {
	for _, n := range nodes {
		if !isElement(n, "div") || !hasClass(n, "bar-container") {
			continue
		}
		var label string
		var pct *int
		for _, d := range flatten(n) {
			if isElement(d, "span") && hasClass(d, "label") {
				label = strings.ToLower(nodeText(d))
			}
			if isElement(d, "div") && hasClass(d, "bar") {
				if raw := attrValue(d, "data-percentage"); raw != "" {
					if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
						pct = &v
					}
				}
			}
		}
		if pct == nil {
			continue
		}
		switch {
		case strings.Contains(label, "seil"):
			rope = pct
		case strings.Contains(label, "boulder"):
			boulder = pct
		}
	}
	return rope, boulder
}

// parseSectors locates the "Offene Sektoren" heading and reads the first and
// second counter spans that follow it in document order.
func parseSectors(nodes []*html.Node) (open, total *int) {
	start := -1
	for i, n := range nodes {
		if (isElement(n, "h2") || isElement(n, "h3")) &&
			strings.Contains(strings.ToLower(nodeText(n)), "offene sektoren") {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, nil
	}
	for _, n := range nodes[start+1:] {
		if !isElement(n, "span") {
			continue
		}
		if open == nil && hasClass(n, "first") {
			open = firstCount(nodeText(n))
		}
		if total == nil && hasClass(n, "second") {
			total = firstCount(nodeText(n))
		}
		if open != nil && total != nil {
			break
		}
	}
	return open, total
}

// parseCSSHeights pulls bar percentages out of inline styles; by widget
// convention the rope bar renders before the boulder bar.
func parseCSSHeights(body string) (rope, boulder *int) {
	matches := reCSSHeight.FindAllStringSubmatch(body, -1)
	var values []int
	for _, m := range matches {
		if v, err := strconv.Atoi(m[1]); err == nil {
			values = append(values, v)
		}
	}
	if len(values) >= 1 {
		rope = &values[0]
	}
	if len(values) >= 2 {
		boulder = &values[1]
	}
	return rope, boulder
}

// --- html helpers ---

// flatten returns n and all its descendants in document order.
func flatten(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		out = append(out, node)
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && n.Data == tag
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, token := range strings.Fields(attrValue(n, "class")) {
		if token == class {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	for _, d := range flatten(n) {
		if d.Type == html.TextNode {
			b.WriteString(d.Data)
		}
	}
	return strings.TrimSpace(b.String())
}

func firstCount(text string) *int {
	m := reCount.FindString(text)
	if m == "" {
		return nil
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &v
}
