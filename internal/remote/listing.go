package remote

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/oshokin/device-updater/internal/domain/update"
)

// Link is an entry of a directory listing page.
type Link struct {
	// Name is the visible entry name.
	Name string
	// URL is the absolute location of the entry.
	URL string
}

// ListLinks fetches a directory listing page and returns its entries in document order.
// Sorting links, parent links and fragments are skipped.
func (c *Client) ListLinks(ctx context.Context, pageURL string) ([]Link, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w: %w", update.ErrNetwork, err)
	}

	body, err := c.Text(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	document, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing %s: %w: %w", pageURL, update.ErrNetwork, err)
	}

	var links []Link

	walk(document, func(node *html.Node) {
		link, ok := linkFromAnchor(base, node)
		if ok {
			links = append(links, link)
		}
	})

	return links, nil
}

func walk(node *html.Node, visit func(*html.Node)) {
	visit(node)

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		walk(child, visit)
	}
}

func linkFromAnchor(base *url.URL, node *html.Node) (Link, bool) {
	if node.Type != html.ElementNode || node.Data != "a" {
		return Link{}, false
	}

	href := attribute(node, "href")
	if href == "" || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "../") {
		return Link{}, false
	}

	target, err := base.Parse(href)
	if err != nil {
		return Link{}, false
	}

	name := strings.TrimSpace(text(node))
	if name == "" {
		name = path.Base(target.Path)
	}

	return Link{Name: name, URL: target.String()}, true
}

func attribute(node *html.Node, key string) string {
	for _, attr := range node.Attr {
		if attr.Key == key {
			return strings.TrimSpace(attr.Val)
		}
	}

	return ""
}

func text(node *html.Node) string {
	var builder strings.Builder

	walk(node, func(n *html.Node) {
		if n.Type == html.TextNode {
			builder.WriteString(n.Data)
		}
	})

	return builder.String()
}
