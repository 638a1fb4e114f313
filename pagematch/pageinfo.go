package pagematch

import (
	"io"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// PageInfo is what the content context reports for the current page.
type PageInfo struct {
	Title *string `json:"title"`
	URL   string  `json:"url"`
}

// HasTitle reports whether a non empty title was found.
func (p PageInfo) HasTitle() bool {
	return p.Title != nil && *p.Title != ""
}

// ExtractPageInfo reads an HTML document and returns its og:title, falling
// back to the document title. The title is nil when neither is present.
func ExtractPageInfo(r io.Reader, pageURL string) (PageInfo, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return PageInfo{URL: pageURL}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse page html")
	}

	var ogTitle, docTitle string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Meta:
				if ogTitle == "" && attr(n, "property") == "og:title" {
					ogTitle = strings.TrimSpace(attr(n, "content"))
				}
			case atom.Title:
				if docTitle == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					docTitle = strings.TrimSpace(n.FirstChild.Data)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	info := PageInfo{URL: pageURL}
	switch {
	case ogTitle != "":
		info.Title = &ogTitle
	case docTitle != "":
		info.Title = &docTitle
	}
	return info, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
