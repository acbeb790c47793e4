package digest

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// plainText renders the HTML body for clients and gateways that want a text
// part. Links keep their target in parentheses; images are dropped.
func plainText(body string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", err
	}

	doc.Find("img").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		text := a.Text()
		href, ok := a.Attr("href")
		if ok && href != "" && href != text {
			text = fmt.Sprintf("%s (%s)", text, href)
		}
		a.ReplaceWithHtml(escapeText(text))
	})

	var posts []string
	doc.Find("div.post").Each(func(_ int, post *goquery.Selection) {
		var lines []string
		post.Find("p").Each(func(_ int, p *goquery.Selection) {
			if line := strings.TrimSpace(p.Text()); line != "" {
				lines = append(lines, line)
			}
		})
		posts = append(posts, strings.Join(lines, "\n"))
	})

	return strings.Join(posts, "\n\n----\n\n") + "\n", nil
}

func escapeText(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
