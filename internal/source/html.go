package source

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rotisserie/eris"
)

var (
	sanitizer   = bluemonday.UGCPolicy()
	mdConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
)

// HTMLToMarkdown strips scripts, styles and unsafe markup from html and
// converts what remains to markdown. Relative links resolve against pageURL
// when it is set.
func HTMLToMarkdown(html, pageURL string) (string, error) {
	clean := sanitizer.Sanitize(html)

	var md string
	var err error
	if pageURL != "" {
		md, err = mdConverter.ConvertString(clean, converter.WithDomain(pageURL))
	} else {
		md, err = mdConverter.ConvertString(clean)
	}
	if err != nil {
		return "", eris.Wrap(err, "source: convert html")
	}
	return strings.TrimSpace(md), nil
}
