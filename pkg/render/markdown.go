package render

import "github.com/russross/blackfriday"

const (
	htmlFlags = blackfriday.HTML_USE_XHTML |
		blackfriday.HTML_SKIP_HTML |
		blackfriday.HTML_SAFELINK

	extensions = blackfriday.EXTENSION_NO_INTRA_EMPHASIS |
		blackfriday.EXTENSION_TABLES |
		blackfriday.EXTENSION_FENCED_CODE |
		blackfriday.EXTENSION_AUTOLINK |
		blackfriday.EXTENSION_STRIKETHROUGH |
		blackfriday.EXTENSION_SPACE_HEADERS
)

// HTML renders markdown produced by a model. Raw HTML in the input is dropped.
func HTML(markdown string) string {
	renderer := blackfriday.HtmlRenderer(htmlFlags, "", "")
	return string(blackfriday.Markdown([]byte(markdown), renderer, extensions))
}
