package email

import (
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message/mail"

	"github.com/tofagerl/mailmind/internal/parser"
)

// extractBody returns the plain text of a raw RFC 5322 message.
// text/plain parts win; HTML-only mail is converted to text.
func extractBody(r io.Reader, html *parser.HTMLParser, logger *slog.Logger) string {
	mr, err := mail.CreateReader(r)
	if err != nil {
		logger.Warn("failed to create mail reader", "error", err)
		return ""
	}
	defer mr.Close()

	var text, htmlBody strings.Builder
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn("failed to read part", "error", err)
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(ct, "text/plain"):
			text.Write(body)
		case strings.HasPrefix(ct, "text/html"):
			htmlBody.Write(body)
		}
	}

	if text.Len() > 0 {
		return strings.TrimSpace(text.String())
	}
	if htmlBody.Len() > 0 && html != nil {
		converted, err := html.Parse(htmlBody.String())
		if err != nil {
			logger.Warn("failed to convert html body", "error", err)
			return ""
		}
		return converted
	}
	return ""
}
