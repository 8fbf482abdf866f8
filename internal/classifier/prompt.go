package classifier

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tofagerl/mailmind/internal/parser"
	"github.com/tofagerl/mailmind/pkg/models"
)

// maxBodyRunes bounds the body text sent per message
const maxBodyRunes = 1000

type promptCategory struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// BuildPrompt renders a batch request. Results are expected one JSON object
// per line, in message order.
func BuildPrompt(batch []*models.Message, set *models.CategorySet, text *parser.HTMLParser) Prompt {
	cats := make([]promptCategory, 0, set.Len())
	for _, c := range set.All() {
		cats = append(cats, promptCategory{Name: c.Name, Description: c.Description})
	}
	catJSON, _ := json.MarshalIndent(cats, "", "  ")

	var system strings.Builder
	system.WriteString("You are an email classifier. Assign every email to exactly one of these categories:\n")
	system.Write(catJSON)
	system.WriteString("\n\nFor each email reply with one JSON object on its own line, in the same order as the emails:\n")
	system.WriteString(`{"email": <number>, "category": "<name>", "confidence": <0-100>, "reasoning": "<short reason>"}`)
	system.WriteString("\nUse only the category names listed above. Do not add any other text.")

	var user strings.Builder
	for i, msg := range batch {
		fmt.Fprintf(&user, "Email %d:\n", i+1)
		fmt.Fprintf(&user, "From: %s\n", msg.From)
		fmt.Fprintf(&user, "To: %s\n", msg.To)
		fmt.Fprintf(&user, "Subject: %s\n", msg.Subject)
		if !msg.Date.IsZero() {
			fmt.Fprintf(&user, "Date: %s\n", msg.Date.Format(time.RFC1123Z))
		}
		body := msg.Body
		if text != nil {
			body = text.Snippet(body, maxBodyRunes)
		}
		fmt.Fprintf(&user, "Body:\n%s\n\n", body)
	}

	return Prompt{System: system.String(), User: user.String()}
}
