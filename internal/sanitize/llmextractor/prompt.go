package llmextractor

import (
	"strings"
)

var labelDescriptions = map[string]string{
	"PERSON":         "personal names (e.g. John Smith, Zhang San)",
	"EMAIL":          "e-mail addresses (e.g. user@example.com)",
	"PHONE":          "mobile, landline and area-coded phone numbers (e.g. 13800138000, 138-0013-8000, 010-62345678)",
	"ID_NUMBER":      "national ID or passport numbers",
	"IDCN":           "Chinese resident ID numbers (18 or 15 digits)",
	"BANK_ACCOUNT":   "bank account or card numbers (16-19 digits)",
	"CREDIT_CARD":    "credit card numbers (16 digits, possibly grouped by spaces or dashes)",
	"ADDRESS":        "full street addresses",
	"ORGANIZATION":   "names of organizations and institutions",
	"COMPANY":        "company names",
	"IP_ADDRESS":     "IP addresses (e.g. 192.168.1.1)",
	"URL":            "web links (e.g. https://example.com)",
	"LOCATION":       "geographic locations and place names",
	"LICENSE_PLATE":  "vehicle license plates",
	"FINANCIAL_INFO": "other sensitive financial information",
}

const promptRules = `Rules:
1. EMAIL must contain an @ sign and a domain.
2. PHONE covers every digit sequence used as a phone number (10 digits or more).
3. Bank account numbers are usually 16-19 consecutive digits.
4. Addresses must be recognized in full.
5. Company names usually contain words such as "Inc", "Ltd", "Group" or "Corporation".`

const promptReply = `Reply with JSON only, in exactly this shape:
{
  "entities": [
    {
      "text": "exact entity text",
      "label": "ENTITY_TYPE",
      "start": 0,
      "end": 0,
      "confidence": 0.0
    }
  ]
}

Requirements:
1. Return only the JSON object, no explanation.
2. start and end are character indices into the text, starting at 0; end is exclusive.
3. text must equal the characters between start and end exactly.
4. confidence is a number between 0.7 and 1.0 reflecting how certain the recognition is.
5. Return an empty array if no entity is found.
6. Every EMAIL and PHONE entity must be reported.`

// BuildPrompt renders the instruction sent to the completion function.
func (e *Extractor) BuildPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Identify the sensitive entities in the text below.\n\n")
	b.WriteString("Entity types to identify: ")
	b.WriteString(strings.Join(e.labels, ", "))
	b.WriteString("\n\nEntity type descriptions:\n")
	for _, l := range e.labels {
		desc, ok := labelDescriptions[l]
		if !ok {
			desc = "entities of type " + l
		}
		b.WriteString("- " + l + ": " + desc + "\n")
	}
	b.WriteString("\n" + promptRules + "\n\n")
	b.WriteString("Text:\n")
	b.WriteString(text)
	b.WriteString("\n\n" + promptReply)
	return b.String()
}
