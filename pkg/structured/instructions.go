package structured

import "strings"

// JSONPrompt asks the remote side to answer with JSON only.
const JSONPrompt = "I want every reply to be formatted as JSON. " +
	"Do not ever write anything other than valid JSON. Do not add \"Note\". " +
	"JSON multi-line strings should be put on a single line with new line characters, " +
	"as expected by the JSON standard."

// FieldSpec asks for one key of the reply.
type FieldSpec struct {
	Question string
	Key      string
}

// JSONInstructions renders JSONPrompt followed by one "* question; key: name" line per field.
func JSONInstructions(fields ...FieldSpec) string {
	lines := make([]string, 0, len(fields)+1)
	lines = append(lines, JSONPrompt)
	for _, f := range fields {
		lines = append(lines, "* "+f.Question+"; key: "+f.Key)
	}
	return strings.Join(lines, "\n")
}
