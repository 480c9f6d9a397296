package parser

import "strings"

// ExtractCode pulls the code string out of a possibly-incomplete function
// argument payload of the form {"code": "..."}.
//
// The model emits the code value with raw newlines and occasional stray
// escapes, so the payload is not reliably valid JSON and a strict decoder
// cannot be used. A single forward scan tracks just enough structure: the
// opening brace, the key/value colon, and the quotes delimiting the value.
//
// With finished=false the scan is best-effort: everything seen after the
// value's opening quote is returned, which lets callers display code while
// arguments are still streaming. With finished=true the closing quote and
// brace are required and their absence reports not-ok.
func ExtractCode(functionArgs string, finished bool) (string, bool) {
	metBrace := false
	metColon := false
	begun := false
	beginIndex := 0
	endIndex := -1
	metEndBrace := false

	for index := 0; index < len(functionArgs); index++ {
		char := functionArgs[index]
		switch {
		case char == '{' && !begun:
			metBrace = true
		case char == ':' && metBrace && !metColon && !begun:
			metColon = true
		case char == '"' && metBrace && metColon:
			if !begun {
				begun = true
				beginIndex = index + 1
			} else if endIndex < 0 && !isEscaped(functionArgs, index) {
				endIndex = index
			}
		case char == '}' && endIndex >= 0:
			metEndBrace = true
		}
	}

	if !begun {
		return "", false
	}

	if finished {
		if endIndex < 0 || !metEndBrace {
			return "", false
		}
		return unescapeCode(functionArgs[beginIndex:endIndex]), true
	}

	raw := functionArgs[beginIndex:]
	if endIndex >= 0 {
		raw = functionArgs[beginIndex:endIndex]
	}
	// A trailing lone backslash is half of an escape split across
	// fragments; drop it until the next fragment completes it.
	if strings.HasSuffix(raw, `\`) && !strings.HasSuffix(raw, `\\`) {
		raw = raw[:len(raw)-1]
	}
	return unescapeCode(raw), true
}

// isEscaped reports whether the character at index is escaped by an odd
// run of preceding backslashes.
func isEscaped(text string, index int) bool {
	backslashes := 0
	for i := index - 1; i >= 0 && text[i] == '\\'; i-- {
		backslashes++
	}
	return backslashes%2 == 1
}

// unescapeCode decodes the escape sequences the model uses in code values.
func unescapeCode(raw string) string {
	var builder strings.Builder
	builder.Grow(len(raw))
	for i := 0; i < len(raw); i++ {
		char := raw[i]
		if char != '\\' || i+1 >= len(raw) {
			builder.WriteByte(char)
			continue
		}
		switch raw[i+1] {
		case 'n':
			builder.WriteByte('\n')
			i++
		case 't':
			builder.WriteByte('\t')
			i++
		case '"':
			builder.WriteByte('"')
			i++
		case '\'':
			builder.WriteByte('\'')
			i++
		case '\\':
			builder.WriteByte('\\')
			i++
		default:
			builder.WriteByte(char)
		}
	}
	return builder.String()
}
