package command

import "strings"

// Invocation is parsed command text.
type Invocation struct {
	// Name is the case-folded command token without prefix or suffix.
	Name string

	// Args are the whitespace-separated arguments after the token.
	Args []string

	// Content is the argument portion of the raw text, joined by spaces.
	Content string

	// Raw is the unmodified input.
	Raw string
}

// Parse splits prefixed command text into an invocation.
//
// The command token is case-folded and an optional platform suffix
// ("/cmd@botname" style addressing) is stripped. Returns false when the
// text does not start with the prefix or carries no token.
func Parse(raw, prefix string) (*Invocation, bool) {
	if prefix == "" || !strings.HasPrefix(raw, prefix) {
		return nil, false
	}

	fields := strings.Fields(raw[len(prefix):])
	if len(fields) == 0 {
		return nil, false
	}

	token := strings.ToLower(fields[0])
	if at := strings.IndexByte(token, '@'); at >= 0 {
		token = token[:at]
	}
	if token == "" {
		return nil, false
	}

	args := fields[1:]
	return &Invocation{
		Name:    token,
		Args:    args,
		Content: strings.Join(args, " "),
		Raw:     raw,
	}, true
}
