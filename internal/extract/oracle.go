package extract

import "context"

// Response is one oracle answer: the parsed JSON object plus the token
// count the call consumed.
type Response struct {
	Data       map[string]any
	TokensUsed int
}

// Oracle is the language-model backend that turns a prompt into structured
// data. Implementations must return an error for any payload that is not a
// JSON object.
type Oracle interface {
	Call(ctx context.Context, system, prompt string) (*Response, error)
}
