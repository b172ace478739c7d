// Package service implements the orchestration core: admission control,
// budget gatekeeping, shared runtime state, and candidate post-processing.
// Services own all business rules; the engine package only sequences them.
package service

import "fmt"

// Blocked is a typed admission refusal. It is a result, not an error:
// callers read the reason and skip or defer locally instead of unwinding.
type Blocked struct {
	Reason string
}

func (b *Blocked) String() string {
	if b == nil {
		return ""
	}
	return fmt.Sprintf("blocked: %s", b.Reason)
}
