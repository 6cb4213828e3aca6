package generation

import (
	"context"

	"github.com/phrazzld/contentq/internal/domain"
)

// Request describes one piece of content to write.
type Request struct {
	TaskID       string
	Type         domain.TaskType
	Topic        string
	Requirements string
	Constraints  domain.HardConstraints

	// Attempt is 1 for the first draft and grows with each rewrite.
	Attempt int

	// PreviousDraft and Feedback are set when a draft failed review.
	PreviousDraft string
	Feedback      []string
}

// RequestForTask builds the first-attempt request for a task.
func RequestForTask(t *domain.Task) Request {
	return Request{
		TaskID:       t.ID,
		Type:         t.Type,
		Topic:        t.Topic,
		Requirements: t.Requirements,
		Constraints:  t.HardConstraints,
		Attempt:      1,
	}
}

// Generator defines the interface for generating content from a request.
// This interface serves as a boundary between the executor and
// external AI/LLM services.
type Generator interface {
	// Generate returns the content text for the request, or an error from
	// errors.go when generation fails.
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
