// Package diagram finds mermaid blocks in generated chapters, renders them
// through an external service and swaps them for figure placeholders.
package diagram

import (
	"context"
	"fmt"
)

// Block is one fenced diagram description found in a text, with the
// caption line that followed it, if any.
type Block struct {
	ID      string
	Source  string
	Caption string
	// start and end delimit the fence and caption in the scanned text.
	start, end int
}

// Image is a rendered diagram.
type Image struct {
	Data      []byte
	MediaType string
}

// Service renders a diagram description into an image.
type Service interface {
	Render(ctx context.Context, source string) (*Image, error)
}

// Placeholder returns the token that stands in for a rendered block until
// the document is assembled.
func Placeholder(id string) string {
	return fmt.Sprintf("[[DIAGRAM:%s]]", id)
}
