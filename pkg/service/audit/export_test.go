package audit

import (
	"context"
	"io"
)

// NewGCSSinkWithOpener builds a GCSSink on a custom object opener
func NewGCSSinkWithOpener(prefix string, open func(ctx context.Context, name string) io.WriteCloser) *GCSSink {
	return &GCSSink{prefix: prefix, open: open}
}
