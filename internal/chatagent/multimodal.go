package chatagent

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

// FileReader fetches the raw bytes behind an attachment so the facade can
// build multimodal content blocks and inline text files. Blob storage
// itself is out of scope for this module; a Facade
// without a FileReader simply passes attachments through untouched,
// relying on whatever URL the caller already populated.
type FileReader interface {
	Read(ctx context.Context, attachment models.Attachment) ([]byte, error)
}

// applyMultimodal rewrites a freshly-attached file's Attachment and, for
// text files, returns a fenced inline block to append to the message
// content: text files are decoded and inlined between named fences.
// Image and PDF files are left as Attachments carrying a
// data-URI so the graph's attachmentsToContentBlocks can pick them up.
func (f *Facade) applyMultimodal(ctx context.Context, atts []models.Attachment) ([]models.Attachment, string) {
	if f.Files == nil || len(atts) == 0 {
		return atts, ""
	}

	out := make([]models.Attachment, 0, len(atts))
	var fences strings.Builder
	for _, att := range atts {
		data, err := f.Files.Read(ctx, att)
		if err != nil {
			out = append(out, att)
			continue
		}

		switch {
		case att.Type == "image" || att.Type == "pdf" || strings.HasPrefix(att.MimeType, "image/") || att.MimeType == "application/pdf":
			att.URL = "data:" + att.MimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
		default:
			name := att.Filename
			if name == "" {
				name = att.ID
			}
			fmt.Fprintf(&fences, "\n\n--- file: %s ---\n%s\n--- end file: %s ---\n", name, string(data), name)
		}
		out = append(out, att)
	}
	return out, fences.String()
}
