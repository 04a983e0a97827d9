package bundle

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// EsbuildMinifier minifies with esbuild's transform API. The input is treated
// as plain browser JavaScript; nothing is bundled or resolved.
type EsbuildMinifier struct {
	// Target is the language level of the output. Zero means ESNext.
	Target api.Target

	// KeepIdentifiers disables identifier mangling.
	KeepIdentifiers bool
}

// Minify implements Minifier.
func (m EsbuildMinifier) Minify(ctx context.Context, src []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := api.Transform(string(src), api.TransformOptions{
		Loader:            api.LoaderJS,
		Target:            m.Target,
		MinifyWhitespace:  true,
		MinifySyntax:      true,
		MinifyIdentifiers: !m.KeepIdentifiers,
		LegalComments:     api.LegalCommentsEndOfFile,
		Sourcefile:        "bundle.js",
	})
	if len(result.Errors) > 0 {
		return nil, messagesError(result.Errors)
	}
	return result.Code, nil
}

func messagesError(msgs []api.Message) error {
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if loc := msg.Location; loc != nil {
			lines = append(lines, fmt.Sprintf("%s:%d:%d: %s", loc.File, loc.Line, loc.Column, msg.Text))
			continue
		}
		lines = append(lines, msg.Text)
	}
	return fmt.Errorf("%s", strings.Join(lines, "\n"))
}
