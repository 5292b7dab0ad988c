package annotation

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
)

// Command runs an external annotator once per segment. The segment text is
// written to stdin and an XMI document is expected on stdout.
type Command struct {
	Path    string
	Args    []string
	Policy  RetryPolicy
	Decoder XMIDecoder
}

// Annotate implements Adapter.
func (c *Command) Annotate(ctx context.Context, req Request) (Document, error) {
	if c.Path == "" {
		return nil, fmt.Errorf("command adapter: path required: %w", internalerr.ErrAdapterFailure)
	}
	return c.Policy.do(ctx, req.Name, func(ctx context.Context) (Document, error) {
		cmd := exec.CommandContext(ctx, c.Path, c.Args...)
		cmd.Stdin = bytes.NewReader(req.Text)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		cmd.WaitDelay = time.Second
		if err := cmd.Run(); err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
			return nil, retry.RetryableError(err)
		}
		return c.Decoder.Decode(&stdout)
	})
}
