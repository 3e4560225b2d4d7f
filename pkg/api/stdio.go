package api

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

// maxFrameSize bounds one stdio frame; model sources can be large
const maxFrameSize = 16 << 20

// ServeStdio reads one JSON-RPC frame per line from r and writes one
// response per line to w until r is exhausted or ctx is done. Frames are
// handled in order.
func (s *Service) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	out := bufio.NewWriter(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp := s.dispatcher.HandleFrame(ctx, line)
		if resp == nil {
			continue
		}
		if _, err := out.Write(append(resp, '\n')); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}
	return nil
}
