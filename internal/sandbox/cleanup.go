package sandbox

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// CleanupStale force-removes any containers whose names match one of the
// given prefixes, regardless of which process created them. Used to recover
// from previous crashed runs. Zero matches is a clean no-op.
func CleanupStale(ctx context.Context, runner Runner, prefixes []string) ([]string, error) {
	names, err := runner.ListNames(ctx)
	if err != nil {
		return nil, err
	}

	var stale []string
	for _, name := range names {
		for _, prefix := range prefixes {
			if prefix != "" && strings.HasPrefix(name, prefix) {
				stale = append(stale, name)
				break
			}
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range stale {
		name := name
		g.Go(func() error {
			return runner.Remove(gctx, name)
		})
	}
	if err := g.Wait(); err != nil {
		return stale, err
	}
	return stale, nil
}
