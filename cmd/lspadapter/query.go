package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dshills/lspadapter/internal/adapter"
	"github.com/dshills/lspadapter/internal/lsp"
)

// query is one navigation request exposed as a subcommand.
type query struct {
	name  string
	short string
	do    func(ctx context.Context, s *adapter.Session, relPath string, line, char int) ([]lsp.ResolvedLocation, error)
}

var referencesQuery = query{
	name:  "references",
	short: "List every reference to the symbol at a position",
	do: func(ctx context.Context, s *adapter.Session, relPath string, line, char int) ([]lsp.ResolvedLocation, error) {
		return s.References(ctx, relPath, line, char)
	},
}

var definitionQuery = query{
	name:  "definition",
	short: "Find the definition of the symbol at a position",
	do: func(ctx context.Context, s *adapter.Session, relPath string, line, char int) ([]lsp.ResolvedLocation, error) {
		return s.Definition(ctx, relPath, line, char)
	},
}

// position is a parsed query target. Line and character are zero based.
type position struct {
	repo    string
	relPath string
	line    int
	char    int
}

func parsePosition(args []string) (position, error) {
	p := position{repo: args[0], relPath: args[1]}
	var err error
	if p.line, err = parseIndex("line", args[2]); err != nil {
		return p, err
	}
	if p.char, err = parseIndex("character", args[3]); err != nil {
		return p, err
	}
	return p, nil
}

func parseIndex(what, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", what, s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %d: must not be negative", what, n)
	}
	return n, nil
}

func newQueryCmd(opts *globalOptions, q query) *cobra.Command {
	var (
		language string
		noRetry  bool
	)

	cmd := &cobra.Command{
		Use:   q.name + " <repo> <relpath> <line> <char>",
		Short: q.short,
		Long: q.short + `.

Line and character are zero based. The result is a JSON array of
locations with uri, absolutePath, relativePath and range.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parsePosition(args)
			if err != nil {
				return err
			}

			a, cfg, err := opts.newAdapter(language, pos.relPath)
			if err != nil {
				return err
			}
			defer a.Close()

			attempts := cfg.Query.EmptyRetryAttempts
			if noRetry {
				attempts = 0
			}

			var result []lsp.ResolvedLocation
			err = a.Run(cmd.Context(), pos.repo, func(ctx context.Context, s *adapter.Session) error {
				var qerr error
				result, qerr = adapter.RetryEmpty(ctx, cfg.Query.EmptyRetryDelay.Std(), attempts,
					func(ctx context.Context) ([]lsp.ResolvedLocation, error) {
						return q.do(ctx, s, pos.relPath, pos.line, pos.char)
					})
				return qerr
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd, result)
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "adapter to use; chosen from the file name when empty")
	cmd.Flags().BoolVar(&noRetry, "no-retry", false, "do not retry a query that comes back empty")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
