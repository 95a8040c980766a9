// Package adapter is the entry point for querying a repository through a
// language server.
//
// A Definition bundles everything language specific: the install
// manifest, launch command, initialize template, readiness matcher and
// handlers for server-initiated messages. An Adapter turns a Definition
// and a config.Config into sessions:
//
//	a, err := adapter.New(ruby.Definition(), cfg)
//	if err != nil {
//		return err
//	}
//	defer a.Close()
//
//	err = a.Run(ctx, "/src/todo", func(ctx context.Context, s *adapter.Session) error {
//		refs, err := s.References(ctx, "lib/todo/printable.rb", 5, 7)
//		...
//	})
//
// Run bootstraps the runtime dependencies on first use, starts the
// server, waits for readiness and always shuts the server down, whether
// fn returns, fails or panics. An Adapter serves one session at a time.
package adapter
