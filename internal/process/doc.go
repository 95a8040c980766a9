// Package process supervises language server child processes.
//
// A Supervisor launches each server from a Spec (command tokens, working
// directory, extra environment), pipes its standard streams and reaps it
// when it exits, calling the Spec's OnExit handler. Stop asks a process
// to terminate and kills it when it does not exit within the grace
// period; a forced kill is reported to the caller but is never an error.
//
//	sup := process.NewSupervisor()
//	defer sup.Shutdown(2 * time.Second)
//
//	proc, err := sup.Launch("ruby-lsp", process.Spec{
//	    Command: []string{"bundle", "exec", "ruby-lsp"},
//	    Dir:     installDir,
//	    OnExit:  func(p *process.Process) { log.Printf("exit %d", p.ExitCode()) },
//	})
//	if err != nil {
//	    return err
//	}
//	conn := proc.ReadWriteCloser() // stdout in, stdin out
//
// Both Supervisor and Process are safe for concurrent use.
package process
