package cmd

import (
	"fmt"
	"os"
	"strings"
)

type command struct {
	name, desc string
	main       func(args []string)
}

var commands = make(map[string]*command)
var order []string
var pad int

// Register adds a sub-command. main gets "prog name" as args[0].
func Register(name, desc string, main func(args []string)) {
	if len(name) > pad {
		pad = len(name)
	}
	commands[name] = &command{name, desc, main}
	order = append(order, name)
}

func Main() {
	usage := func() {
		fmt.Fprintln(os.Stderr, "Commands:")
		for _, name := range order {
			fmt.Fprintf(os.Stderr, "%-*s | %s\n", pad, name, commands[name].desc)
		}
		fmt.Fprintf(os.Stderr, "\nExample: %s run -strace -spawn /bin/echo /bin/pinger 1 4 100\n\n", os.Args[0])
	}
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Command '%s' not found.\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	args := append([]string{strings.Join(os.Args[:2], " ")}, os.Args[2:]...)
	cmd.main(args)
}
