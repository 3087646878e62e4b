package main

import (
	"github.com/lunixbochs/ukern/go/cmd"

	_ "github.com/lunixbochs/ukern/go/cmd/run"

	_ "github.com/lunixbochs/ukern/go/cmd/console"
	_ "github.com/lunixbochs/ukern/go/cmd/trace"
)

func main() { cmd.Main() }
