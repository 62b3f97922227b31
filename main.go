package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tokenkit/tokenkit/cmd"
)

func main() {
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
