package main

import (
	"github.com/alecthomas/kong"

	"github.com/joshschmelzle/wlanpi-kernel/cmd/kernelbuilder/commands"
	"github.com/joshschmelzle/wlanpi-kernel/internal/version"
)

func main() {
	cli := commands.CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("kernelbuilder"),
		kong.Description("Build and package the WLAN Pi kernel from upstream source."),
		kong.UsageOnError(),
		kong.Vars{"version": version.Version},
	)
	err := ctx.Run(&commands.Global{})
	ctx.FatalIfErrorf(err)
}
