package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/syncroom-go/internal/infra/buildinfo"
)

// VersionCommand prints the CLI build information.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information",
		Action: func(c *cli.Context) error {
			info := buildinfo.Get()
			if isTable(c) {
				fmt.Fprintf(stdout(c), "syncroom-cli %s\n  commit:     %s\n  built:      %s\n  go version: %s\n",
					info.Version, info.Commit, info.BuildTime, info.GoVersion)
				return nil
			}
			return render(c, info)
		},
	}
}
