package command

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/urfave/cli/v2"
)

// ClusterCommand returns the cluster subcommand group.
func ClusterCommand() *cli.Command {
	return &cli.Command{
		Name:  "cluster",
		Usage: "Inspect cluster membership",
		Subcommands: []*cli.Command{
			{
				Name:   "members",
				Usage:  "List the nodes the server sees",
				Action: clusterMembers,
			},
			{
				Name:      "group",
				Usage:     "List the members of a process group",
				ArgsUsage: "GROUP",
				Action:    clusterGroup,
			},
		},
	}
}

func clusterMembers(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var result clusterMembersResponse
	if err := NewClient(c).Call(ctx, http.MethodGet, "/cluster/members", nil, nil, &result); err != nil {
		return err
	}
	if !isTable(c) {
		return render(c, result)
	}
	if err := render(c, nodeRows(result.Members)); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "\nAnswered by: %s\n", result.Local)
	return nil
}

func clusterGroup(c *cli.Context) error {
	if err := requireArgs(c, "GROUP"); err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var result groupResponse
	path := "/cluster/groups/" + url.PathEscape(c.Args().First())
	if err := NewClient(c).Call(ctx, http.MethodGet, path, nil, nil, &result); err != nil {
		return err
	}
	if !isTable(c) {
		return render(c, result)
	}
	if len(result.Members) == 0 {
		fmt.Fprintf(stdout(c), "Group %s has no members.\n", result.Group)
		return nil
	}
	return render(c, result.Members)
}
