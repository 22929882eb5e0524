package command

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/syncroom-go/internal/core/arbiter"
	"github.com/yndnr/syncroom-go/internal/core/domain"
)

// ResourceCommand returns the resource subcommand group.
func ResourceCommand() *cli.Command {
	return &cli.Command{
		Name:    "resource",
		Aliases: []string{"res"},
		Usage:   "Inspect room resources and their controllers",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List resources with a live arbiter on the server",
				Action:  resourceList,
			},
			{
				Name:      "state",
				Usage:     "Show controller, pending request and payload of a resource",
				ArgsUsage: "ROOM_ID media|whiteboard|viewer3d",
				Action:    resourceState,
			},
		},
	}
}

func resourceList(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var result listRoomsResponse
	if err := NewClient(c).Call(ctx, http.MethodGet, "/rooms", nil, nil, &result); err != nil {
		return err
	}
	if !isTable(c) {
		return render(c, result)
	}
	if len(result.Resources) == 0 {
		fmt.Fprintln(stdout(c), "No active resources.")
		return nil
	}
	rows := make([]resourceRow, 0, len(result.Resources))
	for _, id := range result.Resources {
		rows = append(rows, resourceRow{Room: id.RoomID, Kind: string(id.Kind)})
	}
	return render(c, rows)
}

func resourceState(c *cli.Context) error {
	if err := requireArgs(c, "ROOM_ID", "KIND"); err != nil {
		return err
	}
	kind, err := domain.ParseResourceKind(c.Args().Get(1))
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var snap arbiter.Snapshot
	path := "/rooms/" + url.PathEscape(c.Args().First()) + "/" + string(kind)
	if err := NewClient(c).Call(ctx, http.MethodGet, path, nil, nil, &snap); err != nil {
		return err
	}
	if isTable(c) {
		return render(c, stateViewOf(snap))
	}
	return render(c, snap)
}
