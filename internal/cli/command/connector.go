package command

import (
	"bufio"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/syncroom-go/internal/core/domain"
)

// ConnectorCommand returns the connector subcommand group.
func ConnectorCommand() *cli.Command {
	return &cli.Command{
		Name:    "connector",
		Aliases: []string{"conn"},
		Usage:   "Inspect and manage connectors",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List connectors",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "owner",
						Aliases: []string{"u"},
						Usage:   "Filter by owner ID",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status: online, offline, idle",
					},
				},
				Action: connectorList,
			},
			{
				Name:      "get",
				Usage:     "Show one connector",
				ArgsUsage: "CONNECTOR_ID",
				Action:    connectorGet,
			},
			{
				Name:      "status",
				Usage:     "Set a connector's status",
				ArgsUsage: "CONNECTOR_ID online|offline|idle",
				Action:    connectorStatus,
			},
			{
				Name:      "location",
				Aliases:   []string{"where"},
				Usage:     "Show which node holds the connector's process",
				ArgsUsage: "CONNECTOR_ID",
				Action:    connectorLocation,
			},
			{
				Name:      "heartbeat",
				Usage:     "Refresh a connector's last-seen time",
				ArgsUsage: "CONNECTOR_ID",
				Action:    connectorHeartbeat,
			},
			{
				Name:      "unregister",
				Usage:     "Unbind a connector and mark it offline",
				ArgsUsage: "CONNECTOR_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Skip confirmation",
					},
				},
				Action: connectorUnregister,
			},
		},
	}
}

func connectorPath(id string, suffix ...string) string {
	parts := append([]string{"/connectors", url.PathEscape(id)}, suffix...)
	return strings.Join(parts, "/")
}

func connectorList(c *cli.Context) error {
	if status := c.String("status"); status != "" {
		if _, err := domain.ParseConnectorStatus(status); err != nil {
			return err
		}
	}

	query := url.Values{}
	if owner := c.String("owner"); owner != "" {
		query.Set("owner", owner)
	}
	if status := c.String("status"); status != "" {
		query.Set("status", status)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var result listConnectorsResponse
	if err := NewClient(c).Call(ctx, http.MethodGet, "/connectors", query, nil, &result); err != nil {
		return err
	}

	if !isTable(c) {
		return render(c, result)
	}
	if err := render(c, connectorRows(result.Items)); err != nil {
		return err
	}
	fmt.Fprintf(stdout(c), "\nTotal: %d connectors\n", result.Total)
	return nil
}

func connectorGet(c *cli.Context) error {
	if err := requireArgs(c, "CONNECTOR_ID"); err != nil {
		return err
	}
	return fetchConnector(c, http.MethodGet, connectorPath(c.Args().First()), nil)
}

func connectorStatus(c *cli.Context) error {
	if err := requireArgs(c, "CONNECTOR_ID", "STATUS"); err != nil {
		return err
	}
	status, err := domain.ParseConnectorStatus(c.Args().Get(1))
	if err != nil {
		return err
	}
	body := map[string]string{"status": string(status)}
	return fetchConnector(c, http.MethodPost, connectorPath(c.Args().First(), "status"), body)
}

func connectorHeartbeat(c *cli.Context) error {
	if err := requireArgs(c, "CONNECTOR_ID"); err != nil {
		return err
	}
	return fetchConnector(c, http.MethodPost, connectorPath(c.Args().First(), "heartbeat"), nil)
}

func connectorUnregister(c *cli.Context) error {
	if err := requireArgs(c, "CONNECTOR_ID"); err != nil {
		return err
	}
	id := c.Args().First()

	if !c.Bool("force") {
		fmt.Fprintf(stdout(c), "Unregister connector '%s'? Its process binding is dropped. [y/N]: ", id)
		answer, _ := bufio.NewReader(c.App.Reader).ReadString('\n')
		if a := strings.TrimSpace(answer); a != "y" && a != "Y" {
			fmt.Fprintln(stdout(c), "Cancelled.")
			return nil
		}
	}
	return fetchConnector(c, http.MethodPost, connectorPath(id, "unregister"), nil)
}

// fetchConnector performs a call that answers with a single connector and
// renders it.
func fetchConnector(c *cli.Context, method, path string, body any) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	var conn domain.Connector
	if err := NewClient(c).Call(ctx, method, path, nil, body, &conn); err != nil {
		return err
	}
	if isTable(c) {
		return render(c, connectorRowOf(&conn))
	}
	return render(c, &conn)
}

func connectorLocation(c *cli.Context) error {
	if err := requireArgs(c, "CONNECTOR_ID"); err != nil {
		return err
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	var loc locationResponse
	if err := NewClient(c).Call(ctx, http.MethodGet, connectorPath(c.Args().First(), "location"), nil, nil, &loc); err != nil {
		return err
	}
	return render(c, loc)
}
