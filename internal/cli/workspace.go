package cli

import (
	"fmt"
	"path"

	"github.com/fslongjin/flutterbox/internal/cli/output"
	"github.com/fslongjin/flutterbox/pkg/model"
	"github.com/spf13/cobra"
)

var (
	quietFlag    bool
	pageFlag     int
	pageSizeFlag int
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	Short:   "Manage workspaces",
	Long:    `Create workspaces from the server template, list them and inspect their files.`,
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a workspace from the template",
	Args:  cobra.NoArgs,
	Example: `  flutterbox workspace create
  ID=$(flutterbox workspace create -q)`,
	RunE: runWorkspaceCreate,
}

var workspaceListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List workspaces and their last build result",
	Args:    cobra.NoArgs,
	Example: `  flutterbox workspace list --page 2 --page-size 50`,
	RunE:    runWorkspaceList,
}

var workspaceTreeCmd = &cobra.Command{
	Use:     "tree <id>",
	Short:   "Show the source files of a workspace",
	Args:    cobra.ExactArgs(1),
	Example: `  flutterbox workspace tree 1f2e3d4c -o json`,
	RunE:    runWorkspaceTree,
}

func init() {
	rootCmd.AddCommand(workspaceCmd)

	workspaceCreateCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Only print the workspace ID")
	workspaceCmd.AddCommand(workspaceCreateCmd)

	workspaceListCmd.Flags().IntVar(&pageFlag, "page", 0, "Page number (default 1)")
	workspaceListCmd.Flags().IntVar(&pageSizeFlag, "page-size", 0, "Items per page (default 20)")
	workspaceCmd.AddCommand(workspaceListCmd)

	workspaceCmd.AddCommand(workspaceTreeCmd)
}

func runWorkspaceCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := requestContext(cmd)
	defer cancel()

	ws, err := getAPIClient().Workspaces.Create(ctx)
	if err != nil {
		return err
	}
	if quietFlag {
		fmt.Fprintln(cmd.OutOrStdout(), ws.WorkspaceID)
		return nil
	}
	f, err := formatter(
		output.Column{Field: "workspaceId", Label: "ID"},
		output.Column{Field: "createdAt", Label: "CREATED"},
	)
	if err != nil {
		return err
	}
	return f.Write(cmd.OutOrStdout(), ws)
}

func runWorkspaceList(cmd *cobra.Command, args []string) error {
	f, err := formatter(
		output.Column{Field: "id"},
		output.Column{Field: "createdAt", Label: "CREATED"},
		output.Column{Field: "lastBuildAt", Label: "LAST BUILD"},
		output.Column{Field: "lastExitCode", Label: "EXIT"},
	)
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(cmd)
	defer cancel()
	list, err := getAPIClient().Workspaces.List(ctx, pageFlag, pageSizeFlag)
	if err != nil {
		return err
	}

	if _, ok := f.(*output.TableFormatter); !ok {
		return f.Write(cmd.OutOrStdout(), list)
	}
	if err := f.Write(cmd.OutOrStdout(), list.Items); err != nil {
		return err
	}
	if list.Total > len(list.Items) {
		fmt.Fprintf(cmd.OutOrStdout(), "\npage %d, %d of %d workspaces\n", list.Page, len(list.Items), list.Total)
	}
	return nil
}

// treeRow is one flattened entry of a workspace listing.
type treeRow struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size *int64 `json:"size"`
}

func runWorkspaceTree(cmd *cobra.Command, args []string) error {
	f, err := formatter(output.Column{Field: "path"}, output.Column{Field: "type"}, output.Column{Field: "size"})
	if err != nil {
		return err
	}

	ctx, cancel := requestContext(cmd)
	defer cancel()
	nodes, err := getAPIClient().Workspaces.Tree(ctx, args[0])
	if err != nil {
		return err
	}

	if _, ok := f.(*output.TableFormatter); !ok {
		return f.Write(cmd.OutOrStdout(), nodes)
	}
	return f.Write(cmd.OutOrStdout(), flattenTree(nodes, nil))
}

func flattenTree(nodes []model.FileNode, rows []treeRow) []treeRow {
	for _, n := range nodes {
		p := n.Path
		if n.Type == model.FileKindDir {
			p = path.Clean(p) + "/"
		}
		rows = append(rows, treeRow{Path: p, Type: string(n.Type), Size: n.Size})
		rows = flattenTree(n.Children, rows)
	}
	return rows
}
