package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/karupatti/tiffin/internal/catalog"
)

// MenuOptions holds flags for the menu command.
type MenuOptions struct {
	*RootOptions
	MenuDir string
	Filter  string
}

// MenuItem is the serialized form of one catalog item.
type MenuItem struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Price int64    `json:"price"`
	Tags  []string `json:"tags,omitempty"`
}

// NewMenuCommand creates the menu command.
func NewMenuCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MenuOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "menu",
		Short: "List the menu catalog",
		Long: `Load and validate the menu catalog from a directory of CUE files,
then list the items.

Every file must satisfy the embedded menu schema; a menu that fails
validation is rejected before anything is listed.

Examples:
  tiffin menu --menu-dir ./menu
  tiffin menu --menu-dir ./menu --filter dosa
  tiffin menu --menu-dir ./menu --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMenu(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MenuDir, "menu-dir", "", "directory of menu CUE files (required)")
	_ = cmd.MarkFlagRequired("menu-dir")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "substring filter on name or tags")

	return cmd
}

func runMenu(opts *MenuOptions, cmd *cobra.Command) error {
	cat, err := catalog.LoadDir(opts.MenuDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load menu", err)
	}

	items := cat.List(opts.Filter)

	out := make([]MenuItem, len(items))
	for i, item := range items {
		out[i] = MenuItem{ID: item.ID, Name: item.Name, Price: item.Price, Tags: item.Tags}
	}

	if opts.Format == "json" {
		return outputJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	if len(out) == 0 {
		fmt.Fprintf(w, "No items match %q\n", opts.Filter)
		return nil
	}

	for _, item := range out {
		fmt.Fprintf(w, "%-16s %-20s ₹%d", item.ID, item.Name, item.Price)
		if len(item.Tags) > 0 {
			fmt.Fprintf(w, "  [%s]", strings.Join(item.Tags, ", "))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\n%d items\n", len(out))

	return nil
}
