package main

import (
	"fmt"

	"github.com/cuemby/fdfs/pkg/types"
	"github.com/spf13/cobra"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List storage groups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		groups, err := c.ListGroups(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("group count: %d\n\n", len(groups))
		for i := range groups {
			fmt.Println(groups[i].String())
		}
		return nil
	},
}

var groupCmd = &cobra.Command{
	Use:   "group NAME",
	Short: "Show one storage group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		g, err := c.ListOneGroup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(g.String())
		return nil
	},
}

var serversCmd = &cobra.Command{
	Use:   "servers GROUP [IP]",
	Short: "List the storage servers of a group",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		ip := ""
		if len(args) == 2 {
			ip = args[1]
		}
		servers, err := c.ListServers(cmd.Context(), args[0], ip)
		if err != nil {
			return err
		}
		fmt.Printf("storage server count: %d\n\n", len(servers))
		for i := range servers {
			fmt.Println(servers[i].String())
		}
		return nil
	},
}

var storeCmd = &cobra.Command{
	Use:   "store [GROUP]",
	Short: "Ask the tracker where a new file would be uploaded",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		all, _ := cmd.Flags().GetBool("all")
		ctx := cmd.Context()
		group := ""
		if len(args) == 1 {
			group = args[0]
		}

		var targets []types.BasicStorageInfo
		switch {
		case all && group == "":
			st, err := c.QueryStoreWithoutGroupAll(ctx)
			if err != nil {
				return err
			}
			targets = st.Targets()
		case all:
			st, err := c.QueryStoreWithGroupAll(ctx, group)
			if err != nil {
				return err
			}
			targets = st.Targets()
		case group == "":
			t, err := c.QueryStoreWithoutGroupOne(ctx)
			if err != nil {
				return err
			}
			targets = append(targets, *t)
		default:
			t, err := c.QueryStoreWithGroupOne(ctx, group)
			if err != nil {
				return err
			}
			targets = append(targets, *t)
		}

		for _, t := range targets {
			fmt.Printf("%s\t%s\tstore_path=%d\n", t.GroupName, t.Endpoint(), t.StorePathIndex)
		}
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch FILE_ID",
	Short: "Ask the tracker which storage servers hold a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		group, filename, err := types.SplitFileID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		var targets []types.FetchTarget
		if all, _ := cmd.Flags().GetBool("all"); all {
			targets, err = c.QueryFetchAll(cmd.Context(), group, filename)
		} else {
			var t *types.FetchTarget
			if t, err = c.QueryFetchOne(cmd.Context(), group, filename); err == nil {
				targets = append(targets, *t)
			}
		}
		if err != nil {
			return err
		}

		for _, t := range targets {
			fmt.Printf("%s\t%s\n", t.GroupName, t.Endpoint())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(fetchCmd)

	storeCmd.Flags().Bool("all", false, "List every storage server of the group")
	fetchCmd.Flags().Bool("all", false, "List every storage server holding the file")
}
