package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cuemby/fdfs/pkg/catalog"
	"github.com/cuemby/fdfs/pkg/protocol"
	"github.com/cuemby/fdfs/pkg/storage"
	"github.com/cuemby/fdfs/pkg/types"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload PATH",
	Short: "Upload a local file",
	Long: `Upload a local file and print its file id.

The extension is taken from the file name. Metadata is given as
--meta name=value and may be repeated.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")
		metaArgs, _ := cmd.Flags().GetStringArray("meta")
		md, err := parseMeta(metaArgs)
		if err != nil {
			return err
		}

		src, err := storage.OpenFile(args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		res, err := c.Upload(cmd.Context(), group, src, md)
		if err != nil {
			return err
		}

		store, err := openCatalog()
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
			abs, _ := filepath.Abs(args[0])
			err := store.Put(&catalog.FileRecord{
				FileID:     res.FileID(),
				Group:      res.GroupName,
				Name:       filepath.Base(args[0]),
				Size:       src.Size(),
				Ext:        src.Ext(),
				Source:     abs,
				Metadata:   md,
				UploadedAt: time.Now(),
			})
			if err != nil {
				return fmt.Errorf("uploaded %s but failed to record it: %w", res.FileID(), err)
			}
		}

		fmt.Println(res.FileID())
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download FILE_ID OUT",
	Short: "Download a file; OUT may be - for stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		group, filename, err := types.SplitFileID(args[0])
		if err != nil {
			return err
		}
		offset, _ := cmd.Flags().GetInt64("offset")
		length, _ := cmd.Flags().GetInt64("length")

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		var w io.Writer = os.Stdout
		if args[1] != "-" {
			f, ferr := os.Create(args[1])
			if ferr != nil {
				return fmt.Errorf("failed to create %s: %w", args[1], ferr)
			}
			defer func() {
				if cerr := f.Close(); err == nil {
					err = cerr
				}
			}()
			w = f
		}

		n, err := c.DownloadTo(cmd.Context(), w, group, filename, offset, length)
		if err != nil {
			return err
		}
		if args[1] != "-" {
			fmt.Printf("%s -> %s (%s)\n", args[0], args[1], datasize.ByteSize(n).HumanReadable())
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete FILE_ID",
	Short: "Delete a file",
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

		if err := c.DeleteFile(cmd.Context(), group, filename); err != nil {
			return err
		}

		store, err := openCatalog()
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
			if err := store.Delete(args[0]); err != nil {
				return err
			}
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info FILE_ID",
	Short: "Show size, creation time, checksum and source of a file",
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

		fi, err := c.QueryFileInfo(cmd.Context(), group, filename)
		if err != nil {
			return err
		}
		fmt.Printf("file id:     %s\n", args[0])
		fmt.Printf("size:        %d (%s)\n", fi.Size, types.FormatSize(fi.Size, 0))
		fmt.Printf("created:     %s\n", formatTime(fi.CreateTime))
		fmt.Printf("crc32:       %08x\n", fi.CRC32)
		fmt.Printf("source ip:   %s\n", fi.SourceIP)
		return nil
	},
}

var metaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Read or change file metadata",
}

var metaGetCmd = &cobra.Command{
	Use:   "get FILE_ID",
	Short: "Print the metadata of a file",
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

		md, err := c.GetMeta(cmd.Context(), group, filename)
		if err != nil {
			return err
		}
		for _, it := range md {
			fmt.Printf("%s=%s\n", it.Name, it.Value)
		}
		return nil
	},
}

var metaSetCmd = &cobra.Command{
	Use:   "set FILE_ID NAME=VALUE...",
	Short: "Replace the metadata of a file, or merge with --merge",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		group, filename, err := types.SplitFileID(args[0])
		if err != nil {
			return err
		}
		md, err := parseMeta(args[1:])
		if err != nil {
			return err
		}
		mode := protocol.MetaOverwrite
		if merge, _ := cmd.Flags().GetBool("merge"); merge {
			mode = protocol.MetaMerge
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		return c.SetMeta(cmd.Context(), group, filename, md, mode)
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List files recorded in the local catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCatalog()
		if err != nil {
			return err
		}
		if store == nil {
			return fmt.Errorf("no catalog configured (set catalog.path)")
		}
		defer store.Close()

		var recs []*catalog.FileRecord
		if group, _ := cmd.Flags().GetString("group"); group != "" {
			recs, err = store.ListByGroup(group)
		} else {
			recs, err = store.List()
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FILE ID\tNAME\tSIZE\tUPLOADED")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.FileID, r.Name, types.FormatSize(uint64(r.Size), 0), formatTime(r.UploadedAt))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(metaCmd)
	rootCmd.AddCommand(lsCmd)
	metaCmd.AddCommand(metaGetCmd)
	metaCmd.AddCommand(metaSetCmd)

	uploadCmd.Flags().String("group", "", "Upload into this group instead of the one the tracker picks")
	uploadCmd.Flags().StringArray("meta", nil, "Metadata name=value (repeatable)")
	downloadCmd.Flags().Int64("offset", 0, "First byte to download")
	downloadCmd.Flags().Int64("length", 0, "Bytes to download, 0 for the rest of the file")
	metaSetCmd.Flags().Bool("merge", false, "Merge into existing metadata instead of replacing it")
	lsCmd.Flags().String("group", "", "Only list files of this group")
}
