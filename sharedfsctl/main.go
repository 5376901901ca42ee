package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/flaviostutz/sharedfs/client"
	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type opt struct {
	URL      string
	Project  string
	LogLevel string
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd(o *opt, out io.Writer) *cobra.Command {
	var c *client.Client

	rootCmd := &cobra.Command{
		Use:   "sharedfsctl",
		Short: "Manage shared filesystems and their instance attachments",
		Long: `sharedfsctl talks to a sharedfs daemon.

Filesystems have a scope: 'instance' filesystems are attached explicitly,
'project' filesystems follow every instance of the owning project and
'global' filesystems follow every instance.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logrus.ParseLevel(o.LogLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)
			c = client.New(o.URL, o.Project)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&o.URL, "url", envOr("SHAREDFS_URL", "http://localhost:8776"), "sharedfs daemon address")
	rootCmd.PersistentFlags().StringVar(&o.Project, "project", envOr("OS_PROJECT_ID", ""), "project to act as")
	rootCmd.PersistentFlags().StringVar(&o.LogLevel, "loglevel", "warning", "debug, info, warning or error")

	var long bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List filesystems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			if long {
				fmt.Fprintln(w, "NAME\tSIZE\tSCOPE\tPROJECT")
			} else {
				fmt.Fprintln(w, "NAME")
			}
			for _, e := range entries {
				if long {
					project := e.Project
					if e.ProjectName != "" {
						project = e.ProjectName
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, e.Size, e.Scope, project)
				} else {
					fmt.Fprintln(w, e.Name)
				}
			}
			return w.Flush()
		},
	}
	listCmd.Flags().BoolVar(&long, "long", false, "additional fields are listed in output")

	createCmd := &cobra.Command{
		Use:   "create <filesystem-name> <filesystem-size> <filesystem-scope>",
		Short: "Create a filesystem, size in GB, scope project, global or instance",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid size %q", args[1])
			}
			scope, err := filesystem.ParseScope(args[2])
			if err != nil {
				return err
			}
			resp, err := c.Create(cmd.Context(), args[0], size, scope)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tSCOPE\tPROJECT")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", resp.Entry.Name, resp.Entry.Size, resp.Entry.Scope, resp.Entry.Project)
			if err := w.Flush(); err != nil {
				return err
			}
			for _, f := range resp.Failures {
				fmt.Fprintf(out, "warning: could not attach instance %s (%s): %s\n", f.Instance, f.Address, f.Error)
			}
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <filesystem-name>",
		Short: "Delete a filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Delete(cmd.Context(), args[0])
		},
	}

	attachmentsCmd := &cobra.Command{
		Use:   "attachments <filesystem-name>",
		Short: "List the instances attached to a filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := c.Attachments(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "ID")
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			return nil
		},
	}

	attachCmd := &cobra.Command{
		Use:   "attach <filesystem-name> <instance-id>",
		Short: "Attach an instance to a filesystem",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.Attach(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(out, args[1])
			return nil
		},
	}

	detachCmd := &cobra.Command{
		Use:   "detach <filesystem-name> <instance-id>",
		Short: "Detach an instance from a filesystem",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Detach(cmd.Context(), args[0], args[1])
		},
	}

	rootCmd.AddCommand(listCmd, createCmd, deleteCmd, attachmentsCmd, attachCmd, detachCmd)
	return rootCmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(&opt{}, os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
