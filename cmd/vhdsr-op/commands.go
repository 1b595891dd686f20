package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swathicitrix/vhdsr/internal/volume"
)

func printDescriptor(d volume.Descriptor) {
	fmt.Printf("uuid=%s name=%q vsize=%d psize=%d uri=%s active_on=%v non_persistent=%v\n",
		d.UUID, d.Name, d.VSizeBytes, d.PSizeBytes, d.URI, d.ActiveOn, d.NonPersistent)
}

func init() {
	rootCmd.AddCommand(
		createCmd(),
		destroyCmd(),
		resizeCmd(),
		cloneCmd(),
		statCmd(),
		lsCmd(),
		setNameCmd(),
		setDescriptionCmd(),
		setCmd(),
		unsetCmd(),
		attachCmd(),
		activateCmd(),
		deactivateCmd(),
		detachCmd(),
		epochOpenCmd(),
		epochCloseCmd(),
	)
}

func createCmd() *cobra.Command {
	var name, description string
	var sizeBytes int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new VDI",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			d, err := eng.Create(cmd.Context(), name, description, sizeBytes)
			if err != nil {
				return err
			}
			printDescriptor(d)

			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "VDI name")
	cmd.Flags().StringVar(&description, "description", "", "VDI description")
	cmd.Flags().Int64Var(&sizeBytes, "size-bytes", 0, "requested virtual size in bytes")

	return cmd
}

func destroyCmd() *cobra.Command {
	var uuid string
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy a VDI",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			return eng.Destroy(cmd.Context(), uuid)
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "VDI uuid")
	_ = cmd.MarkFlagRequired("uuid")

	return cmd
}

func resizeCmd() *cobra.Command {
	var uuid string
	var sizeBytes int64
	cmd := &cobra.Command{
		Use:   "resize",
		Short: "Resize a VDI",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			return eng.Resize(cmd.Context(), uuid, sizeBytes)
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "VDI uuid")
	cmd.Flags().Int64Var(&sizeBytes, "size-bytes", 0, "new virtual size in bytes")
	_ = cmd.MarkFlagRequired("uuid")

	return cmd
}

func cloneCmd() *cobra.Command {
	var uuid string
	cmd := &cobra.Command{
		Use:   "clone",
		Short: "Clone a VDI",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			d, err := eng.Clone(cmd.Context(), uuid)
			if err != nil {
				return err
			}
			printDescriptor(d)

			return nil
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "VDI uuid to clone")
	_ = cmd.MarkFlagRequired("uuid")

	return cmd
}

func statCmd() *cobra.Command {
	var uuid string
	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Print a VDI's descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			d, err := eng.Stat(cmd.Context(), uuid)
			if err != nil {
				return err
			}
			printDescriptor(d)

			return nil
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "VDI uuid")
	_ = cmd.MarkFlagRequired("uuid")

	return cmd
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List every VDI in the SR",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			ds, err := eng.Ls(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range ds {
				printDescriptor(d)
			}

			return nil
		},
	}
}

func setNameCmd() *cobra.Command {
	var uuid, name string
	cmd := &cobra.Command{
		Use:   "set-name",
		Short: "Rename a VDI",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			return eng.SetName(cmd.Context(), uuid, name)
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "VDI uuid")
	cmd.Flags().StringVar(&name, "name", "", "new name")
	_ = cmd.MarkFlagRequired("uuid")

	return cmd
}

func setDescriptionCmd() *cobra.Command {
	var uuid, description string
	cmd := &cobra.Command{
		Use:   "set-description",
		Short: "Set a VDI's description",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			return eng.SetDescription(cmd.Context(), uuid, description)
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "VDI uuid")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	_ = cmd.MarkFlagRequired("uuid")

	return cmd
}

func setCmd() *cobra.Command {
	var uuid string
	cmd := &cobra.Command{
		Use:   "set-non-persistent",
		Short: "Mark a VDI non-persistent",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			return eng.Set(cmd.Context(), uuid)
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "VDI uuid")
	_ = cmd.MarkFlagRequired("uuid")

	return cmd
}

func unsetCmd() *cobra.Command {
	var uuid string
	cmd := &cobra.Command{
		Use:   "unset-non-persistent",
		Short: "Clear a VDI's non-persistent flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			return eng.Unset(cmd.Context(), uuid)
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "VDI uuid")
	_ = cmd.MarkFlagRequired("uuid")

	return cmd
}

func attachCmd() *cobra.Command {
	var uuid, domain string
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach a VDI's tap to a domain, without opening it",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			tapID, err := eng.Attach(cmd.Context(), uuid, domain)
			if err != nil {
				return err
			}
			fmt.Println(tapID)

			return nil
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "VDI uuid")
	cmd.Flags().StringVar(&domain, "domain", "", "guest domain identifier")
	_ = cmd.MarkFlagRequired("uuid")

	return cmd
}

func activateCmd() *cobra.Command {
	var uuid, domain string
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Open a VDI's tap and mark it active on this host",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			return eng.Activate(cmd.Context(), uuid, domain)
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "VDI uuid")
	cmd.Flags().StringVar(&domain, "domain", "", "guest domain identifier")
	_ = cmd.MarkFlagRequired("uuid")

	return cmd
}

func deactivateCmd() *cobra.Command {
	var uuid string
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Close a VDI's tap and clear active_on",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			return eng.Deactivate(cmd.Context(), uuid)
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "VDI uuid")
	_ = cmd.MarkFlagRequired("uuid")

	return cmd
}

func detachCmd() *cobra.Command {
	var uuid string
	cmd := &cobra.Command{
		Use:   "detach",
		Short: "Destroy a VDI's tap and forget its metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			return eng.Detach(cmd.Context(), uuid)
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "VDI uuid")
	_ = cmd.MarkFlagRequired("uuid")

	return cmd
}

func epochOpenCmd() *cobra.Command {
	var uri string
	var persistent bool
	cmd := &cobra.Command{
		Use:   "epoch-open",
		Short: "Open a VDI for a new guest boot epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			return eng.EpochOpen(cmd.Context(), uri, persistent)
		},
	}
	cmd.Flags().StringVar(&uri, "uri", "", "datapath URI")
	cmd.Flags().BoolVar(&persistent, "persistent", true, "whether the guest's writes persist past this epoch")
	_ = cmd.MarkFlagRequired("uri")

	return cmd
}

func epochCloseCmd() *cobra.Command {
	var uri string
	cmd := &cobra.Command{
		Use:   "epoch-close",
		Short: "Close a VDI's current guest boot epoch",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, closeAll, err := newEngine()
			if err != nil {
				return err
			}
			defer closeAll()

			return eng.EpochClose(cmd.Context(), uri)
		},
	}
	cmd.Flags().StringVar(&uri, "uri", "", "datapath URI")
	_ = cmd.MarkFlagRequired("uri")

	return cmd
}
