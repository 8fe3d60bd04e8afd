package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quoroomlabs/quoroom/internal/engine"
	"github.com/quoroomlabs/quoroom/internal/store"
)

func roomsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "Manage rooms in the local data directory",
	}
	cmd.AddCommand(roomsListCmd())
	cmd.AddCommand(roomsCreateCmd())
	cmd.AddCommand(roomsControlCmd("pause", "Pause a room", func(ctx context.Context, e *engine.Engine, id int64) error {
		return e.PauseRoom(ctx, id)
	}))
	cmd.AddCommand(roomsControlCmd("resume", "Resume a paused room", func(ctx context.Context, e *engine.Engine, id int64) error {
		return e.ResumeRoom(ctx, id)
	}))
	cmd.AddCommand(roomsControlCmd("stop", "Stop a room", func(ctx context.Context, e *engine.Engine, id int64) error {
		return e.StopRoom(ctx, id)
	}))
	cmd.AddCommand(roomsControlCmd("delete", "Delete a room and everything it owns", func(ctx context.Context, e *engine.Engine, id int64) error {
		return e.DeleteRoom(ctx, id)
	}))
	return cmd
}

func roomsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rooms",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer st.Close()

			rooms, err := st.ListRooms(cmd.Context(), "")
			if err != nil {
				return err
			}
			if len(rooms) == 0 {
				fmt.Println("No rooms. Create one with: quoroom rooms create --name ... --objective ...")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tWORKERS\tCREATED\tOBJECTIVE")
			for _, room := range rooms {
				workers, err := st.ListWorkers(cmd.Context(), room.ID)
				if err != nil {
					return err
				}
				created := time.UnixMilli(room.CreatedAt).Format("2006-01-02")
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
					room.ID, room.Name, room.Status, len(workers), created, truncate(room.Objective, 60))
			}
			return w.Flush()
		},
	}
}

func roomsCreateCmd() *cobra.Command {
	var name, objective, model, chain string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a room with its Queen, root goal, and wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				room, err := e.CreateRoom(ctx, engine.CreateRoomRequest{
					Name:      name,
					Objective: objective,
					Model:     model,
					Chain:     chain,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Room %d (%s) created.\n", room.ID, room.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "room name (required)")
	cmd.Flags().StringVar(&objective, "objective", "", "room objective (required)")
	cmd.Flags().StringVar(&model, "model", "", "model for the Queen (default: executor model)")
	cmd.Flags().StringVar(&chain, "chain", "", "wallet chain (default: base)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("objective")
	return cmd
}

func roomsControlCmd(verb, short string, fn func(context.Context, *engine.Engine, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <room-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid room id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := fn(ctx, e, id); err != nil {
					return err
				}
				fmt.Printf("Room %d: %s applied.\n", id, verb)
				return nil
			})
		},
	}
}

// withEngine builds the engine without starting its loops, runs fn, and
// tears down. A concurrently running daemon sees the change through the
// shared database on its next read.
func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e, err := engine.New(ctx, cfg, Version)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
