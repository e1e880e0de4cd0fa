package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/syui/aigpt/internal/errs"
	"github.com/syui/aigpt/internal/relationship"
)

var statusCmd = &cobra.Command{
	Use:   "status [user_id]",
	Short: "Show mood, today's fortune and optionally one relationship",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var userID string
		if len(args) == 1 {
			userID = args[0]
		}
		return withBackend(cmd, func(ctx context.Context, b backend) error {
			st, err := b.Status(ctx, userID)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		})
	},
}

var fortuneCmd = &cobra.Command{
	Use:   "fortune",
	Short: "Show today's fortune",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b backend) error {
			f, err := b.Fortune(ctx)
			if err != nil {
				return err
			}
			printFortune(cmd.OutOrStdout(), f)
			return nil
		})
	},
}

var interactCmd = &cobra.Command{
	Use:   "interact <user_id> <sentiment>",
	Short: "Record one interaction with a sentiment in [-1, 1]",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return errs.Errorf(errs.InvalidInput, "interact", "sentiment %q is not a number", args[1])
		}
		return withBackend(cmd, func(ctx context.Context, b backend) error {
			res, err := b.Interact(ctx, args[0], s)
			if err != nil {
				return err
			}
			printIngest(cmd.OutOrStdout(), res)
			return nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <user_id> <message>",
	Short: "Send a message and get a reply",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b backend) error {
			res, err := b.Chat(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, res.Reply)
			fmt.Fprintln(w)
			printIngest(w, relationship.IngestResult{Delta: res.Delta, Capped: res.Capped, Relationship: res.Relationship})
			return nil
		})
	},
}

var relationshipsCmd = &cobra.Command{
	Use:     "relationships [user_id]",
	Aliases: []string{"rel"},
	Short:   "List relationships, or show one",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b backend) error {
			if len(args) == 1 {
				r, err := b.Relationship(ctx, args[0])
				if err != nil {
					return err
				}
				printRelationship(cmd.OutOrStdout(), r)
				return nil
			}
			rels, st, err := b.Relationships(ctx)
			if err != nil {
				return err
			}
			printRelationships(cmd.OutOrStdout(), rels, st)
			return nil
		})
	},
}

func transmissionToggle(enabled bool) *cobra.Command {
	use, short := "disable <user_id>", "Stop autonomous transmissions to a user"
	if enabled {
		use, short = "enable <user_id>", "Allow autonomous transmissions to a user"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b backend) error {
				r, err := b.SetTransmission(ctx, args[0], enabled)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: transmission %s\n", r.UserID, onOff(r.TransmissionEnabled))
				if enabled && !r.TransmissionEnabled {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s is broken; transmission stays off\n", r.UserID)
				}
				return nil
			})
		},
	}
}

var tickAll bool

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run the scheduler's due tasks now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(ctx context.Context, b backend) error {
			rep, err := b.Tick(ctx, tickAll)
			if err != nil {
				return err
			}
			printTick(cmd.OutOrStdout(), rep)
			return nil
		})
	},
}

var memoriesLimit int

var memoriesCmd = &cobra.Command{
	Use:   "memories <user_id>",
	Short: "Show the newest remembered conversation turns with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if memoriesLimit <= 0 {
			return errs.Errorf(errs.InvalidInput, "memories", "--limit must be positive")
		}
		return withBackend(cmd, func(ctx context.Context, b backend) error {
			mems, err := b.Memories(ctx, args[0], memoriesLimit)
			if err != nil {
				return err
			}
			printMemories(cmd.OutOrStdout(), args[0], mems)
			return nil
		})
	},
}

var transmissionsLimit int

var transmissionsCmd = &cobra.Command{
	Use:   "transmissions",
	Short: "Show the newest transmissions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if transmissionsLimit <= 0 {
			return errs.Errorf(errs.InvalidInput, "transmissions", "--limit must be positive")
		}
		return withBackend(cmd, func(ctx context.Context, b backend) error {
			logs, st, err := b.Transmissions(ctx, transmissionsLimit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printTransmissions(w, logs)
			fmt.Fprintf(w, "\n%d total, %d today, %.0f%% successful\n", st.Total, st.Today, st.SuccessRate*100)
			return nil
		})
	},
}

func init() {
	// Stop flag parsing at the user id so a negative sentiment is not read
	// as a flag.
	interactCmd.Flags().SetInterspersed(false)
	relationshipsCmd.AddCommand(transmissionToggle(true), transmissionToggle(false))
	tickCmd.Flags().BoolVar(&tickAll, "all", false, "Run decay and every transmission check regardless of the task table")
	transmissionsCmd.Flags().IntVarP(&transmissionsLimit, "limit", "n", 20, "Maximum number of transmissions")
	memoriesCmd.Flags().IntVarP(&memoriesLimit, "limit", "n", 10, "Maximum number of memories")
}
