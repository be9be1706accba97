package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tonview/rewards/internal/app/accrual"
	"github.com/tonview/rewards/internal/infra/sqlite"
)

// ─── Ledger Admin Commands ──────────────────────────────────────────────────
// Offline admin surface: these open the store directly rather than going
// through the API, so they work while the daemon is stopped.

func init() {
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(adjustCmd)
	rootCmd.AddCommand(videoCmd)
	rootCmd.AddCommand(userCmd)

	historyCmd.Flags().Int("limit", 20, "Entries per page")
	adjustCmd.Flags().String("note", "manual", "Short note recorded in the idempotency key")
	videoAddCmd.Flags().Int64("points", 10, "Points granted per watch")
	videoAddCmd.Flags().Int("min-watch", 30, "Minimum watch seconds")
	videoCmd.AddCommand(videoAddCmd)
	userCmd.AddCommand(userDisableCmd)
}

func openStore() (*sqlite.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(cfg.Store.Path)
}

func parseUserID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", arg)
	}
	return id, nil
}

// ─── balance ────────────────────────────────────────────────────────────────

var balanceCmd = &cobra.Command{
	Use:   "balance USER_ID",
	Short: "Show a user's current points balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		balance, err := db.GetBalance(context.Background(), userID)
		if err != nil {
			return err
		}
		fmt.Printf("%d\n", balance)
		return nil
	},
}

// ─── history ────────────────────────────────────────────────────────────────

var historyCmd = &cobra.Command{
	Use:   "history USER_ID",
	Short: "Show a user's ledger history, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		page, err := db.ListHistory(context.Background(), userID, limit, 0)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tAMOUNT\tREASON\tBALANCE\tTIME")
		for _, e := range page.Entries {
			fmt.Fprintf(w, "%d\t%+d\t%s\t%d\t%s\n",
				e.ID, e.Amount, e.Reason, e.BalanceAfter,
				e.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

// ─── adjust ─────────────────────────────────────────────────────────────────

var adjustCmd = &cobra.Command{
	Use:   "adjust USER_ID AMOUNT",
	Short: "Apply a manual correction entry (AMOUNT may be negative)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q", args[1])
		}
		note, _ := cmd.Flags().GetString("note")
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		eng := accrual.New(accrual.DefaultConfig(), db, nil, nil)
		entry, err := eng.AdminAdjust(context.Background(), userID, amount, note)
		if err != nil {
			return err
		}
		fmt.Printf("applied entry %d, balance now %d\n", entry.ID, entry.BalanceAfter)
		return nil
	},
}

// ─── video ──────────────────────────────────────────────────────────────────

var videoCmd = &cobra.Command{
	Use:   "video",
	Short: "Manage the reward video catalog",
}

var videoAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Add a video to the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		points, _ := cmd.Flags().GetInt64("points")
		minWatch, _ := cmd.Flags().GetInt("min-watch")
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		id, err := db.InsertVideo(context.Background(), args[0], points, minWatch)
		if err != nil {
			return err
		}
		fmt.Printf("video %d added\n", id)
		return nil
	},
}

// ─── user ───────────────────────────────────────────────────────────────────

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userDisableCmd = &cobra.Command{
	Use:   "disable USER_ID",
	Short: "Soft-disable a user, preserving their ledger history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DisableUser(context.Background(), userID); err != nil {
			return err
		}
		fmt.Printf("user %d disabled\n", userID)
		return nil
	},
}
