package main

import (
	"fmt"
	"slices"
	"sort"

	"github.com/cuemby/squares/pkg/reactions"
	"github.com/cuemby/squares/pkg/storage"
	"github.com/cuemby/squares/pkg/types"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print stored tallies without connecting to Discord",
	Long: `Read the data directory and print aggregate sizes and the leaderboard.
Users are shown by id since no identity lookups are made. The service must
not be running: the database allows a single process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(false); err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		db, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := db.LoadReactions()
		if err != nil {
			return fmt.Errorf("failed to load reactions: %w", err)
		}
		cached, err := db.LoadMessages()
		if err != nil {
			return fmt.Errorf("failed to load message cache: %w", err)
		}
		entries, err := db.LoadSquareboard()
		if err != nil {
			return fmt.Errorf("failed to load squareboard: %w", err)
		}

		store := reactions.Load(records)
		fmt.Printf("Reactions:   %d 🟩  %d 🟨  %d 🟥\n",
			store.Len(types.ColorGreen), store.Len(types.ColorYellow), store.Len(types.ColorRed))
		fmt.Printf("Messages:    %d cached\n", len(cached))
		fmt.Printf("Squareboard: %d mirrored\n", len(entries))
		fmt.Println()

		type row struct {
			id    string
			tally types.Tally
			score int
		}
		var rows []row
		for _, id := range store.UserIDs() {
			if slices.Contains(cfg.HiddenUsers, id) {
				continue
			}
			rows = append(rows, row{id: id, tally: store.TallyOnUser(id, ""), score: store.WeightedScore(id)})
		}
		if len(rows) == 0 {
			fmt.Println("No squares recorded yet")
			return nil
		}
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].score != rows[j].score {
				return rows[i].score > rows[j].score
			}
			return rows[i].id < rows[j].id
		})
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}

		fmt.Printf("%-22s %-6s %-6s %-6s %-6s\n", "USER", "SCORE", "GREEN", "YELLOW", "RED")
		for _, r := range rows {
			fmt.Printf("%-22s %-6d %-6d %-6d %-6d\n", r.id, r.score,
				r.tally.Get(types.ColorGreen), r.tally.Get(types.ColorYellow), r.tally.Get(types.ColorRed))
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().Int("limit", 20, "Maximum number of users to print (0 for all)")
}
