package cmd

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"redgraph/engine/internal/store"
)

var (
	seedSubreddits int
	seedUsers      int
	seedPosts      int
	seedComments   int
	seedRandSeed   int64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert synthetic source data for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, log, err := setup()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		rng := rand.New(rand.NewSource(seedRandSeed))
		now := time.Now().UnixMilli()

		for i := 1; i <= seedSubreddits; i++ {
			sr := &store.Subreddit{
				ID:          int64(i),
				Name:        fmt.Sprintf("sub%d", i),
				Title:       fmt.Sprintf("Subreddit %d", i),
				Subscribers: rng.Int63n(100000),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := st.UpsertSubreddit(ctx, sr); err != nil {
				return err
			}
		}
		for i := 1; i <= seedUsers; i++ {
			u := &store.User{
				ID:        int64(i),
				Name:      fmt.Sprintf("user%d", i),
				Karma:     rng.Int63n(50000),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := st.UpsertUser(ctx, u); err != nil {
				return err
			}
		}
		for i := 1; i <= seedPosts; i++ {
			p := &store.Post{
				ID:          int64(i),
				SubredditID: int64(rng.Intn(seedSubreddits) + 1),
				UserID:      int64(rng.Intn(seedUsers) + 1),
				Title:       fmt.Sprintf("Post %d", i),
				Score:       rng.Int63n(5000),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := st.UpsertPost(ctx, p); err != nil {
				return err
			}
		}
		for i := 1; i <= seedComments; i++ {
			c := &store.Comment{
				ID:        int64(i),
				PostID:    int64(rng.Intn(seedPosts) + 1),
				UserID:    int64(rng.Intn(seedUsers) + 1),
				Score:     rng.Int63n(500),
				CreatedAt: now,
				UpdatedAt: now,
			}
			// Roughly a quarter of comments reply to an earlier comment on
			// some post rather than the post itself.
			if i > 1 && rng.Intn(4) == 0 {
				parent := int64(rng.Intn(i-1) + 1)
				c.ParentCommentID = &parent
			}
			if err := st.UpsertComment(ctx, c); err != nil {
				return err
			}
		}

		log.Infow("seeded source data",
			"subreddits", seedSubreddits, "users", seedUsers,
			"posts", seedPosts, "comments", seedComments)
		fmt.Printf("seeded %d subreddits, %d users, %d posts, %d comments\n",
			seedSubreddits, seedUsers, seedPosts, seedComments)
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedSubreddits, "subreddits", 3, "Subreddits to create")
	seedCmd.Flags().IntVar(&seedUsers, "users", 5, "Users to create")
	seedCmd.Flags().IntVar(&seedPosts, "posts", 20, "Posts to create")
	seedCmd.Flags().IntVar(&seedComments, "comments", 50, "Comments to create")
	seedCmd.Flags().Int64Var(&seedRandSeed, "seed", 42, "RNG seed")
	rootCmd.AddCommand(seedCmd)
}
