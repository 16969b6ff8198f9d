package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/weblink-backend/internal/app"
	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	"github.com/yungbote/weblink-backend/internal/platform/redisx"
	"github.com/yungbote/weblink-backend/internal/services/contentflow"
)

func newSubmitCmd() *cobra.Command {
	var userID, origin string
	cmd := &cobra.Command{
		Use:   "submit <url>...",
		Short: "Queue links for ingestion, on behalf of a user when --user is set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop, log, cfg, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer stop()

			a, err := app.New(ctx, log, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			now := time.Now().UnixMilli()
			if userID == "" {
				for _, u := range args {
					if err := a.Weblinks.EnqueueProcessTask(ctx, types.IngestionJob{URL: u, Origin: origin}); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %d link(s) for ingestion\n", len(args))
				return nil
			}

			links := make([]types.IngestionJob, 0, len(args))
			for _, u := range args {
				links = append(links, types.IngestionJob{URL: u, Origin: origin, LastVisitTime: now, VisitCount: 1})
			}
			queued, err := a.Weblinks.StoreLinks(ctx, userID, links)
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d of %d link(s) for user %s\n", queued, len(args), userID)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to record the visits for")
	cmd.Flags().StringVar(&origin, "origin", "cli", "origin tag stored with each visit")
	return cmd
}

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print content flow events from Redis as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop, log, cfg, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer stop()
			defer log.Sync()

			if cfg.Redis.Addr == "" {
				return fmt.Errorf("REDIS_ADDR is required to follow content flow events")
			}
			rdb, err := redisx.New(ctx, log, cfg.Redis)
			if err != nil {
				return err
			}
			defer rdb.Close()

			sub, err := contentflow.NewRedisPublisher(log, rdb, cfg.ContentFlowChannel)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			if err := sub.Subscribe(ctx, func(ev contentflow.Event) {
				if err := enc.Encode(ev); err != nil {
					log.Warn("Write event failed", "error", err)
				}
			}); err != nil {
				return err
			}
			log.Info("Following content flow", "channel", cfg.ContentFlowChannel)
			<-ctx.Done()
			return nil
		},
	}
}
