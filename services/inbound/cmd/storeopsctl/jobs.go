package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"storeops/pkg/queue"
)

func openQueue() (*queue.RedisJobQueue, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueName,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and recover inbound jobs",
	}
	cmd.AddCommand(jobsFailedCmd(), jobsShowCmd(), jobsRequeueCmd())
	return cmd
}

func jobsFailedCmd() *cobra.Command {
	var count int64
	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List jobs that exhausted their retries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			failed, err := q.ListFailed(cmd.Context(), count)
			if err != nil {
				return fmt.Errorf("list failed jobs: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), failed)
		},
	}
	cmd.Flags().Int64VarP(&count, "count", "n", 50, "maximum entries to list")
	return cmd
}

func jobsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <message-id>",
		Short: "Show the status of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			job, found, err := q.GetJob(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			if !found {
				return fmt.Errorf("job %s not found", args[0])
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}

func jobsRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <message-id>",
		Short: "Move a failed job back onto the work stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			job, err := q.Requeue(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("requeue: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
}
