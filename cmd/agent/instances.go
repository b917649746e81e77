package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ampwatch/agent/internal/amp"
	"github.com/ampwatch/agent/internal/config"
)

// instancesCmd enumerates the panel's instances so an operator can pick which
// ids to put in selected_instances.
var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List AMP instances available for monitoring",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		client := amp.NewClient(amp.Options{
			BaseURL:    cfg.AMPBaseURL,
			APIKey:     cfg.APIKey,
			VerifySSL:  cfg.VerifySSL,
			Timeout:    cfg.PollTimeout(),
			MaxRetries: cfg.MaxRetries,
		}, zap.NewNop())

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		instances, err := client.Instances(ctx)
		if err != nil {
			return fmt.Errorf("listing instances: %w", err)
		}

		selected := make(map[string]bool, len(cfg.SelectedInstances))
		for _, id := range cfg.SelectedInstances {
			selected[string(id)] = true
		}

		for _, inst := range instances {
			marker := " "
			if selected[string(inst.ID)] {
				marker = "*"
			}
			fmt.Printf("%s %-40s %s\n", marker, inst.ID, inst.Name)
		}
		if len(instances) == 0 {
			fmt.Println("no instances reported by the panel")
		}
		return nil
	},
}
