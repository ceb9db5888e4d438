package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/gantryml/gantry/checkpoints"
)

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print metadata of a checkpoint envelope",
		ArgsUsage: "<path>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("inspect requires a checkpoint path")
			}
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open checkpoint file: %v", err)
			}
			defer file.Close()

			env, err := checkpoints.Inspect(file)
			if err != nil {
				return err
			}

			fmt.Printf("path:        %s\n", path)
			fmt.Printf("version:     %s\n", env.Version)
			fmt.Printf("kind:        %s\n", env.Kind)
			fmt.Printf("run_id:      %s\n", env.RunID)
			fmt.Printf("created_at:  %s\n", env.CreatedAt.Format(time.RFC3339))
			if env.Activation != "" {
				fmt.Printf("activation:  %s\n", env.Activation)
			}
			if env.Description != "" {
				fmt.Printf("description: %s\n", env.Description)
			}
			fmt.Printf("payload:     %d bytes\n", len(env.Payload))
			return nil
		},
	}
}
