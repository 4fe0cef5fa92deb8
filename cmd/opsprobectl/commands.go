package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "opsprobectl",
		Short: "Control client for the opsprobe investigation service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8085", "opsprobe server base URL")

	root.AddCommand(newInvestigateCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newCheckpointsCmd())
	root.AddCommand(newDeleteCmd())
	root.AddCommand(newSweepCmd())
	return root
}

func newInvestigateCmd() *cobra.Command {
	var workflowType string
	var sessionID string

	cmd := &cobra.Command{
		Use:   "investigate [query]",
		Short: "Run an investigation to completion and print the outcome",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if query == "" && sessionID == "" {
				return fmt.Errorf("a query or --session is required")
			}

			body, _ := json.Marshal(map[string]string{
				"session_id":    sessionID,
				"workflow_type": workflowType,
				"query":         query,
			})

			// Investigations run synchronously; allow for the server-side
			// session budget plus slack.
			client := &http.Client{Timeout: 10 * time.Minute}
			resp, err := client.Post(serverURL+"/api/v1/sessions", "application/json", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			return printResponse(cmd, resp)
		},
	}
	cmd.Flags().StringVarP(&workflowType, "type", "t", "QUERY", "workflow type: QUERY, INCIDENT, or ACTION")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "resume an existing session by ID")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the latest snapshot of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(serverURL + "/api/v1/sessions/" + args[0])
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			return printResponse(cmd, resp)
		},
	}
}

func newCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints <session-id>",
		Short: "List checkpoints recorded for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(serverURL + "/api/v1/sessions/" + args[0] + "/checkpoints")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			return printResponse(cmd, resp)
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodDelete, serverURL+"/api/v1/sessions/"+args[0], nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			return printResponse(cmd, resp)
		},
	}
}

func newSweepCmd() *cobra.Command {
	var ttlHours int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove checkpoints older than the retention TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := serverURL + "/api/v1/checkpoints/sweep"
			if ttlHours > 0 {
				url += fmt.Sprintf("?ttl_hours=%d", ttlHours)
			}
			resp, err := http.Post(url, "application/json", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			return printResponse(cmd, resp)
		},
	}
	cmd.Flags().IntVar(&ttlHours, "ttl-hours", 0, "override the server's retention TTL in hours")
	return cmd
}

// printResponse pretty-prints a JSON response body and surfaces HTTP errors
// as command errors.
func printResponse(cmd *cobra.Command, resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		cmd.Println(pretty.String())
	} else {
		cmd.Println(string(raw))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
