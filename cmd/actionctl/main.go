// Command actionctl drives the action lifecycle API from a terminal.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const version = "1.0.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}

type cli struct {
	gateway string
	userID  string
	token   string
	client  *http.Client
	out     io.Writer
	errOut  io.Writer
}

func run(args []string, out, errOut io.Writer, getenv func(string) string) int {
	if len(args) < 1 {
		printUsage(errOut)
		return 1
	}

	c := &cli{
		gateway: strings.TrimRight(getenv("VENUESYNC_API_URL"), "/"),
		userID:  getenv("VENUESYNC_USER_ID"),
		token:   getenv("VENUESYNC_API_TOKEN"),
		client:  &http.Client{Timeout: 30 * time.Second},
		out:     out,
		errOut:  errOut,
	}
	if c.gateway == "" {
		c.gateway = "http://localhost:8080"
	}

	var err error
	switch args[0] {
	case "create":
		err = c.cmdCreate(args[1:])
	case "confirm":
		err = c.cmdDecide("confirm", args[1:])
	case "reject":
		err = c.cmdDecide("reject", args[1:])
	case "execute":
		err = c.cmdExecute(args[1:])
	case "rollback":
		err = c.cmdRollback(args[1:])
	case "pending":
		err = c.cmdPending(args[1:])
	case "health":
		err = c.cmdHealth()
	case "version":
		fmt.Fprintf(out, "actionctl v%s\n", version)
	case "help", "--help", "-h":
		printUsage(out)
	default:
		fmt.Fprintf(errOut, "Unknown command: %s\n", args[0])
		printUsage(errOut)
		return 1
	}
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `VenueSync action CLI v`+version+`

Usage: actionctl <command> [flags]

Commands:
  create    Propose an action
  confirm   Approve a confirmation request
  reject    Reject a confirmation request
  execute   Execute a confirmed action
  rollback  Roll back an executed action
  pending   List a venue's pending confirmations
  health    Show service health
  version   Print version

Environment:
  VENUESYNC_API_URL    API URL (default: http://localhost:8080)
  VENUESYNC_USER_ID    Acting user, sent as X-User-ID
  VENUESYNC_API_TOKEN  Bearer token

Examples:
  actionctl create --venue v1 --service pos --type update_item_price \
      --params '{"itemGuid":"i1","currentPrice":10,"newPrice":12}'
  actionctl confirm --id <confirmation-id> --notes "ok for tonight"
  actionctl execute --action <action-id>
  actionctl pending --venue v1`)
}

// ----------------------------------------------------------------
// commands
// ----------------------------------------------------------------

func (c *cli) cmdCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	venue := fs.String("venue", "", "venue id")
	service := fs.String("service", "", "pos, eventbrite or opendate")
	actionType := fs.String("type", "", "action type, e.g. update_item_price")
	params := fs.String("params", "{}", "action parameters as JSON")
	priority := fs.String("priority", "medium", "low, medium or high")
	reason := fs.String("reason", "", "why the action is proposed")
	skip := fs.Bool("skip-confirmation", false, "auto-confirm when no approval is needed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *venue == "" || *service == "" || *actionType == "" {
		return fmt.Errorf("--venue, --service and --type are required")
	}

	var parameters map[string]any
	if err := json.Unmarshal([]byte(*params), &parameters); err != nil {
		return fmt.Errorf("--params is not a JSON object: %w", err)
	}

	createdBy := "user"
	if c.userID == "" {
		createdBy = "system"
	}
	var res struct {
		Action struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"action"`
		Confirmation struct {
			ID               string `json:"id"`
			RequiresApproval bool   `json:"requiresApproval"`
			Impact           struct {
				RiskLevel string `json:"riskLevel"`
			} `json:"estimatedImpact"`
		} `json:"confirmation"`
		AutoConfirmed bool `json:"autoConfirmed"`
	}
	err := c.post("/api/actions/create", map[string]any{
		"action": map[string]any{
			"venueId":    *venue,
			"service":    *service,
			"actionType": *actionType,
			"parameters": parameters,
			"priority":   *priority,
			"reason":     *reason,
			"createdBy":  createdBy,
		},
		"skipConfirmation": *skip,
	}, &res)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "action=%s status=%s\n", res.Action.ID, res.Action.Status)
	fmt.Fprintf(c.out, "confirmation=%s risk=%s approval=%t auto_confirmed=%t\n",
		res.Confirmation.ID, res.Confirmation.Impact.RiskLevel, res.Confirmation.RequiresApproval, res.AutoConfirmed)
	return nil
}

func (c *cli) cmdDecide(decision string, args []string) error {
	fs := flag.NewFlagSet(decision, flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	id := fs.String("id", "", "confirmation id")
	notes := fs.String("notes", "", "approval notes")
	reason := fs.String("reason", "", "rejection reason")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}
	if c.userID == "" {
		return fmt.Errorf("VENUESYNC_USER_ID must be set to %s", decision)
	}

	var res struct {
		Message string `json:"message"`
	}
	err := c.post("/api/actions/confirm", map[string]any{
		"confirmationId": *id,
		"action":         decision,
		"userId":         c.userID,
		"notes":          *notes,
		"reason":         *reason,
	}, &res)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, res.Message)
	return nil
}

func (c *cli) cmdExecute(args []string) error {
	fs := flag.NewFlagSet("execute", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	actionID := fs.String("action", "", "action id")
	confirmationID := fs.String("confirmation", "", "confirmation id to check")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var res struct {
		Result struct {
			ActionID          string `json:"actionId"`
			ExecutedAt        string `json:"executedAt"`
			Duration          int64  `json:"duration"`
			RollbackAvailable bool   `json:"rollbackAvailable"`
		} `json:"result"`
	}
	err := c.post("/api/actions/execute", map[string]any{
		"actionId":       *actionID,
		"confirmationId": *confirmationID,
	}, &res)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "executed action=%s at=%s duration_ms=%d rollback_available=%t\n",
		res.Result.ActionID, res.Result.ExecutedAt, res.Result.Duration, res.Result.RollbackAvailable)
	return nil
}

func (c *cli) cmdRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	actionID := fs.String("action", "", "action id")
	reason := fs.String("reason", "", "why the action is reversed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var res struct {
		Message string `json:"message"`
	}
	err := c.post("/api/actions/rollback", map[string]any{
		"actionId": *actionID,
		"reason":   *reason,
		"userId":   c.userID,
	}, &res)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, res.Message)
	return nil
}

func (c *cli) cmdPending(args []string) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	fs.SetOutput(c.errOut)
	venue := fs.String("venue", "", "venue id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var res struct {
		Pending []struct {
			ID     string `json:"id"`
			Action struct {
				Service    string `json:"service"`
				ActionType string `json:"actionType"`
			} `json:"action"`
			Impact struct {
				RiskLevel string `json:"riskLevel"`
			} `json:"estimatedImpact"`
			ExpiresAt string `json:"expiresAt"`
		} `json:"pending"`
		Summary struct {
			PendingCount     int `json:"pendingCount"`
			RequiresApproval int `json:"requiresApproval"`
			ExpiringSoon     int `json:"expiringSoon"`
		} `json:"summary"`
	}
	if err := c.get("/api/actions/pending?venueId="+url.QueryEscape(*venue), &res); err != nil {
		return err
	}

	if len(res.Pending) == 0 {
		fmt.Fprintln(c.out, "No pending confirmations.")
		return nil
	}
	fmt.Fprintf(c.out, "%-38s %-11s %-26s %-6s %s\n", "CONFIRMATION", "SERVICE", "ACTION", "RISK", "EXPIRES")
	fmt.Fprintln(c.out, strings.Repeat("-", 100))
	for _, p := range res.Pending {
		fmt.Fprintf(c.out, "%-38s %-11s %-26s %-6s %s\n",
			p.ID, p.Action.Service, p.Action.ActionType, p.Impact.RiskLevel, p.ExpiresAt)
	}
	fmt.Fprintf(c.out, "\n%d pending, %d need approval, %d expiring soon\n",
		res.Summary.PendingCount, res.Summary.RequiresApproval, res.Summary.ExpiringSoon)
	return nil
}

func (c *cli) cmdHealth() error {
	var res map[string]any
	if err := c.get("/health", &res); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "status=%v store=%v version=%v\n", res["status"], res["store"], res["version"])
	return nil
}

// ----------------------------------------------------------------
// helpers
// ----------------------------------------------------------------

func (c *cli) post(path string, body any, dst any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(http.MethodPost, path, raw, dst)
}

func (c *cli) get(path string, dst any) error {
	return c.do(http.MethodGet, path, nil, dst)
}

// do sends the request and decodes a successful body into dst. Failed calls
// return the API's error message.
func (c *cli) do(method, path string, body []byte, dst any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, c.gateway+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.Unmarshal(raw, dst)
}
