// charterctl — command-line client for a running charterd server.
//
// Usage:
//
//	charterctl start  --owner <email> --project-name <name>
//	charterctl resume --session-id <id>
//	charterctl status --session-id <id>
//	charterctl export --session-id <id> --format {json|markdown}
//
// Exit codes: 0 success; 2 stage gate blocked; 3 consistency blocked;
// 4 not found; 5 provider exhausted.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/charterworks/charterd/pkg/api"
	"github.com/charterworks/charterd/pkg/models"
)

const (
	exitOK                 = 0
	exitGateBlocked        = 2
	exitConsistencyBlocked = 3
	exitNotFound           = 4
	exitProviderExhausted  = 5
	exitUsage              = 64
)

type client struct {
	baseURL string
	http    *http.Client
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	c := &client{
		baseURL: strings.TrimRight(getEnv("CHARTERD_URL", "http://localhost:8080"), "/"),
		http:    &http.Client{Timeout: 10 * time.Minute},
	}

	var code int
	switch os.Args[1] {
	case "start":
		code = c.cmdStart(os.Args[2:])
	case "resume":
		code = c.cmdResume(os.Args[2:])
	case "status":
		code = c.cmdStatus(os.Args[2:])
	case "export":
		code = c.cmdExport(os.Args[2:])
	default:
		usage()
		code = exitUsage
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: charterctl {start|resume|status|export} [flags]")
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// cmdStart creates a session and drives the full interview interactively.
func (c *client) cmdStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	owner := fs.String("owner", "", "session owner")
	project := fs.String("project-name", "", "project name")
	_ = fs.Parse(args)
	if *owner == "" || *project == "" {
		fmt.Fprintln(os.Stderr, "start requires --owner and --project-name")
		return exitUsage
	}

	var created api.CreateSessionResponse
	status, apiErr, err := c.postJSON("/api/v1/sessions",
		api.CreateSessionRequest{Owner: *owner, ProjectName: *project}, &created)
	if err != nil || status != http.StatusCreated {
		return c.reportFailure("create session", status, apiErr, err)
	}

	fmt.Printf("session %s created for %q\n", created.SessionID, *project)
	return c.driveInterview(created.SessionID, created.CurrentStage)
}

// cmdResume restores a session and continues the interview at its current
// stage; that stage's questions are asked again from the first one.
func (c *client) cmdResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	sessionID := fs.String("session-id", "", "session id")
	_ = fs.Parse(args)
	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "resume requires --session-id")
		return exitUsage
	}

	var envelope models.SessionEnvelope
	status, apiErr, err := c.postJSON("/api/v1/sessions/"+*sessionID+"/resume", nil, &envelope)
	if err != nil || status != http.StatusOK {
		return c.reportFailure("resume session", status, apiErr, err)
	}

	fmt.Printf("resumed at stage %d (%d checkpoints, %d turns)\n",
		envelope.Session.CurrentStage, len(envelope.Checkpoints), envelope.HistoryLen)
	if envelope.Session.Status.Terminal() {
		fmt.Printf("session is %s; nothing to do\n", envelope.Session.Status)
		return exitOK
	}
	return c.driveInterview(*sessionID, envelope.Session.CurrentStage)
}

// driveInterview executes and advances each remaining stage, answering
// questions from stdin, then generates the charter.
func (c *client) driveInterview(sessionID string, fromStage int) int {
	for stage := fromStage; stage <= models.LastStage; stage++ {
		fmt.Printf("\n— stage %d —\n", stage)

		execDone := make(chan execResult, 1)
		go func() {
			var deliverable models.StageDeliverable
			status, apiErr, err := c.postJSON(
				fmt.Sprintf("/api/v1/sessions/%s/stages/%d/execute", sessionID, stage),
				nil, &deliverable)
			execDone <- execResult{status: status, apiErr: apiErr, err: err}
		}()

		if code := c.answerUntilDone(sessionID, execDone); code != exitOK {
			return code
		}

		var validation models.StageValidation
		status, apiErr, err := c.postJSON(
			fmt.Sprintf("/api/v1/sessions/%s/stages/%d/advance", sessionID, stage),
			nil, &validation)
		if err != nil || (status != http.StatusOK && status != http.StatusUnprocessableEntity) {
			return c.reportFailure("advance stage", status, apiErr, err)
		}
		if !validation.CanProceed {
			fmt.Printf("stage %d blocked (completeness %.2f): missing %s\n",
				stage, validation.Completeness, strings.Join(validation.MissingItems, ", "))
			return exitGateBlocked
		}
		fmt.Printf("stage %d passed its gate\n", stage)
	}

	var charter models.Charter
	status, apiErr, err := c.postJSON("/api/v1/sessions/"+sessionID+"/charter/generate", nil, &charter)
	if err != nil || status != http.StatusCreated {
		return c.reportFailure("generate charter", status, apiErr, err)
	}

	fmt.Printf("\ncharter ready: governance decision %s, feasibility %s\n",
		charter.GovernanceDecision, charter.Feasibility)
	return exitOK
}

type execResult struct {
	status int
	apiErr *api.ErrorResponse
	err    error
}

// answerUntilDone polls for pending questions, prompting on stdin, until
// the stage execution completes.
func (c *client) answerUntilDone(sessionID string, execDone <-chan execResult) int {
	reader := bufio.NewReader(os.Stdin)
	for {
		select {
		case result := <-execDone:
			if result.err != nil || result.status != http.StatusOK {
				return c.reportFailure("execute stage", result.status, result.apiErr, result.err)
			}
			return exitOK
		default:
		}

		var pending api.PendingQuestion
		status, _, err := c.getJSON("/api/v1/sessions/"+sessionID+"/question", &pending)
		if err != nil || status != http.StatusOK {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if pending.RejectReason != "" {
			fmt.Printf("(previous answer rejected: %s)\n", pending.RejectReason)
		}
		fmt.Printf("\n%s\n> ", pending.Question)
		text, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			fmt.Fprintf(os.Stderr, "failed to read answer: %v\n", err)
			return 1
		}

		_, _ = c.postJSONStatus("/api/v1/sessions/"+sessionID+"/answer",
			api.AnswerRequest{TurnID: pending.TurnID, Text: strings.TrimSpace(text)})
	}
}

// cmdStatus prints the session envelope summary.
func (c *client) cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	sessionID := fs.String("session-id", "", "session id")
	_ = fs.Parse(args)
	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "status requires --session-id")
		return exitUsage
	}

	var envelope models.SessionEnvelope
	status, apiErr, err := c.getJSON("/api/v1/sessions/"+*sessionID, &envelope)
	if err != nil || status != http.StatusOK {
		return c.reportFailure("fetch session", status, apiErr, err)
	}

	s := envelope.Session
	fmt.Printf("session:   %s\nproject:   %s\nowner:     %s\nstatus:    %s\nstage:     %d\nturns:     %d\ncheckpoints: %d\n",
		s.ID, s.ProjectName, s.Owner, s.Status, s.CurrentStage, envelope.HistoryLen, len(envelope.Checkpoints))
	if envelope.Charter != nil {
		fmt.Printf("charter:   %s (%s)\n", envelope.Charter.GovernanceDecision, envelope.Charter.Feasibility)
	}
	return exitOK
}

// cmdExport prints the session as JSON or rendered markdown.
func (c *client) cmdExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	sessionID := fs.String("session-id", "", "session id")
	format := fs.String("format", "json", "json or markdown")
	_ = fs.Parse(args)
	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "export requires --session-id")
		return exitUsage
	}

	var envelope models.SessionEnvelope
	status, apiErr, err := c.getJSON("/api/v1/sessions/"+*sessionID, &envelope)
	if err != nil || status != http.StatusOK {
		return c.reportFailure("fetch session", status, apiErr, err)
	}

	switch *format {
	case "json":
		out, err := json.MarshalIndent(envelope, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode session: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
	case "markdown":
		fmt.Print(renderMarkdown(&envelope))
	default:
		fmt.Fprintf(os.Stderr, "unknown format %q\n", *format)
		return exitUsage
	}
	return exitOK
}

// renderMarkdown produces a human-readable session summary.
func renderMarkdown(envelope *models.SessionEnvelope) string {
	var b strings.Builder
	s := envelope.Session
	fmt.Fprintf(&b, "# %s\n\n", s.ProjectName)
	fmt.Fprintf(&b, "- owner: %s\n- status: %s\n- stage: %d/%d\n\n", s.Owner, s.Status, s.CurrentStage, models.CompletedStage)

	for stage := models.FirstStage; stage <= models.LastStage; stage++ {
		d, ok := envelope.Deliverables[stage]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "## Stage %d\n\n", stage)
		raw, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "```json\n%s\n```\n\n", raw)
	}

	if charter := envelope.Charter; charter != nil {
		fmt.Fprintf(&b, "## Charter\n\n- governance decision: %s\n- feasibility: %s\n",
			charter.GovernanceDecision, charter.Feasibility)
		for _, csf := range charter.CriticalSuccessFactors {
			fmt.Fprintf(&b, "- success factor: %s\n", csf)
		}
		for _, risk := range charter.MajorRisks {
			fmt.Fprintf(&b, "- risk: %s\n", risk)
		}
	}
	return b.String()
}

// reportFailure prints the failure and picks the exit code from the
// server's stable error_code. Raw HTTP statuses are too coarse: several
// distinct error codes share 409.
func (c *client) reportFailure(op string, status int, apiErr *api.ErrorResponse, err error) int {
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to %s: %v\n", op, err)
		return 1
	}
	if apiErr != nil && apiErr.ErrorCode != "" {
		fmt.Fprintf(os.Stderr, "failed to %s: %s (%s)\n", op, apiErr.Message, apiErr.ErrorCode)
		switch apiErr.ErrorCode {
		case "not_found":
			return exitNotFound
		case "provider_exhausted":
			return exitProviderExhausted
		case "gate_failed":
			return exitGateBlocked
		case "charter_blocked_inconsistent":
			return exitConsistencyBlocked
		default:
			return 1
		}
	}
	fmt.Fprintf(os.Stderr, "failed to %s: http %d\n", op, status)
	switch status {
	case http.StatusNotFound:
		return exitNotFound
	case http.StatusBadGateway:
		return exitProviderExhausted
	case http.StatusUnprocessableEntity:
		return exitGateBlocked
	default:
		return 1
	}
}

func (c *client) postJSON(path string, body, out any) (int, *api.ErrorResponse, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, nil, err
		}
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", &buf)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	return decodeReply(resp, out)
}

func (c *client) postJSONStatus(path string, body any) (int, error) {
	status, _, err := c.postJSON(path, body, nil)
	return status, err
}

func (c *client) getJSON(path string, out any) (int, *api.ErrorResponse, error) {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	return decodeReply(resp, out)
}

// decodeReply decodes a success body into out. Failure bodies are decoded
// into the error envelope; ones without an error_code (e.g. the 422 gate
// verdict) fall back to out so callers still see the payload.
func decodeReply(resp *http.Response, out any) (int, *api.ErrorResponse, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}

	if resp.StatusCode < 300 {
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return resp.StatusCode, nil, err
			}
		}
		return resp.StatusCode, nil, nil
	}

	var apiErr api.ErrorResponse
	if jsonErr := json.Unmarshal(raw, &apiErr); jsonErr == nil && apiErr.ErrorCode != "" {
		return resp.StatusCode, &apiErr, nil
	}
	if out != nil {
		_ = json.Unmarshal(raw, out)
	}
	return resp.StatusCode, nil, nil
}
