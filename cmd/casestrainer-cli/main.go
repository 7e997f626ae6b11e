package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/casestrainer/internal/common"
	"github.com/ternarybob/casestrainer/internal/models"
	"github.com/ternarybob/casestrainer/internal/services/casename"
	"github.com/ternarybob/casestrainer/internal/services/cluster"
	"github.com/ternarybob/casestrainer/internal/services/extract"
	"github.com/ternarybob/casestrainer/internal/services/isolate"
)

// Exit codes: 0 success, 2 bad input, 3 job failed, 4 server unreachable.
const (
	exitOK          = 0
	exitBadInput    = 2
	exitJobFailed   = 3
	exitUnreachable = 4
)

var (
	serverURL    = flag.String("server", "http://localhost:8080", "CaseStrainer server URL")
	textFlag     = flag.String("text", "", "Document text to analyze")
	fileFlag     = flag.String("file", "", "Path of a document file to analyze")
	urlFlag      = flag.String("url", "", "URL of a document to analyze")
	offline      = flag.Bool("offline", false, "Run extraction and clustering locally, no verification")
	pollInterval = flag.Duration("poll-interval", 2*time.Second, "Status poll interval")
	timeout      = flag.Duration("timeout", 25*time.Minute, "Give up waiting for the job after this long")
	asJSON       = flag.Bool("json", false, "Print the raw result JSON instead of a summary")
	showVersion  = flag.Bool("version", false, "Print version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("CaseStrainer CLI version %s\n", common.GetVersion())
		os.Exit(exitOK)
	}

	text, err := readInput()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitBadInput)
	}

	if *offline {
		os.Exit(runOffline(text))
	}
	os.Exit(runRemote(text))
}

// readInput resolves the document text for text/file submissions. URL
// submissions are fetched server-side, so text stays empty for those.
func readInput() (string, error) {
	set := 0
	for _, v := range []string{*textFlag, *fileFlag, *urlFlag} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return "", fmt.Errorf("exactly one of -text, -file or -url is required")
	}

	switch {
	case *textFlag != "":
		return *textFlag, nil
	case *fileFlag != "":
		data, err := os.ReadFile(*fileFlag)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", *fileFlag, err)
		}
		return string(data), nil
	default:
		if *offline {
			return "", fmt.Errorf("-url cannot be combined with -offline")
		}
		return "", nil
	}
}

// runOffline runs extract, isolate, name and cluster locally. No network,
// no verification; every cluster prints as unverified.
func runOffline(text string) int {
	logger := common.GetLogger()
	extractor, err := extract.NewService(logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitJobFailed
	}

	extraction, err := extractor.Extract(context.Background(), text)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitBadInput
	}

	contexts := isolate.NewService().Isolate(text, extraction)
	namer := casename.NewService()
	names := make([]models.ExtractedName, len(extraction.Occurrences))
	for _, c := range contexts {
		names[c.OccurrenceIndex] = namer.ExtractName(c.Text, c.Forward)
	}
	clusters, excluded := cluster.NewService().Build(text, extraction.Occurrences, names)

	if *asJSON {
		out := map[string]interface{}{
			"citations": extraction.Occurrences,
			"clusters":  clusters,
			"excluded":  excluded,
			"warnings":  extraction.Warnings,
		}
		json.NewEncoder(os.Stdout).Encode(out)
		return exitOK
	}

	fmt.Printf("Citations: %d   Clusters: %d   Statutes excluded: %d\n",
		len(extraction.Occurrences), len(clusters), excluded)
	for i, c := range clusters {
		name := "(unnamed)"
		if c.ExtractedName != nil {
			name = *c.ExtractedName
		}
		cites := make([]string, len(c.Occurrences))
		for j, occ := range c.Occurrences {
			cites[j] = occ.NormalizedText
		}
		fmt.Printf("%3d. %s — %s\n", i+1, name, strings.Join(cites, "; "))
	}
	for _, w := range extraction.Warnings {
		fmt.Println("warning:", w)
	}
	return exitOK
}

// runRemote submits to the server, polls until the job settles and prints
// the result.
func runRemote(text string) int {
	client := &http.Client{Timeout: 60 * time.Second}

	body := map[string]string{}
	if *urlFlag != "" {
		body["type"] = "url"
		body["url"] = *urlFlag
	} else {
		body["type"] = "text"
		body["text"] = text
	}
	raw, _ := json.Marshal(body)

	resp, err := client.Post(*serverURL+"/api/analyze", "application/json", bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: server unreachable:", err)
		return exitUnreachable
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUnreachable
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// Small input completed inline.
		var sync struct {
			Results *models.JobResult `json:"results"`
		}
		if err := json.Unmarshal(payload, &sync); err != nil || sync.Results == nil {
			fmt.Fprintln(os.Stderr, "error: malformed server response")
			return exitUnreachable
		}
		return printResult(sync.Results)
	case resp.StatusCode == http.StatusAccepted:
		var accepted struct {
			JobID string `json:"job_id"`
		}
		if err := json.Unmarshal(payload, &accepted); err != nil || accepted.JobID == "" {
			fmt.Fprintln(os.Stderr, "error: malformed server response")
			return exitUnreachable
		}
		return poll(client, accepted.JobID)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		fmt.Fprintf(os.Stderr, "error: submission rejected (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(payload)))
		return exitBadInput
	default:
		fmt.Fprintf(os.Stderr, "error: server error (%d)\n", resp.StatusCode)
		return exitUnreachable
	}
}

func poll(client *http.Client, jobID string) int {
	deadline := time.Now().Add(*timeout)
	var lastStep string

	for time.Now().Before(deadline) {
		resp, err := client.Get(*serverURL + "/api/task_status/" + jobID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error: server unreachable:", err)
			return exitUnreachable
		}
		payload, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "error: status poll failed (%d)\n", resp.StatusCode)
			return exitUnreachable
		}

		var status struct {
			Status      string            `json:"status"`
			Progress    float64           `json:"progress"`
			CurrentStep string            `json:"current_step"`
			ETASeconds  int               `json:"eta_seconds"`
			Results     *models.JobResult `json:"results"`
			Error       string            `json:"error"`
		}
		if err := json.Unmarshal(payload, &status); err != nil {
			fmt.Fprintln(os.Stderr, "error: malformed status response")
			return exitUnreachable
		}

		if status.CurrentStep != lastStep {
			lastStep = status.CurrentStep
			fmt.Fprintf(os.Stderr, "%-14s %3.0f%%  eta %ds\n", status.CurrentStep, status.Progress, status.ETASeconds)
		}

		switch models.JobStatus(status.Status) {
		case models.JobStatusCompleted:
			return printResult(status.Results)
		case models.JobStatusFailed:
			fmt.Fprintln(os.Stderr, "job failed:", status.Error)
			return exitJobFailed
		case models.JobStatusCancelled:
			fmt.Fprintln(os.Stderr, "job cancelled")
			return exitJobFailed
		}

		time.Sleep(*pollInterval)
	}

	fmt.Fprintln(os.Stderr, "error: timed out waiting for job", jobID)
	return exitJobFailed
}

func printResult(result *models.JobResult) int {
	if result == nil {
		fmt.Fprintln(os.Stderr, "error: completed job carried no result")
		return exitJobFailed
	}

	if *asJSON {
		json.NewEncoder(os.Stdout).Encode(result)
		return exitOK
	}

	m := result.Metadata
	fmt.Printf("Citations: %d   Clusters: %d   Verified: %d   By parallel: %d   Unverified: %d   Failed: %d\n",
		m.Total, m.TotalClusters, m.Verified, m.VerifiedByParallel, m.Unverified, m.Failed)

	for i, c := range result.Clusters {
		name := "(unnamed)"
		if c.CanonicalName != "" {
			name = c.CanonicalName
		} else if c.ExtractedName != nil {
			name = *c.ExtractedName
		}
		cites := make([]string, len(c.Occurrences))
		for j, occ := range c.Occurrences {
			cites[j] = occ.NormalizedText
		}
		fmt.Printf("%3d. [%s] %s — %s\n", i+1, c.VerificationStatus, name, strings.Join(cites, "; "))
	}
	for _, w := range m.Warnings {
		fmt.Println("warning:", w)
	}
	return exitOK
}
