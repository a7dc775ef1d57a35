// Package main provides the medivault-ctl CLI for operating a running
// Medi-Vault backend.
//
// Usage:
//
//	medivault-ctl health [--addr host:port]
//	medivault-ctl files [--addr host:port]
//	medivault-ctl upload --file <path> [--addr host:port]
//	medivault-ctl download --name <filename> [--out <path>] [--addr host:port]
//	medivault-ctl keygen [--hacker] [--addr host:port]
//	medivault-ctl telemetry [--addr host:port]
//	medivault-ctl audit [--limit 50] [--addr host:port]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const defaultAddr = "localhost:8000"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "health":
		runHealth(os.Args[2:])
	case "files":
		runFiles(os.Args[2:])
	case "upload":
		runUpload(os.Args[2:])
	case "download":
		runDownload(os.Args[2:])
	case "keygen":
		runKeygen(os.Args[2:])
	case "telemetry":
		runTelemetry(os.Args[2:])
	case "audit":
		runAudit(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, "medivault-ctl - Medi-Vault admin CLI\n\n")
	fmt.Fprint(os.Stderr, "Usage:\n")
	fmt.Fprint(os.Stderr, "  medivault-ctl <command> [flags]\n\n")
	fmt.Fprint(os.Stderr, "Commands:\n")
	fmt.Fprint(os.Stderr, "  health     Check backend availability\n")
	fmt.Fprint(os.Stderr, "  files      List vault files\n")
	fmt.Fprint(os.Stderr, "  upload     Upload a file (requires a clean key exchange)\n")
	fmt.Fprint(os.Stderr, "  download   Download a file\n")
	fmt.Fprint(os.Stderr, "  keygen     Run a key exchange and watch its progress\n")
	fmt.Fprint(os.Stderr, "  telemetry  Show the current noise trace window\n")
	fmt.Fprint(os.Stderr, "  audit      Show recent gate decisions\n\n")
	fmt.Fprint(os.Stderr, "Use \"medivault-ctl <command> --help\" for more information about a command.\n")
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	return "http://" + addr
}

func runHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Backend address")
	fs.Parse(args)

	var check struct {
		Status string `json:"status"`
		Qubits int    `json:"qubits"`
	}
	if err := getJSON(baseURL(*addr)+"/check", &check); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s (qubits: %d)\n", check.Status, check.Qubits)
}

func runFiles(args []string) {
	fs := flag.NewFlagSet("files", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Backend address")
	fs.Parse(args)

	var files []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		Status     string    `json:"status"`
		UploadedAt time.Time `json:"uploaded_at"`
	}
	if err := getJSON(baseURL(*addr)+"/files", &files); err != nil {
		fmt.Fprintf(os.Stderr, "Listing files failed: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Println("Vault is empty.")
		return
	}

	fmt.Printf("%-40s %12s  %-22s %s\n", "NAME", "SIZE", "STATUS", "UPLOADED")
	for _, f := range files {
		uploaded := ""
		if !f.UploadedAt.IsZero() {
			uploaded = f.UploadedAt.Local().Format(time.RFC3339)
		}
		fmt.Printf("%-40s %12d  %-22s %s\n", f.Name, f.Size, f.Status, uploaded)
	}
}

func runUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Backend address")
	path := fs.String("file", "", "Path of the file to upload (required)")
	fs.Parse(args)

	if *path == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		fs.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Opening %s: %v\n", *path, err)
		os.Exit(1)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fw, err := mw.CreateFormFile("file", filepath.Base(*path))
		if err == nil {
			_, err = io.Copy(fw, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	resp, err := http.Post(baseURL(*addr)+"/upload", mw.FormDataContentType(), pr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		printDenial(resp.Body)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Upload failed (%d): %s\n", resp.StatusCode, body)
		os.Exit(1)
	}

	var result struct {
		Info string `json:"info"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&result)
	fmt.Println(result.Info)
}

func runDownload(args []string) {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Backend address")
	name := fs.String("name", "", "Name of the vault file (required)")
	out := fs.String("out", "", "Output path (defaults to the file name)")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "--name is required")
		fs.Usage()
		os.Exit(1)
	}
	dest := *out
	if dest == "" {
		dest = filepath.Base(*name)
	}

	resp, err := http.Get(baseURL(*addr) + "/download/" + *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Download failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		printDenial(resp.Body)
		os.Exit(1)
	case http.StatusNotFound:
		fmt.Fprintf(os.Stderr, "File %q not found in the vault.\n", *name)
		os.Exit(1)
	default:
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Download failed (%d): %s\n", resp.StatusCode, body)
		os.Exit(1)
	}

	dst, err := os.Create(dest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Creating %s: %v\n", dest, err)
		os.Exit(1)
	}
	defer dst.Close()

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Writing %s: %v\n", dest, err)
		os.Exit(1)
	}
	fmt.Printf("Saved %s (%d bytes)\n", dest, n)
}

func runKeygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Backend address")
	hacker := fs.Bool("hacker", false, "Simulate an eavesdropper on the channel")
	timeout := fs.Duration("timeout", 30*time.Second, "Give up after this long")
	fs.Parse(args)

	url := "ws://" + strings.TrimPrefix(baseURL(*addr), "http://") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connecting to %s: %v\n", url, err)
		os.Exit(1)
	}
	defer conn.Close()

	cmd := map[string]any{"action": "START_KEY_GEN", "hacker": *hacker}
	if err := conn.WriteJSON(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "Sending command: %v\n", err)
		os.Exit(1)
	}

	deadline := time.Now().Add(*timeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg struct {
			Status  string   `json:"status"`
			Message string   `json:"message"`
			Key     string   `json:"key"`
			QBER    *float64 `json:"qber"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			fmt.Fprintf(os.Stderr, "Reading update: %v\n", err)
			os.Exit(1)
		}

		switch msg.Status {
		case "idle":
			// Snapshot sent on connect, nothing to report.
		case "initializing":
			fmt.Println(msg.Message)
		case "busy":
			fmt.Fprintf(os.Stderr, "%s\n", msg.Message)
			os.Exit(1)
		case "error":
			fmt.Fprintf(os.Stderr, "Error: %s\n", msg.Message)
			os.Exit(1)
		case "complete":
			fmt.Println(msg.Message)
			fmt.Printf("Key:  %s\n", msg.Key)
			if msg.QBER != nil {
				fmt.Printf("QBER: %v%%\n", *msg.QBER)
			}
			return
		}
	}
}

func runTelemetry(args []string) {
	fs := flag.NewFlagSet("telemetry", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Backend address")
	fs.Parse(args)

	var body struct {
		AdversaryActive bool `json:"adversary_active"`
		Samples         []struct {
			Timestamp time.Time `json:"ts"`
			Value     float64   `json:"value"`
		} `json:"samples"`
	}
	if err := getJSON(baseURL(*addr)+"/api/v1/telemetry", &body); err != nil {
		fmt.Fprintf(os.Stderr, "Fetching telemetry failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Adversary active: %v\n", body.AdversaryActive)
	for _, s := range body.Samples {
		fmt.Printf("%s  %+8.3f\n", s.Timestamp.Local().Format("15:04:05.000"), s.Value)
	}
}

func runAudit(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Backend address")
	limit := fs.Int("limit", 50, "Number of entries to fetch")
	fs.Parse(args)

	var entries []struct {
		Timestamp time.Time `json:"ts"`
		Operation string    `json:"operation"`
		FileName  string    `json:"file"`
		QBER      float64   `json:"qber"`
		Threshold float64   `json:"threshold"`
		Allowed   bool      `json:"allowed"`
		Reason    string    `json:"reason"`
	}
	url := fmt.Sprintf("%s/api/v1/audit?limit=%d", baseURL(*addr), *limit)
	if err := getJSON(url, &entries); err != nil {
		fmt.Fprintf(os.Stderr, "Fetching audit log failed: %v\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("No gate decisions recorded.")
		return
	}

	fmt.Printf("%-25s %-10s %-30s %8s %6s  %s\n", "TIME", "OPERATION", "FILE", "QBER", "ALLOW", "REASON")
	for _, e := range entries {
		fmt.Printf("%-25s %-10s %-30s %7.2f%% %6v  %s\n",
			e.Timestamp.Local().Format(time.RFC3339),
			e.Operation, e.FileName, e.QBER, e.Allowed, e.Reason)
	}
}

func printDenial(r io.Reader) {
	var denial struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r).Decode(&denial); err != nil || denial.Error == "" {
		fmt.Fprintln(os.Stderr, "Access denied.")
		return
	}
	fmt.Fprintf(os.Stderr, "Access denied: %s (%s)\n", denial.Error, denial.Reason)
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
