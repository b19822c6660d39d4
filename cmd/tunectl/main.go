package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	apiclient "github.com/evanshlom/AwsAiProd/pkg/api/client"
	jwtpkg "github.com/evanshlom/AwsAiProd/pkg/jwt"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

type promptList []string

func (p *promptList) String() string { return strings.Join(*p, ", ") }

func (p *promptList) Set(v string) error {
	*p = append(*p, v)
	return nil
}

var buildVersion = "dev"

const defaultAPIBase = "http://localhost:4000"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "token":
		err = commandToken(args)
	case "chat":
		err = commandChat(args)
	case "validate":
		err = commandValidate(args)
	case "start":
		err = commandStart(args)
	case "status":
		err = commandStatus(args)
	case "evaluate":
		err = commandEvaluate(args)
	case "deploy":
		err = commandDeploy(args)
	case "runs":
		err = commandRuns(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	operator := fs.String("operator", "", "Operator name recorded in the token")
	ttl := fs.Duration("ttl", 12*time.Hour, "Token lifetime")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4000)")
	fs.Parse(args)

	if strings.TrimSpace(*operator) == "" {
		return errors.New("--operator is required")
	}
	secret := strings.TrimSpace(os.Getenv("OPERATOR_JWT_SECRET"))
	if secret == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("OPERATOR_JWT_SECRET is not set")
		}
		fmt.Print("Operator secret: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		secret = strings.TrimSpace(string(raw))
	}
	token, err := jwtpkg.GenerateToken(*operator, secret, *ttl)
	if err != nil {
		return err
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	}
	cfg.AccessToken = token
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("operator token saved (expires %s)\n", time.Now().Add(*ttl).Format(time.RFC3339))
	return nil
}

func commandChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	session := fs.String("session", "", "Session id to continue (a new one is generated by default)")
	resume := fs.Bool("resume", false, "Load the stored history of --session before chatting")
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := apiclient.New(cfg.APIBaseURL, apiclient.WithTimeout(2*time.Minute))
	if err != nil {
		return err
	}
	sessionID := strings.TrimSpace(*session)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var history []apiclient.Message
	if *resume {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		stored, err := client.History(ctx, sessionID)
		cancel()
		if err != nil {
			return err
		}
		for _, m := range stored {
			history = append(history, apiclient.Message{Role: m.Role, Content: m.Content})
		}
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Printf("session %s (%d earlier messages); Ctrl-D to quit\n", sessionID, len(history))
	}
	reader := bufio.NewReader(os.Stdin)
	for {
		if interactive {
			fmt.Print("> ")
		}
		line, err := reader.ReadString('\n')
		prompt := strings.TrimSpace(line)
		if prompt != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			answer, chatErr := client.Chat(ctx, apiclient.ChatRequest{Prompt: prompt, History: history, SessionID: sessionID})
			cancel()
			if chatErr != nil {
				return chatErr
			}
			fmt.Println(answer)
			history = append(history,
				apiclient.Message{Role: "user", Content: prompt},
				apiclient.Message{Role: "assistant", Content: answer},
			)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func commandValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	bucket := fs.String("bucket", "", "Bucket holding the training data")
	key := fs.String("key", "train.jsonl", "Object key")
	fs.Parse(args)

	if strings.TrimSpace(*bucket) == "" {
		return errors.New("--bucket is required")
	}
	client, token, err := operatorClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := client.ValidateData(ctx, token, *bucket, *key)
	if err != nil {
		return err
	}
	fmt.Println(report.Message)
	for _, e := range report.Errors {
		fmt.Printf("  %s\n", e)
	}
	if !report.Valid {
		return fmt.Errorf("%d line(s) failed validation", report.TotalErrors)
	}
	return nil
}

func commandStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	account := fs.String("account", "", "AWS account id (defaults to the server configuration)")
	timestamp := fs.String("timestamp", "", "ISO timestamp used to name the job")
	baseModel := fs.String("base-model", "", "Base model id override")
	validation := fs.Bool("validation", false, "Use eval.jsonl as validation data")
	fs.Parse(args)

	client, token, err := operatorClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	job, err := client.StartJob(ctx, token, apiclient.StartJobInput{
		AccountID:         *account,
		Timestamp:         *timestamp,
		BaseModelID:       *baseModel,
		IncludeValidation: *validation,
	})
	if err != nil {
		return err
	}
	fmt.Printf("job started: %s\n%s\tmodel=%s\n", job.JobName, job.JobArn, job.CustomModelName)
	return nil
}

func commandStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jobArn := fs.String("job", "", "Job ARN or name")
	watch := fs.Duration("watch", 0, "Poll interval until the job finishes (0 prints once)")
	fs.Parse(args)

	if strings.TrimSpace(*jobArn) == "" {
		return errors.New("--job is required")
	}
	client, token, err := operatorClient(0)
	if err != nil {
		return err
	}
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		status, err := client.JobStatus(ctx, token, *jobArn)
		cancel()
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%s\t%s", time.Now().Format(time.TimeOnly), status.Status)
		if status.CustomModelArn != "" {
			line += "\t" + status.CustomModelArn
		}
		if status.FailureMessage != "" {
			line += "\t" + status.FailureMessage
		}
		fmt.Println(line)
		if *watch <= 0 || status.Status == "COMPLETED" || status.Status == "FAILED" {
			return nil
		}
		time.Sleep(*watch)
	}
}

func commandEvaluate(args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	model := fs.String("model", "", "Model id or ARN to evaluate")
	var prompts promptList
	fs.Var(&prompts, "prompt", "Test prompt (repeatable; defaults to the server battery)")
	fs.Parse(args)

	if strings.TrimSpace(*model) == "" {
		return errors.New("--model is required")
	}
	client, token, err := operatorClient(5 * time.Minute)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := client.Evaluate(ctx, token, *model, prompts)
	if err != nil {
		return err
	}
	for _, r := range result.Results {
		mark := "-"
		if r.Relevant {
			mark = "+"
		}
		fmt.Printf("%s %s [%s]\n", mark, r.Prompt, r.Status)
	}
	fmt.Printf("score %s passed=%t\n", result.Score, result.Passed)
	return nil
}

func commandDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	model := fs.String("model", "", "Model id the deployment should serve")
	mode := fs.String("mode", "DEPLOY", "DEPLOY or UPDATE_MODEL")
	timeout := fs.Duration("timeout", 30*time.Minute, "Maximum time to wait for the reconcile")
	fs.Parse(args)

	if strings.TrimSpace(*model) == "" {
		return errors.New("--model is required")
	}
	client, token, err := operatorClient(-1)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Printf("reconciling deployment to %s...\n", *model)
	result, err := client.Deploy(ctx, token, *model, *mode)
	if err != nil {
		return err
	}
	fmt.Printf("deployment %s is %s (run %s, self-heals %d)\n", result.Deployment, result.Status, result.RunID, result.SelfHeals)
	for k, v := range result.Outputs {
		fmt.Printf("  %s=%s\n", k, v)
	}
	return nil
}

func commandRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 10, "Maximum number of runs")
	fs.Parse(args)

	client, token, err := operatorClient(0)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	runs, err := client.ListRuns(ctx, token, *limit)
	if err != nil {
		return err
	}
	for _, run := range runs {
		outcome := run.Status
		if run.Reason != "" {
			outcome += "/" + run.Reason
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", run.ID, outcome, run.ModelID, run.StartedAt.Format(time.RFC3339))
	}
	return nil
}

// operatorClient loads the saved token. timeout 0 keeps the client default; a negative
// timeout disables the per-request limit.
func operatorClient(timeout time.Duration) (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, "", errors.New("no operator token; run 'tunectl token --operator <name>' first")
	}
	var opts []apiclient.Option
	switch {
	case timeout < 0:
		opts = append(opts, apiclient.WithTimeout(0))
	case timeout > 0:
		opts = append(opts, apiclient.WithTimeout(timeout))
	}
	client, err := apiclient.New(cfg.APIBaseURL, opts...)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: apiBaseFromEnv()}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = apiBaseFromEnv()
	}
	return cfg, nil
}

func apiBaseFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("TUNER_API_URL")); v != "" {
		return v
	}
	return defaultAPIBase
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "tunectl", "config.json"), nil
}

func printUsage() {
	fmt.Printf("tunectl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	tunectl token --operator <name> [--ttl 12h] [--api http://localhost:4000]
	tunectl chat [--session <id>] [--resume]
	tunectl validate --bucket <bucket> [--key train.jsonl]
	tunectl start [--account <id>] [--timestamp <iso>] [--base-model <id>] [--validation]
	tunectl status --job <arn-or-name> [--watch 30s]
	tunectl evaluate --model <id> [--prompt "..."]...
	tunectl deploy --model <id> [--mode DEPLOY|UPDATE_MODEL] [--timeout 30m]
	tunectl runs [--limit N]
	tunectl version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
