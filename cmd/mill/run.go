package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/joho/godotenv"

	"github.com/laulauland/mill/internal/config"
	"github.com/laulauland/mill/internal/runstore"
	"github.com/laulauland/mill/internal/supervisor"
)

// syncEnvelope is the combined submit envelope printed by run --sync.
type syncEnvelope struct {
	Run    syncRunDoc       `json:"run"`
	Result *runstore.Result `json:"result"`
}

type syncRunDoc struct {
	ID       string          `json:"id"`
	Status   runstore.Status `json:"status"`
	Driver   string          `json:"driver"`
	Executor string          `json:"executor"`
	Paths    runstore.Paths  `json:"paths"`
}

func runRunCmd(args []string, stdout io.Writer, stderr io.Writer) int {
	var programPath string
	var driverTag string
	var executorTag string
	var runsDir string
	var sync bool
	var asJSON bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--sync":
			sync = true
		case "--json":
			asJSON = true
		case "--driver":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--driver requires a value")
				return 1
			}
			driverTag = args[i]
		case "--executor":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--executor requires a value")
				return 1
			}
			executorTag = args[i]
		case "--runs-dir":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--runs-dir requires a value")
				return 1
			}
			runsDir = args[i]
		default:
			if len(args[i]) > 2 && args[i][:2] == "--" {
				fmt.Fprintf(stderr, "unknown arg: %s\n", args[i])
				return 1
			}
			if programPath != "" {
				fmt.Fprintf(stderr, "unexpected arg: %s\n", args[i])
				return 1
			}
			programPath = args[i]
		}
	}
	if programPath == "" {
		usage(stderr)
		return 1
	}

	// Optional .env next to the caller; drivers inherit the environment.
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	sup, err := supervisor.New(cfg, runsDir)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	receipt, err := sup.Submit(programPath, supervisor.SubmitOptions{Driver: driverTag, Executor: executorTag})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if !sync {
		if asJSON {
			return printJSON(stdout, stderr, receipt)
		}
		fmt.Fprintf(stdout, "run_id=%s\n", receipt.RunID)
		fmt.Fprintf(stdout, "status=%s\n", receipt.Status)
		fmt.Fprintf(stdout, "run_dir=%s\n", receipt.Paths.RunDir)
		return 0
	}

	if _, _, err := sup.Wait(context.Background(), receipt.RunID, 0); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	run, err := sup.Store().Load(receipt.RunID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	result, err := sup.Store().LoadResult(receipt.RunID)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if asJSON {
		return printJSON(stdout, stderr, syncEnvelope{
			Run: syncRunDoc{
				ID:       run.ID,
				Status:   run.Status,
				Driver:   run.Driver,
				Executor: run.Executor,
				Paths:    run.Paths,
			},
			Result: result,
		})
	}
	fmt.Fprintf(stdout, "run_id=%s\n", run.ID)
	fmt.Fprintf(stdout, "status=%s\n", run.Status)
	fmt.Fprintf(stdout, "spawns=%d\n", len(result.Spawns))
	if result.ErrorMessage != "" {
		fmt.Fprintf(stdout, "error=%s\n", result.ErrorMessage)
	}
	return 0
}

// printJSON emits one complete JSON document per line.
func printJSON(stdout io.Writer, stderr io.Writer, v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, string(b))
	return 0
}
