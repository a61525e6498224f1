package backend

import (
	"fmt"
	"io"
	"os"
	"testing"
	"time"
)

const fakeBackendEnv = "CONICBRIDGE_FAKE_BACKEND"

// TestMain lets the test binary double as a backend executable: when the
// marker variable is set it behaves like the compute core for the mode given
// as its first argument.
func TestMain(m *testing.M) {
	if os.Getenv(fakeBackendEnv) == "1" {
		os.Exit(runFakeBackend(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func runFakeBackend(args []string) int {
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: conicrypt [--conic|--ecc]\n")
		return 1
	}

	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
		return 1
	}

	switch args[0] {
	case "--conic":
		fmt.Println(`{"type":"ellipse","center":[0,0]}`)
	case "--echo":
		os.Stdout.Write(input)
	case "--fail":
		fmt.Fprintf(os.Stderr, "Error: Missing or invalid 'A' parameter\n")
		return 1
	case "--silent-fail":
		return 3
	case "--garbage":
		fmt.Println("Segmentation fault? no, just text")
	case "--empty":
	case "--two-docs":
		fmt.Println(`{"a":1}{"b":2}`)
	case "--flood":
		chunk := make([]byte, 1024)
		for i := range chunk {
			chunk[i] = 'x'
		}
		for i := 0; i < 64; i++ {
			os.Stdout.Write(chunk)
			os.Stderr.Write(chunk)
		}
	case "--sleep":
		time.Sleep(30 * time.Second)
		fmt.Println(`{"late":true}`)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown mode '%s'\n", args[0])
		return 1
	}
	return 0
}

func fakeRunner(timeout time.Duration) *ProcessRunner {
	return NewProcessRunner(timeout).WithEnv(fakeBackendEnv + "=1")
}
