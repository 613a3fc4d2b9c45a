package main

import (
	"bytes"
	"os"
	"os/exec"
	"strings"

	"github.com/goyek/goyek/v2"
)

func run(a *goyek.A, name string, args ...string) {
	a.Helper()
	cmd := exec.CommandContext(a.Context(), name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		a.Error(err)
	}
}

var fmtCheck = goyek.Define(goyek.Task{
	Name:  "fmt",
	Usage: "Fail if any file is not gofmt'ed",
	Action: func(a *goyek.A) {
		var out bytes.Buffer
		cmd := exec.CommandContext(a.Context(), "gofmt", "-l", "cmd", "internal", "build")
		cmd.Stdout = &out
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			a.Fatal(err)
		}
		if files := strings.TrimSpace(out.String()); files != "" {
			a.Errorf("files need gofmt:\n%s", files)
		}
	},
})

var vet = goyek.Define(goyek.Task{
	Name:  "vet",
	Usage: "Run go vet on all packages",
	Action: func(a *goyek.A) {
		run(a, "go", "vet", "./...")
	},
})

var test = goyek.Define(goyek.Task{
	Name:  "test",
	Usage: "Run unit tests (skips docker and modal integration tests)",
	Action: func(a *goyek.A) {
		run(a, "go", "test", "-short", "-race", "./...")
	},
})

var integration = goyek.Define(goyek.Task{
	Name:  "integration",
	Usage: "Run all tests including provider integration tests",
	Action: func(a *goyek.A) {
		run(a, "go", "test", "-race", "-timeout", "20m", "./...")
	},
})

var _ = goyek.Define(goyek.Task{
	Name:  "all",
	Usage: "fmt, vet and test",
	Deps:  goyek.Deps{fmtCheck, vet, test},
})

func main() {
	goyek.SetDefault(test)
	goyek.Main(os.Args[1:])
}
