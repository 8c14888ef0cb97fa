package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/flowtap/flowtap/cmd/flowtap/cmd"
	"github.com/flowtap/flowtap/pkg/conf"
)

func main() {
	if err := cmd.Execute(); err != nil {
		code := conf.ExitConfigInvalid
		var exitErr *conf.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		}
		slog.Default().Error("flowtap terminated with an error", "error", err)
		os.Exit(code)
	}
}
