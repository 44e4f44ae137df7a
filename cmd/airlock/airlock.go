package main

import (
	"errors"
	"fmt"
	"os"

	"kubegems.io/airlock/cmd/airlock/app"
)

const ErrExitCode = 1

func main() {
	if err := app.NewAirlockCmd().Execute(); err != nil {
		var exit app.ExitError
		if errors.As(err, &exit) {
			os.Exit(int(exit))
		}
		fmt.Println(err.Error())
		os.Exit(ErrExitCode)
	}
}
