package main

import (
	"github.com/conduit-ci/conduit/cmd"
	"github.com/conduit-ci/conduit/pkg/env"
	"github.com/conduit-ci/conduit/pkg/log"
)

func main() {
	if err := env.Process(); err != nil {
		log.Fatal("environment failure", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal("conduit failure", "error", err)
	}
}
