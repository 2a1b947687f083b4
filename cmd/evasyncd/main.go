package main

import (
	"flag"

	"github.com/helgasoul/eva-sync/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "default", "profile name")
	flag.Parse()

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: *profileFlag}),
	)

	app.Run()
}
